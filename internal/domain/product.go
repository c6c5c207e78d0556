package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	MaxSKULength  = 64
	MaxNameLength = 255

	// PriceScale is the number of decimal places a price may carry.
	PriceScale = 2
	// PricePrecision is the total number of digits a price may carry (DECIMAL(10,2)).
	PricePrecision = 10
)

type Product struct {
	ID int64 `json:"id" db:"id"`

	SKU         string          `json:"sku" db:"sku" validate:"required,max=64"`
	Name        string          `json:"name" db:"name" validate:"required,max=255"`
	Price       decimal.Decimal `json:"price" db:"price" validate:"price"`
	Description string          `json:"description" db:"description"`
	Active      bool            `json:"active" db:"active"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// NormalizeSKU trims and upper-cases a SKU. Every write path stores the
// normalized form so uniqueness holds case-insensitively.
func NormalizeSKU(sku string) string {
	return strings.ToUpper(strings.TrimSpace(sku))
}

// Normalize returns a copy with trimmed text fields and a normalized SKU.
func (p Product) Normalize() Product {
	p.SKU = NormalizeSKU(p.SKU)
	p.Name = strings.TrimSpace(p.Name)
	p.Description = strings.TrimSpace(p.Description)
	return p
}

// ValidPrice reports whether d fits the stored price column: non-negative,
// at most PriceScale decimals and PricePrecision digits overall.
func ValidPrice(d decimal.Decimal) bool {
	if d.IsNegative() {
		return false
	}
	if !d.Round(PriceScale).Equal(d) {
		return false
	}
	limit := decimal.New(1, PricePrecision-PriceScale)
	return d.LessThan(limit)
}

// ProductCounts is the summary shown next to product listings.
type ProductCounts struct {
	Total    int `json:"total"`
	Active   int `json:"active"`
	Inactive int `json:"inactive"`
}
