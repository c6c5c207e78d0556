package ingest

import (
	"errors"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ETAnderson/productimporter/internal/domain"
)

// validateRow turns raw column values into a ValidRow, or a RowError naming
// every failing field.
func validateRow(row int, sku, name, price, description string) Item {
	p := domain.Product{
		SKU:         sku,
		Name:        name,
		Description: description,
		Active:      true,
	}.Normalize()

	issues := map[string]string{}

	price = strings.TrimSpace(price)
	switch d, err := decimal.NewFromString(price); {
	case price == "":
		issues[ColumnPrice] = "is required"
	case err != nil:
		issues[ColumnPrice] = "must be a number, got " + quote(price)
	default:
		p.Price = d
	}

	if err := domain.ValidateProduct(p); err != nil {
		var ve *domain.ValidationError
		if !errors.As(err, &ve) {
			return RowError{Row: row, Reason: err.Error()}
		}
		for field, reason := range ve.Fields {
			if _, seen := issues[field]; !seen {
				issues[field] = reason
			}
		}
	}

	if len(issues) > 0 {
		return RowError{Row: row, Reason: joinIssues(issues)}
	}
	return ValidRow{Row: row, Product: p}
}

func joinIssues(issues map[string]string) string {
	fields := make([]string, 0, len(issues))
	for f := range issues {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f+" "+issues[f])
	}
	return strings.Join(parts, "; ")
}

func quote(v string) string {
	if len(v) > 32 {
		v = v[:32] + "..."
	}
	return "'" + v + "'"
}
