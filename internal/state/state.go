package state

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/ETAnderson/productimporter/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a create would collide with an existing SKU.
	ErrConflict = errors.New("conflict")
)

const DefaultPageSize = 50

type Page struct {
	Number int // 1-based
	Size   int
}

func (p Page) normalized() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size <= 0 {
		p.Size = DefaultPageSize
	}
	return p
}

func (p Page) Offset() int {
	p = p.normalized()
	return (p.Number - 1) * p.Size
}

type ProductPage struct {
	Items []domain.Product `json:"items"`
	Total int              `json:"total"`
	Page  int              `json:"page"`
	Size  int              `json:"page_size"`
}

type RecordStore interface {
	// UpsertProducts writes the batch atomically. Rows whose SKU already exists
	// overwrite the stored values; the rest are inserted.
	UpsertProducts(ctx context.Context, products []domain.Product) error

	CreateProduct(ctx context.Context, p domain.Product) (domain.Product, error)
	UpdateProduct(ctx context.Context, p domain.Product) (domain.Product, error)
	GetProduct(ctx context.Context, id int64) (domain.Product, error)
	GetProductBySKU(ctx context.Context, sku string) (domain.Product, error)
	DeleteProduct(ctx context.Context, id int64) (domain.Product, error)
	DeleteProducts(ctx context.Context, ids []int64) (int, error)
	DeleteAllProducts(ctx context.Context) (int, error)
	ListProducts(ctx context.Context, page Page) (ProductPage, error)
	CountProducts(ctx context.Context) (domain.ProductCounts, error)

	Ping(ctx context.Context) error
}

type SessionStore interface {
	SaveSession(ctx context.Context, s domain.ImportSession) error
	GetSession(ctx context.Context, id string) (domain.ImportSession, error)
	ListSessions(ctx context.Context, limit int) ([]domain.ImportSession, error)
}

type SubscriptionStore interface {
	CreateSubscription(ctx context.Context, s domain.Subscription) (domain.Subscription, error)
	UpdateSubscription(ctx context.Context, s domain.Subscription) (domain.Subscription, error)
	DeleteSubscription(ctx context.Context, id string) error
	GetSubscription(ctx context.Context, id string) (domain.Subscription, error)
	ListSubscriptions(ctx context.Context) ([]domain.Subscription, error)
	ListActiveSubscriptions(ctx context.Context, eventType domain.EventType) ([]domain.Subscription, error)
	RecordTestOutcome(ctx context.Context, id string, out domain.TestOutcome) error
}

type IdempotencyRecord struct {
	StatusCode int
	BodyJSON   []byte
	ExpiresAt  time.Time
	CreatedAt  time.Time
}

type IdempotencyStore interface {
	GetIdempotency(ctx context.Context, endpoint string, idemKeyHash string) (IdempotencyRecord, bool, error)
	PutIdempotency(ctx context.Context, endpoint string, idemKeyHash string, rec IdempotencyRecord) error
}

type Store interface {
	RecordStore
	SessionStore
	SubscriptionStore
	IdempotencyStore
}

// HashIdempotencyKey hashes client supplied keys so they are never stored raw.
func HashIdempotencyKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
