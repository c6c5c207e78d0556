package state

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ETAnderson/productimporter/internal/domain"
)

func product(sku, name, price string) domain.Product {
	return domain.Product{SKU: sku, Name: name, Price: decimal.RequireFromString(price), Active: true}
}

// runStoreContract exercises behaviour every Store implementation must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("upsert collapses SKUs case-insensitively", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.UpsertProducts(ctx, []domain.Product{product("SKU-1", "A", "1.00")}))
		require.NoError(t, s.UpsertProducts(ctx, []domain.Product{product("sku-1", "B", "2.00")}))

		p, err := s.GetProductBySKU(ctx, "Sku-1")
		require.NoError(t, err)
		assert.Equal(t, "SKU-1", p.SKU)
		assert.Equal(t, "B", p.Name)
		assert.True(t, p.Price.Equal(decimal.RequireFromString("2.00")))

		counts, err := s.CountProducts(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, counts.Total)
	})

	t.Run("create conflicts on existing SKU", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		created, err := s.CreateProduct(ctx, product("abc", "Mug", "4.20"))
		require.NoError(t, err)
		assert.NotZero(t, created.ID)
		assert.Equal(t, "ABC", created.SKU)
		assert.False(t, created.CreatedAt.IsZero())

		_, err = s.CreateProduct(ctx, product("ABC", "Other", "1.00"))
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("update and delete", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		a, err := s.CreateProduct(ctx, product("A", "a", "1"))
		require.NoError(t, err)
		_, err = s.CreateProduct(ctx, product("B", "b", "1"))
		require.NoError(t, err)

		a.Name = "renamed"
		a.Active = false
		updated, err := s.UpdateProduct(ctx, a)
		require.NoError(t, err)
		assert.Equal(t, "renamed", updated.Name)
		assert.False(t, updated.Active)

		a.SKU = "b"
		_, err = s.UpdateProduct(ctx, a)
		assert.ErrorIs(t, err, ErrConflict)

		_, err = s.UpdateProduct(ctx, domain.Product{ID: 999, SKU: "Z", Name: "z"})
		assert.ErrorIs(t, err, ErrNotFound)

		counts, err := s.CountProducts(ctx)
		require.NoError(t, err)
		assert.Equal(t, domain.ProductCounts{Total: 2, Active: 1, Inactive: 1}, counts)

		deleted, err := s.DeleteProduct(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, "A", deleted.SKU)

		_, err = s.GetProduct(ctx, a.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("bulk deletes", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.UpsertProducts(ctx, []domain.Product{
			product("A", "a", "1"), product("B", "b", "1"), product("C", "c", "1"),
		}))
		a, err := s.GetProductBySKU(ctx, "A")
		require.NoError(t, err)
		b, err := s.GetProductBySKU(ctx, "B")
		require.NoError(t, err)

		n, err := s.DeleteProducts(ctx, []int64{a.ID, b.ID, 12345})
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		n, err = s.DeleteAllProducts(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("list pages newest first", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for _, sku := range []string{"A", "B", "C"} {
			_, err := s.CreateProduct(ctx, product(sku, sku, "1"))
			require.NoError(t, err)
			time.Sleep(2 * time.Millisecond)
		}

		page, err := s.ListProducts(ctx, Page{Number: 1, Size: 2})
		require.NoError(t, err)
		assert.Equal(t, 3, page.Total)
		require.Len(t, page.Items, 2)
		assert.Equal(t, "C", page.Items[0].SKU)
		assert.Equal(t, "B", page.Items[1].SKU)

		page, err = s.ListProducts(ctx, Page{Number: 2, Size: 2})
		require.NoError(t, err)
		require.Len(t, page.Items, 1)
		assert.Equal(t, "A", page.Items[0].SKU)

		page, err = s.ListProducts(ctx, Page{Number: 9, Size: 2})
		require.NoError(t, err)
		assert.Empty(t, page.Items)
	})

	t.Run("sessions round trip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		started := time.Now().UTC().Truncate(time.Microsecond)
		sess := domain.ImportSession{
			ID:            uuid.NewString(),
			Filename:      "products.csv",
			TotalRows:     10,
			ProcessedRows: 4,
			SuccessCount:  3,
			ErrorCount:    1,
			Status:        domain.ImportStatusUpserting,
			Errors:        []domain.RowError{{Row: 3, Reason: "price: must not be negative"}},
			StartedAt:     &started,
			CreatedAt:     started,
			UpdatedAt:     started,
		}
		require.NoError(t, s.SaveSession(ctx, sess))

		sess.ProcessedRows = 10
		sess.SuccessCount = 9
		sess.Status = domain.ImportStatusCompleted
		require.NoError(t, s.SaveSession(ctx, sess))

		got, err := s.GetSession(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.ImportStatusCompleted, got.Status)
		assert.Equal(t, 10, got.ProcessedRows)
		assert.Equal(t, sess.Errors, got.Errors)
		require.NotNil(t, got.StartedAt)
		assert.True(t, got.StartedAt.Equal(started))

		list, err := s.ListSessions(ctx, 10)
		require.NoError(t, err)
		assert.Len(t, list, 1)

		_, err = s.GetSession(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("subscriptions filter by event and active flag", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		on, err := s.CreateSubscription(ctx, domain.Subscription{
			Name: "on", URL: "http://a.example", EventType: domain.EventBulkImportCompleted, Active: true, Secret: "s3cret",
		})
		require.NoError(t, err)
		assert.NotEmpty(t, on.ID)

		_, err = s.CreateSubscription(ctx, domain.Subscription{
			Name: "off", URL: "http://b.example", EventType: domain.EventBulkImportCompleted, Active: false,
		})
		require.NoError(t, err)
		_, err = s.CreateSubscription(ctx, domain.Subscription{
			Name: "other", URL: "http://c.example", EventType: domain.EventRecordCreated, Active: true,
		})
		require.NoError(t, err)

		active, err := s.ListActiveSubscriptions(ctx, domain.EventBulkImportCompleted)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, on.ID, active[0].ID)
		assert.Equal(t, "s3cret", active[0].Secret)

		all, err := s.ListSubscriptions(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 3)

		on.Active = false
		_, err = s.UpdateSubscription(ctx, on)
		require.NoError(t, err)
		active, err = s.ListActiveSubscriptions(ctx, domain.EventBulkImportCompleted)
		require.NoError(t, err)
		assert.Empty(t, active)

		require.NoError(t, s.DeleteSubscription(ctx, on.ID))
		assert.ErrorIs(t, s.DeleteSubscription(ctx, on.ID), ErrNotFound)
	})

	t.Run("test outcome is recorded", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		sub, err := s.CreateSubscription(ctx, domain.Subscription{
			Name: "hook", URL: "http://a.example", EventType: domain.EventRecordDeleted, Active: true,
		})
		require.NoError(t, err)

		tested := time.Now().UTC().Truncate(time.Microsecond)
		err = s.RecordTestOutcome(ctx, sub.ID, domain.TestOutcome{
			StatusCode: 503, Latency: 120 * time.Millisecond, Success: false, Error: "unexpected status 503", TestedAt: tested,
		})
		require.NoError(t, err)

		got, err := s.GetSubscription(ctx, sub.ID)
		require.NoError(t, err)
		require.NotNil(t, got.LastStatusCode)
		assert.Equal(t, 503, *got.LastStatusCode)
		require.NotNil(t, got.LastLatencyMs)
		assert.Equal(t, int64(120), *got.LastLatencyMs)
		require.NotNil(t, got.LastSuccess)
		assert.False(t, *got.LastSuccess)
		require.NotNil(t, got.LastError)
		assert.Contains(t, *got.LastError, "503")
		require.NotNil(t, got.LastTestedAt)
		assert.True(t, got.LastTestedAt.Equal(tested))

		assert.ErrorIs(t, s.RecordTestOutcome(ctx, "missing", domain.TestOutcome{}), ErrNotFound)
	})

	t.Run("idempotency replay", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		now := time.Now().UTC().Truncate(time.Microsecond)
		key := HashIdempotencyKey("upload-1")
		require.NoError(t, s.PutIdempotency(ctx, "POST /v1/imports", key, IdempotencyRecord{
			StatusCode: 202, BodyJSON: []byte(`{"session_id":"x"}`), CreatedAt: now, ExpiresAt: now.Add(time.Hour),
		}))

		rec, ok, err := s.GetIdempotency(ctx, "POST /v1/imports", key)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, 202, rec.StatusCode)
		assert.JSONEq(t, `{"session_id":"x"}`, string(rec.BodyJSON))

		_, ok, err = s.GetIdempotency(ctx, "POST /v1/other", key)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}
