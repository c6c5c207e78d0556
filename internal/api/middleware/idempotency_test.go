package middleware

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ETAnderson/productimporter/internal/api/auth"
	"github.com/ETAnderson/productimporter/internal/api/operatorctx"
	"github.com/ETAnderson/productimporter/internal/state"
)

func countingHandler(calls *int, status int, body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	})
}

func post(mw http.Handler, path string, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(`{}`))
	if key != "" {
		req.Header.Set(IdempotencyHeaderKey, key)
	}
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)
	return rec
}

func TestIdempotencyMiddleware_ReplaysCachedResponse(t *testing.T) {
	calls := 0
	mw := IdempotencyMiddleware{
		Store: state.NewMemoryStore(),
		Next:  countingHandler(&calls, http.StatusAccepted, `{"session_id":"s1"}`),
	}

	rec1 := post(mw, "/v1/imports", "abc123")
	rec2 := post(mw, "/v1/imports", "abc123")

	assert.Equal(t, 1, calls)
	assert.Equal(t, http.StatusAccepted, rec2.Code)
	assert.Equal(t, rec1.Body.String(), rec2.Body.String())
	assert.Equal(t, "true", rec2.Header().Get("Idempotent-Replayed"))
}

func TestIdempotencyMiddleware_KeyScopedToPath(t *testing.T) {
	calls := 0
	mw := IdempotencyMiddleware{
		Store: state.NewMemoryStore(),
		Next:  countingHandler(&calls, http.StatusOK, `{}`),
	}

	post(mw, "/v1/imports", "k")
	post(mw, "/v1/products", "k")
	assert.Equal(t, 2, calls)
}

func TestIdempotencyMiddleware_PassThrough(t *testing.T) {
	calls := 0
	mw := IdempotencyMiddleware{
		Store: state.NewMemoryStore(),
		Next:  countingHandler(&calls, http.StatusOK, `{}`),
	}

	post(mw, "/v1/imports", "")
	post(mw, "/v1/imports", "")

	req := httptest.NewRequest(http.MethodGet, "/v1/imports", nil)
	req.Header.Set(IdempotencyHeaderKey, "k")
	mw.ServeHTTP(httptest.NewRecorder(), req)
	mw.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, 4, calls)
}

func TestIdempotencyMiddleware_DoesNotCacheServerErrors(t *testing.T) {
	calls := 0
	mw := IdempotencyMiddleware{
		Store: state.NewMemoryStore(),
		Next:  countingHandler(&calls, http.StatusInternalServerError, `{"error":"boom"}`),
	}

	post(mw, "/v1/imports", "k")
	post(mw, "/v1/imports", "k")
	assert.Equal(t, 2, calls)
}

func TestIdempotencyMiddleware_ExpiredEntryIsIgnored(t *testing.T) {
	store := state.NewMemoryStore()
	err := store.PutIdempotency(context.Background(), scopedEndpoint(operatorctx.Anonymous, http.MethodPost, "/v1/imports"), state.HashIdempotencyKey("k"), state.IdempotencyRecord{
		StatusCode: http.StatusAccepted,
		BodyJSON:   []byte(`{"session_id":"old"}`),
		CreatedAt:  time.Now().Add(-48 * time.Hour),
		ExpiresAt:  time.Now().Add(-24 * time.Hour),
	})
	require.NoError(t, err)

	calls := 0
	mw := IdempotencyMiddleware{
		Store: store,
		Next:  countingHandler(&calls, http.StatusAccepted, `{"session_id":"new"}`),
	}

	rec := post(mw, "/v1/imports", "k")
	assert.Equal(t, 1, calls)
	assert.Contains(t, rec.Body.String(), "new")
}

func TestIdempotencyMiddleware_KeyScopedToOperator(t *testing.T) {
	priv := newKey(t)

	calls := 0
	h := AuthMiddleware{
		Required:  true,
		PublicKey: &priv.PublicKey,
		Next: IdempotencyMiddleware{
			Store: state.NewMemoryStore(),
			Next: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls++
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.WriteHeader(http.StatusAccepted)
				_, _ = w.Write([]byte(`{"operator":"` + operatorctx.Operator(r.Context()) + `"}`))
			}),
		},
	}

	send := func(subject string) *httptest.ResponseRecorder {
		token, err := auth.SignRS256(priv, subject, "", 10*time.Minute)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost, "/v1/imports", bytes.NewBufferString(`{}`))
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set(IdempotencyHeaderKey, "shared-key")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	first := send("ops-1")
	replay := send("ops-1")
	other := send("ops-2")

	assert.Equal(t, 2, calls)
	assert.Equal(t, first.Body.String(), replay.Body.String())
	assert.Equal(t, "true", replay.Header().Get("Idempotent-Replayed"))

	assert.Equal(t, http.StatusAccepted, other.Code)
	assert.Empty(t, other.Header().Get("Idempotent-Replayed"))
	assert.Contains(t, other.Body.String(), "ops-2")
}
