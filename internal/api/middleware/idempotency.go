package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ETAnderson/productimporter/internal/api/operatorctx"
	"github.com/ETAnderson/productimporter/internal/logging"
	"github.com/ETAnderson/productimporter/internal/state"
)

// HTTP header used for idempotent requests
const IdempotencyHeaderKey = "Idempotency-Key"

const DefaultIdempotencyTTL = 24 * time.Hour

// IdempotencyMiddleware replays the stored response for a repeated
// Idempotency-Key on the same path by the same operator, so a retried upload
// returns the session it already created instead of starting another import.
// It must run inside AuthMiddleware.
type IdempotencyMiddleware struct {
	Store state.IdempotencyStore
	TTL   time.Duration
	Log   *logrus.Entry
	Next  http.Handler
}

func (m IdempotencyMiddleware) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if m.Next == nil || m.Store == nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		m.Next.ServeHTTP(w, r)
		return
	}

	idemKey := strings.TrimSpace(r.Header.Get(IdempotencyHeaderKey))
	if idemKey == "" {
		m.Next.ServeHTTP(w, r)
		return
	}

	endpoint := scopedEndpoint(operatorctx.Operator(r.Context()), r.Method, r.URL.Path)
	keyHash := state.HashIdempotencyKey(idemKey)

	rec, ok, err := m.Store.GetIdempotency(r.Context(), endpoint, keyHash)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"idempotency_lookup_failed"}`))
		return
	}

	if ok && time.Now().UTC().Before(rec.ExpiresAt) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Idempotent-Replayed", "true")

		status := rec.StatusCode
		if status == 0 {
			status = http.StatusOK
		}

		w.WriteHeader(status)
		_, _ = w.Write(rec.BodyJSON)
		return
	}

	rr := httptest.NewRecorder()
	m.Next.ServeHTTP(rr, r)

	for k, vals := range rr.Header() {
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}

	status := rr.Code
	if status == 0 {
		status = http.StatusOK
	}

	w.WriteHeader(status)
	_, _ = w.Write(rr.Body.Bytes())

	// Server errors are left uncached so the client can retry them.
	if status >= http.StatusInternalServerError {
		return
	}

	ttl := m.TTL
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	now := time.Now().UTC()
	respRec := state.IdempotencyRecord{
		StatusCode: status,
		BodyJSON:   rr.Body.Bytes(),
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}

	if err := m.Store.PutIdempotency(r.Context(), endpoint, keyHash, respRec); err != nil {
		logging.OrDiscard(m.Log).WithError(err).WithField("endpoint", endpoint).Warn("failed to cache idempotent response")
	}
}

// scopedEndpoint keys cached responses by operator so two callers reusing a
// key never see each other's response.
func scopedEndpoint(operator, method, path string) string {
	return operator + " " + method + " " + strings.TrimSpace(path)
}
