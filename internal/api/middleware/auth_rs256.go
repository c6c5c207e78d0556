package middleware

import (
	"crypto/rsa"
	"net/http"
	"strings"

	"github.com/ETAnderson/productimporter/internal/api/auth"
	"github.com/ETAnderson/productimporter/internal/api/operatorctx"
)

// AuthMiddleware validates RS256 bearer tokens. With Required unset, requests
// without an Authorization header pass through as the anonymous operator; a
// header that is present must still carry a valid token.
type AuthMiddleware struct {
	Required  bool
	PublicKey *rsa.PublicKey
	Next      http.Handler
}

func (m AuthMiddleware) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if m.Next == nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if authz == "" && !m.Required {
		m.Next.ServeHTTP(w, r)
		return
	}

	if !strings.HasPrefix(authz, "Bearer ") {
		unauthorized(w, "missing bearer token")
		return
	}

	tokenString := strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))
	if tokenString == "" {
		unauthorized(w, "empty bearer token")
		return
	}

	claims, err := auth.ParseAndValidateRS256(tokenString, m.PublicKey)
	if err != nil {
		unauthorized(w, "invalid token")
		return
	}

	ctx := operatorctx.WithOperator(r.Context(), claims.Subject)
	m.Next.ServeHTTP(w, r.WithContext(ctx))
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","message":"` + msg + `"}`))
}
