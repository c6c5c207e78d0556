package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const Issuer = "productimporter"

type Claims struct {
	Scope string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// LoadRSAPublicKeyFromEnv reads a PEM public key from an env var.
// It supports either a normal multi-line PEM, or a single-line PEM with \n escapes.
func LoadRSAPublicKeyFromEnv(envKey string) (*rsa.PublicKey, error) {
	raw := strings.TrimSpace(os.Getenv(envKey))
	if raw == "" {
		return nil, fmt.Errorf("%s is not set", envKey)
	}

	raw = strings.ReplaceAll(raw, `\n`, "\n")

	pub, err := jwt.ParseRSAPublicKeyFromPEM([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("parse public key pem failed: %w", err)
	}

	return pub, nil
}

func ParseAndValidateRS256(tokenString string, pub *rsa.PublicKey) (*Claims, error) {
	if pub == nil {
		return nil, errors.New("public key is nil")
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Name}),
		jwt.WithLeeway(30*time.Second),
		jwt.WithExpirationRequired(),
	)

	tok, err := parser.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		return pub, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid {
		return nil, errors.New("invalid token")
	}

	if strings.TrimSpace(claims.Subject) == "" {
		return nil, errors.New("sub missing")
	}

	return claims, nil
}

// SignRS256 mints an operator token. Used by cmd/mint-token and tests.
func SignRS256(priv *rsa.PrivateKey, subject string, scope string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()

	c := Claims{
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, c)
	return tok.SignedString(priv)
}
