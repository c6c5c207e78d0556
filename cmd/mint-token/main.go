package main

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ETAnderson/productimporter/internal/api/auth"
)

// mint-token prints an RS256 operator token for the API.
func main() {
	var (
		subject = flag.String("sub", "dev-operator", "operator name (sub)")
		scope   = flag.String("scope", "", "optional scope claim")
		ttl     = flag.Duration("ttl", 30*time.Minute, "token TTL (e.g. 30m, 2h)")
		envKey  = flag.String("env", "JWT_PRIVATE_KEY_PEM", "env var containing RSA private key PEM")
	)
	flag.Parse()

	priv, err := loadRSAPrivateKeyFromEnv(*envKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load private key failed: %v\n", err)
		os.Exit(1)
	}

	s, err := auth.SignRS256(priv, *subject, *scope, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sign token failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(s)
}

func loadRSAPrivateKeyFromEnv(envKey string) (*rsa.PrivateKey, error) {
	raw := strings.TrimSpace(os.Getenv(envKey))
	if raw == "" {
		return nil, fmt.Errorf("%s is not set", envKey)
	}

	raw = strings.ReplaceAll(raw, `\n`, "\n")

	block, _ := pem.Decode([]byte(raw))
	if block == nil {
		return nil, errors.New("pem decode failed")
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		priv, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse pkcs1 private key failed: %w", err)
		}
		return priv, nil

	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse pkcs8 private key failed: %w", err)
		}
		priv, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("pkcs8 key is not rsa")
		}
		return priv, nil

	default:
		return nil, fmt.Errorf("unsupported pem type: %s", block.Type)
	}
}
