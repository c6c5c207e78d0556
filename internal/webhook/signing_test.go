package webhook

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSign_KnownVector(t *testing.T) {
	// HMAC-SHA256("key", "The quick brown fox jumps over the lazy dog")
	got := Sign("key", []byte("The quick brown fox jumps over the lazy dog"))
	assert.Equal(t, "sha256=f7bc83f430538424b13298e6aa6fb143ef4d59a14946175997479dbc2d1a3cd8", got)
}

func TestVerify(t *testing.T) {
	body := []byte(`{"event_type":"record_created"}`)
	sig := Sign("k", body)

	assert.True(t, Verify("k", body, sig))
	assert.False(t, Verify("other", body, sig))
	assert.False(t, Verify("k", []byte(`{}`), sig))
	assert.False(t, Verify("k", body, strings.TrimPrefix(sig, "sha256=")))
	assert.False(t, Verify("k", body, "sha256=zz"))
}
