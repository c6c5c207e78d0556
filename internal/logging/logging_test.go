package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriter_JSONCarriesServiceField(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "api-service", "prod", "debug", "")

	log.WithField("session_id", "abc").Info("import started")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "api-service", entry["service"])
	assert.Equal(t, "abc", entry["session_id"])
	assert.Equal(t, "import started", entry["msg"])
}

func TestNewWithWriter_BadLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "svc", "prod", "chatty", "json")

	log.Debug("hidden")
	assert.Zero(t, buf.Len())

	log.Info("shown")
	assert.NotZero(t, buf.Len())
}

func TestOrDiscard(t *testing.T) {
	assert.NotNil(t, OrDiscard(nil))
}
