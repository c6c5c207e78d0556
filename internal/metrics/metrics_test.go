package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	m.ImportStarted()
	m.ImportFinished("completed")
	m.ImportBatch(1, 2, time.Millisecond)
	m.WebhookDelivery("record_created", true, time.Millisecond)
	m.HTTPRequest(http.MethodGet, 200)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetrics_CountsAndExposes(t *testing.T) {
	m := New()
	m.ImportStarted()
	m.ImportBatch(3, 1, 5*time.Millisecond)
	m.WebhookDelivery("bulk_import_completed", false, time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.importsStarted))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.importRows.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.webhookDeliveries.WithLabelValues("bulk_import_completed", "failure")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "imports_started_total 1")
}
