package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors. A nil *Metrics is valid and records
// nothing, so components can be built without one in tests.
type Metrics struct {
	registry *prometheus.Registry

	importsStarted  prometheus.Counter
	importsFinished *prometheus.CounterVec
	importRows      *prometheus.CounterVec
	importBatch     prometheus.Histogram

	webhookDeliveries *prometheus.CounterVec
	webhookLatency    prometheus.Histogram

	httpRequests *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		importsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imports_started_total",
			Help: "Import sessions accepted for processing.",
		}),
		importsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imports_finished_total",
			Help: "Import sessions that reached a terminal status.",
		}, []string{"status"}),
		importRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "import_rows_total",
			Help: "Rows processed by imports, by outcome.",
		}, []string{"outcome"}),
		importBatch: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "import_batch_duration_seconds",
			Help:    "Time to validate and write one import batch.",
			Buckets: prometheus.DefBuckets,
		}),
		webhookDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webhook_deliveries_total",
			Help: "Webhook delivery outcomes.",
		}, []string{"event_type", "outcome"}),
		webhookLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "webhook_delivery_duration_seconds",
			Help:    "Webhook delivery latency including retries.",
			Buckets: prometheus.DefBuckets,
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method and status code.",
		}, []string{"method", "code"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.importsStarted,
		m.importsFinished,
		m.importRows,
		m.importBatch,
		m.webhookDeliveries,
		m.webhookLatency,
		m.httpRequests,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ImportStarted() {
	if m == nil {
		return
	}
	m.importsStarted.Inc()
}

func (m *Metrics) ImportFinished(status string) {
	if m == nil {
		return
	}
	m.importsFinished.WithLabelValues(status).Inc()
}

func (m *Metrics) ImportBatch(success int, failed int, took time.Duration) {
	if m == nil {
		return
	}
	m.importRows.WithLabelValues("success").Add(float64(success))
	m.importRows.WithLabelValues("error").Add(float64(failed))
	m.importBatch.Observe(took.Seconds())
}

func (m *Metrics) WebhookDelivery(eventType string, success bool, took time.Duration) {
	if m == nil {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.webhookDeliveries.WithLabelValues(eventType, outcome).Inc()
	m.webhookLatency.Observe(took.Seconds())
}

func (m *Metrics) HTTPRequest(method string, code int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
}
