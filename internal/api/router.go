package api

import (
	"crypto/rsa"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ETAnderson/productimporter/internal/api/handlers"
	"github.com/ETAnderson/productimporter/internal/api/middleware"
	"github.com/ETAnderson/productimporter/internal/catalog"
	"github.com/ETAnderson/productimporter/internal/importer"
	"github.com/ETAnderson/productimporter/internal/ingest"
	"github.com/ETAnderson/productimporter/internal/metrics"
	"github.com/ETAnderson/productimporter/internal/state"
	"github.com/ETAnderson/productimporter/internal/webhook"
)

type Deps struct {
	Store      state.Store
	Intake     ingest.Intake
	Imports    *importer.Coordinator
	Catalog    *catalog.Service
	Dispatcher *webhook.Dispatcher
	Metrics    *metrics.Metrics
	Log        *logrus.Entry

	AuthRequired   bool
	PublicKey      *rsa.PublicKey
	IdempotencyTTL time.Duration
}

// NewRouter wires every route. /healthz and /metrics stay outside auth.
func NewRouter(d Deps) http.Handler {
	subs := webhook.Subscriptions{Store: d.Store}

	v1 := http.NewServeMux()
	v1.Handle("/v1/imports", handlers.ImportsHandler{Intake: d.Intake, Imports: d.Imports})
	v1.Handle("/v1/imports/{id}", handlers.ImportHandler{Imports: d.Imports})

	v1.Handle("/v1/products", handlers.ProductsHandler{Catalog: d.Catalog})
	v1.Handle("/v1/products/counts", handlers.ProductCountsHandler{Catalog: d.Catalog})
	v1.Handle("/v1/products/{id}", handlers.ProductHandler{Catalog: d.Catalog})
	v1.Handle("/v1/products:bulk-delete", handlers.BulkDeleteHandler{Catalog: d.Catalog})
	v1.Handle("/v1/products:delete-selected", handlers.DeleteSelectedHandler{Catalog: d.Catalog})

	v1.Handle("/v1/webhooks", handlers.WebhooksHandler{Subscriptions: subs})
	v1.Handle("/v1/webhooks/{id}", handlers.WebhookHandler{Subscriptions: subs})
	v1.Handle("/v1/webhooks/{id}/test", handlers.WebhookTestHandler{Dispatcher: d.Dispatcher})

	var protected http.Handler = v1
	protected = middleware.IdempotencyMiddleware{
		Store: d.Store,
		TTL:   d.IdempotencyTTL,
		Log:   d.Log,
		Next:  protected,
	}
	protected = middleware.AuthMiddleware{
		Required:  d.AuthRequired,
		PublicKey: d.PublicKey,
		Next:      protected,
	}

	root := http.NewServeMux()
	root.Handle("/healthz", handlers.HealthHandler{Store: d.Store})
	root.Handle("/metrics", d.Metrics.Handler())
	root.Handle("/v1/", protected)

	return middleware.RequestLogger{
		Log:     d.Log,
		Metrics: d.Metrics,
		Next:    root,
	}
}
