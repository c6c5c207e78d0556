package handlers

import (
	"net/http"
	"strings"

	"github.com/ETAnderson/productimporter/internal/domain"
	"github.com/ETAnderson/productimporter/internal/webhook"
)

// WebhooksHandler serves /v1/webhooks.
type WebhooksHandler struct {
	Subscriptions webhook.Subscriptions
}

func (h WebhooksHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		subs, err := h.Subscriptions.List(r.Context())
		if err != nil {
			writeError(w, "list_webhooks_failed", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items":       subs,
			"event_types": domain.EventTypes(),
		})

	case http.MethodPost:
		var in webhook.SubscriptionInput
		if err := decodeJSON(r, &in); err != nil {
			badJSON(w, err)
			return
		}
		sub, err := h.Subscriptions.Create(r.Context(), in)
		if err != nil {
			writeError(w, "create_webhook_failed", err)
			return
		}
		writeJSON(w, http.StatusCreated, sub)

	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

// WebhookHandler serves /v1/webhooks/{id}.
type WebhookHandler struct {
	Subscriptions webhook.Subscriptions
}

func (h WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))

	switch r.Method {
	case http.MethodGet:
		sub, err := h.Subscriptions.Get(r.Context(), id)
		if err != nil {
			writeError(w, "get_webhook_failed", err)
			return
		}
		writeJSON(w, http.StatusOK, sub)

	case http.MethodPut, http.MethodPatch:
		var in webhook.SubscriptionInput
		if err := decodeJSON(r, &in); err != nil {
			badJSON(w, err)
			return
		}
		sub, err := h.Subscriptions.Update(r.Context(), id, in)
		if err != nil {
			writeError(w, "update_webhook_failed", err)
			return
		}
		writeJSON(w, http.StatusOK, sub)

	case http.MethodDelete:
		if err := h.Subscriptions.Delete(r.Context(), id); err != nil {
			writeError(w, "delete_webhook_failed", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPut, http.MethodPatch, http.MethodDelete)
	}
}

// WebhookTestHandler serves POST /v1/webhooks/{id}/test. A failed delivery is
// still a 200; the outcome carries the failure.
type WebhookTestHandler struct {
	Dispatcher *webhook.Dispatcher
}

func (h WebhookTestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	out, err := h.Dispatcher.Test(r.Context(), strings.TrimSpace(r.PathValue("id")))
	if err != nil {
		writeError(w, "webhook_test_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
