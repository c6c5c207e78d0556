package handlers

import (
	"net/http"

	"github.com/ETAnderson/productimporter/internal/catalog"
	"github.com/ETAnderson/productimporter/internal/state"
)

const maxPageSize = 200

// ProductsHandler serves /v1/products: GET pages newest-updated first, POST
// creates one product.
type ProductsHandler struct {
	Catalog *catalog.Service
}

func (h ProductsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		page := state.Page{
			Number: queryInt(r, "page", 1, 0),
			Size:   queryInt(r, "page_size", state.DefaultPageSize, maxPageSize),
		}
		out, err := h.Catalog.List(r.Context(), page)
		if err != nil {
			writeError(w, "list_products_failed", err)
			return
		}
		writeJSON(w, http.StatusOK, out)

	case http.MethodPost:
		var in catalog.ProductInput
		if err := decodeJSON(r, &in); err != nil {
			badJSON(w, err)
			return
		}
		p, err := h.Catalog.Create(r.Context(), in)
		if err != nil {
			writeError(w, "create_product_failed", err)
			return
		}
		writeJSON(w, http.StatusCreated, p)

	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

// ProductHandler serves /v1/products/{id}.
type ProductHandler struct {
	Catalog *catalog.Service
}

func (h ProductHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_id", "message": "id must be a positive integer"})
		return
	}

	switch r.Method {
	case http.MethodGet:
		p, err := h.Catalog.Get(r.Context(), id)
		if err != nil {
			writeError(w, "get_product_failed", err)
			return
		}
		writeJSON(w, http.StatusOK, p)

	case http.MethodPut, http.MethodPatch:
		var in catalog.ProductInput
		if err := decodeJSON(r, &in); err != nil {
			badJSON(w, err)
			return
		}
		p, err := h.Catalog.Update(r.Context(), id, in)
		if err != nil {
			writeError(w, "update_product_failed", err)
			return
		}
		writeJSON(w, http.StatusOK, p)

	case http.MethodDelete:
		if _, err := h.Catalog.Delete(r.Context(), id); err != nil {
			writeError(w, "delete_product_failed", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPut, http.MethodPatch, http.MethodDelete)
	}
}

// ProductCountsHandler serves GET /v1/products/counts.
type ProductCountsHandler struct {
	Catalog *catalog.Service
}

func (h ProductCountsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	c, err := h.Catalog.Counts(r.Context())
	if err != nil {
		writeError(w, "count_products_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// BulkDeleteHandler serves POST /v1/products:bulk-delete and removes every
// product.
type BulkDeleteHandler struct {
	Catalog *catalog.Service
}

func (h BulkDeleteHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	n, err := h.Catalog.BulkDelete(r.Context())
	if err != nil {
		writeError(w, "bulk_delete_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted_count": n, "scope": catalog.ScopeAll})
}

type deleteSelectedRequest struct {
	IDs []int64 `json:"ids"`
}

// DeleteSelectedHandler serves POST /v1/products:delete-selected.
type DeleteSelectedHandler struct {
	Catalog *catalog.Service
}

func (h DeleteSelectedHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var req deleteSelectedRequest
	if err := decodeJSON(r, &req); err != nil {
		badJSON(w, err)
		return
	}

	n, err := h.Catalog.DeleteSelected(r.Context(), req.IDs)
	if err != nil {
		writeError(w, "delete_selected_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted_count": n, "scope": catalog.ScopeSelected})
}
