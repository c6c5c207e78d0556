package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/ETAnderson/productimporter/internal/domain"
	"github.com/ETAnderson/productimporter/internal/importer"
	"github.com/ETAnderson/productimporter/internal/ingest"
	"github.com/ETAnderson/productimporter/internal/state"
)

const (
	UploadField = "csv_file"

	// multipartSlack covers boundaries and part headers on top of the file.
	multipartSlack = 1 << 20
)

type SessionResponse struct {
	domain.ImportSession
	ProgressPercentage float64 `json:"progress_percentage"`
}

func sessionResponse(s domain.ImportSession) SessionResponse {
	return SessionResponse{ImportSession: s, ProgressPercentage: s.ProgressPercentage()}
}

// ImportsHandler serves /v1/imports: POST accepts a multipart upload and
// starts a session, GET lists recent sessions.
type ImportsHandler struct {
	Intake  ingest.Intake
	Imports *importer.Coordinator
}

func (h ImportsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.create(w, r)
	case http.MethodGet:
		h.list(w, r)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (h ImportsHandler) create(w http.ResponseWriter, r *http.Request) {
	limit := h.Intake.MaxBytes
	if limit <= 0 {
		limit = ingest.DefaultMaxUploadBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartSlack)

	mr, err := r.MultipartReader()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_upload", "message": "expected multipart/form-data with a " + UploadField + " field"})
		return
	}

	var upload ingest.Upload
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "missing_file", "message": "no " + UploadField + " field in upload"})
			return
		}
		if err != nil {
			writeUploadError(w, err)
			return
		}
		if part.FormName() != UploadField {
			_ = part.Close()
			continue
		}

		upload, err = h.Intake.Accept(part.FileName(), part)
		_ = part.Close()
		if err != nil {
			writeUploadError(w, err)
			return
		}
		break
	}

	sess, err := h.Imports.Start(r.Context(), upload)
	if err != nil {
		_ = upload.Remove()
		writeError(w, "import_start_failed", err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"session_id": sess.ID,
		"total_rows": sess.TotalRows,
		"status":     sess.Status,
	})
}

func writeUploadError(w http.ResponseWriter, err error) {
	var mbe *http.MaxBytesError
	switch {
	case errors.Is(err, ingest.ErrTooLarge), errors.As(err, &mbe):
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{"error": "file_too_large", "message": err.Error()})
	case errors.Is(err, ingest.ErrUnsupportedType):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unsupported_file_type", "message": err.Error()})
	default:
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_upload", "message": err.Error()})
	}
}

func (h ImportsHandler) list(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20, 200)

	sessions, err := h.Imports.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, "list_imports_failed", err)
		return
	}

	items := make([]SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		items = append(items, sessionResponse(s))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// ImportHandler serves GET /v1/imports/{id}.
type ImportHandler struct {
	Imports *importer.Coordinator
}

func (h ImportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	id := strings.TrimSpace(r.PathValue("id"))
	sess, err := h.Imports.Progress(r.Context(), id)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "import_not_found", "message": "no import session " + id})
			return
		}
		writeError(w, "get_import_failed", err)
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse(sess))
}
