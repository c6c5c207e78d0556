package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ETAnderson/productimporter/internal/logging"
	"github.com/ETAnderson/productimporter/internal/metrics"
)

const RequestIDHeaderKey = "X-Request-ID"

// RequestLogger logs one line per request and counts it in metrics.
type RequestLogger struct {
	Log     *logrus.Entry
	Metrics *metrics.Metrics
	Next    http.Handler
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	n, err := s.ResponseWriter.Write(b)
	s.bytes += n
	return n, err
}

func (m RequestLogger) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if m.Next == nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	reqID := strings.TrimSpace(r.Header.Get(RequestIDHeaderKey))
	if reqID == "" {
		reqID = uuid.NewString()
	}
	w.Header().Set(RequestIDHeaderKey, reqID)

	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w}
	m.Next.ServeHTTP(rec, r)

	status := rec.status
	if status == 0 {
		status = http.StatusOK
	}
	m.Metrics.HTTPRequest(r.Method, status)

	entry := logging.OrDiscard(m.Log).WithFields(logrus.Fields{
		"request_id":  reqID,
		"method":      r.Method,
		"path":        r.URL.Path,
		"status":      status,
		"bytes":       rec.bytes,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	switch {
	case status >= http.StatusInternalServerError:
		entry.Error("request failed")
	case status >= http.StatusBadRequest:
		entry.Warn("request rejected")
	default:
		entry.Info("request handled")
	}
}
