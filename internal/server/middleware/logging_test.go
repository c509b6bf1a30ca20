package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoggingMiddleware(t *testing.T) {
	t.Run("logs request with status and size", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, nil))

		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte("created"))
		})

		mw := LoggingMiddleware(logger)(next)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/documents", nil)
		w := httptest.NewRecorder()
		mw.ServeHTTP(w, req)

		out := buf.String()
		assert.Contains(t, out, "method=POST")
		assert.Contains(t, out, "path=/api/v1/documents")
		assert.Contains(t, out, "status=201")
		assert.Contains(t, out, "level=INFO")
	})

	t.Run("server errors are logged at error level", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, nil))

		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		})

		mw := LoggingMiddleware(logger)(next)
		w := httptest.NewRecorder()
		mw.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

		assert.Contains(t, buf.String(), "level=ERROR")
	})
}

func TestLoggingWithSkip(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mw := LoggingWithSkip(logger, []string{"/api/v1/health"})(next)

	w := httptest.NewRecorder()
	mw.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	assert.Empty(t, buf.String(), "health checks must not be logged")

	w = httptest.NewRecorder()
	mw.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/documents", nil))
	assert.NotEmpty(t, buf.String())
}
