package middleware

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coeditd/coeditd/internal/server/handlers"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRateLimiter_Allow(t *testing.T) {
	logger := testLogger()

	t.Run("requests within limit are allowed", func(t *testing.T) {
		limiter := NewRateLimiter(5, time.Minute, logger)
		defer limiter.Stop()

		for i := 0; i < 5; i++ {
			allowed, _ := limiter.Allow("key1")
			assert.True(t, allowed, fmt.Sprintf("request %d should be allowed", i+1))
		}
	})

	t.Run("requests over limit are denied with a positive retry delay", func(t *testing.T) {
		limiter := NewRateLimiter(3, time.Minute, logger)
		defer limiter.Stop()

		for i := 0; i < 3; i++ {
			allowed, _ := limiter.Allow("key2")
			assert.True(t, allowed)
		}

		allowed, retryAfter := limiter.Allow("key2")
		assert.False(t, allowed)
		assert.Positive(t, retryAfter)
		assert.LessOrEqual(t, retryAfter, time.Minute)
	})

	t.Run("different keys are tracked separately", func(t *testing.T) {
		limiter := NewRateLimiter(1, time.Minute, logger)
		defer limiter.Stop()

		allowed, _ := limiter.Allow("a")
		assert.True(t, allowed)
		allowed, _ = limiter.Allow("a")
		assert.False(t, allowed)

		allowed, _ = limiter.Allow("b")
		assert.True(t, allowed)
	})

	t.Run("tokens refill after the window", func(t *testing.T) {
		limiter := NewRateLimiter(1, 30*time.Millisecond, logger)
		defer limiter.Stop()

		allowed, _ := limiter.Allow("key")
		assert.True(t, allowed)
		allowed, _ = limiter.Allow("key")
		assert.False(t, allowed)

		time.Sleep(40 * time.Millisecond)

		allowed, _ = limiter.Allow("key")
		assert.True(t, allowed)
	})
}

func TestWriteLimiter_AllowWrite(t *testing.T) {
	logger := testLogger()

	t.Run("per-document tier denies independently of the user tier", func(t *testing.T) {
		wl := NewWriteLimiter(2, time.Minute, 100, time.Minute, logger)
		defer wl.Stop()

		allowed, _ := wl.AllowWrite("alice", "doc1")
		assert.True(t, allowed)
		allowed, _ = wl.AllowWrite("alice", "doc1")
		assert.True(t, allowed)

		allowed, retry := wl.AllowWrite("alice", "doc1")
		assert.False(t, allowed)
		assert.Positive(t, retry)

		// another document of the same user is still allowed
		allowed, _ = wl.AllowWrite("alice", "doc2")
		assert.True(t, allowed)
	})

	t.Run("user tier caps across documents", func(t *testing.T) {
		wl := NewWriteLimiter(100, time.Minute, 2, time.Minute, logger)
		defer wl.Stop()

		allowed, _ := wl.AllowWrite("bob", "doc1")
		assert.True(t, allowed)
		allowed, _ = wl.AllowWrite("bob", "doc2")
		assert.True(t, allowed)

		allowed, _ = wl.AllowWrite("bob", "doc3")
		assert.False(t, allowed)
	})

	t.Run("denied requests do not drain the passing tier", func(t *testing.T) {
		wl := NewWriteLimiter(2, time.Minute, 5, time.Minute, logger)
		defer wl.Stop()

		// exhaust the per-document budget for doc1
		allowed, _ := wl.AllowWrite("carol", "doc1")
		assert.True(t, allowed)
		allowed, _ = wl.AllowWrite("carol", "doc1")
		assert.True(t, allowed)

		// a burst of denied retries against doc1 must not consume the
		// user-tier budget
		for i := 0; i < 20; i++ {
			allowed, _ = wl.AllowWrite("carol", "doc1")
			assert.False(t, allowed)
		}

		// 3 of the 5 user tokens remain, enough for doc2's own budget
		allowed, _ = wl.AllowWrite("carol", "doc2")
		assert.True(t, allowed)
		allowed, _ = wl.AllowWrite("carol", "doc2")
		assert.True(t, allowed)
	})
}

func TestWriteRateLimitMiddleware(t *testing.T) {
	logger := testLogger()

	newRequest := func(user, doc string) *http.Request {
		req := httptest.NewRequest(http.MethodPatch, "/api/v1/documents/"+doc, nil)
		req = req.WithContext(context.WithValue(req.Context(), handlers.UserIDKey, user))
		req.SetPathValue("id", doc)
		return req
	}

	t.Run("eleventh write in a ten-write window gets 429 and Retry-After", func(t *testing.T) {
		wl := NewWriteLimiter(10, 10*time.Second, 1000, time.Minute, logger)
		defer wl.Stop()

		handlerCalls := 0
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handlerCalls++
			w.WriteHeader(http.StatusOK)
		})

		mw := WriteRateLimitMiddleware(wl, logger)(next)

		for i := 0; i < 10; i++ {
			w := httptest.NewRecorder()
			mw.ServeHTTP(w, newRequest("alice", "doc1"))
			require.Equal(t, http.StatusOK, w.Code)
		}

		w := httptest.NewRecorder()
		mw.ServeHTTP(w, newRequest("alice", "doc1"))

		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, 10, handlerCalls, "the denied request must never reach the handler")

		retryAfter := w.Header().Get("Retry-After")
		require.NotEmpty(t, retryAfter)
		assert.NotEqual(t, "0", retryAfter)
	})

	t.Run("unauthenticated request is rejected", func(t *testing.T) {
		wl := NewWriteLimiter(10, time.Minute, 10, time.Minute, logger)
		defer wl.Stop()

		mw := WriteRateLimitMiddleware(wl, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

		req := httptest.NewRequest(http.MethodPatch, "/api/v1/documents/doc1", nil)
		w := httptest.NewRecorder()
		mw.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}
