package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coeditd/coeditd/internal/server/handlers"
)

// RateLimiter is a token-bucket limiter keyed by an arbitrary string.
type RateLimiter struct {
	buckets  map[string]*bucket
	logger   *slog.Logger
	cleanupC chan struct{}
	rate     int
	window   time.Duration
	mu       sync.RWMutex
}

// bucket tracks remaining tokens for one key
type bucket struct {
	lastRefill time.Time
	tokens     int
	mu         sync.Mutex
}

// NewRateLimiter creates a new rate limiter
// rate is the maximum number of requests per window
func NewRateLimiter(rate int, window time.Duration, logger *slog.Logger) *RateLimiter {
	rl := &RateLimiter{
		buckets:  make(map[string]*bucket),
		rate:     rate,
		window:   window,
		logger:   logger,
		cleanupC: make(chan struct{}),
	}

	// periodically drop idle buckets
	go rl.cleanup()

	return rl
}

// cleanup periodically removes inactive buckets
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.window * 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanupOldBuckets()
		case <-rl.cleanupC:
			return
		}
	}
}

// cleanupOldBuckets removes buckets unused for longer than two windows
func (rl *RateLimiter) cleanupOldBuckets() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for key, b := range rl.buckets {
		b.mu.Lock()
		if now.Sub(b.lastRefill) > rl.window*2 {
			delete(rl.buckets, key)
		}
		b.mu.Unlock()
	}
}

// Stop stops the cleanup goroutine
func (rl *RateLimiter) Stop() {
	close(rl.cleanupC)
}

// get returns the bucket for the key, creating a full one on first use.
func (rl *RateLimiter) get(key string) *bucket {
	rl.mu.RLock()
	b, exists := rl.buckets[key]
	rl.mu.RUnlock()
	if exists {
		return b
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if b, exists = rl.buckets[key]; exists {
		return b
	}
	b = &bucket{
		tokens:     rl.rate,
		lastRefill: time.Now(),
	}
	rl.buckets[key] = b
	return b
}

// refillLocked refreshes the bucket once the window has passed.
// Caller holds b.mu.
func (rl *RateLimiter) refillLocked(b *bucket, now time.Time) {
	if now.Sub(b.lastRefill) >= rl.window {
		b.tokens = rl.rate
		b.lastRefill = now
	}
}

// retryAfterLocked reports how long until the bucket refills, with a one
// second floor. Caller holds b.mu.
func (rl *RateLimiter) retryAfterLocked(b *bucket, now time.Time) time.Duration {
	retryAfter := rl.window - now.Sub(b.lastRefill)
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	return retryAfter
}

// Allow reports whether a request for the key may proceed. When denied it
// also returns how long the caller should wait before retrying.
func (rl *RateLimiter) Allow(key string) (bool, time.Duration) {
	b := rl.get(key)

	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	rl.refillLocked(b, now)

	if b.tokens > 0 {
		b.tokens--
		return true, 0
	}

	return false, rl.retryAfterLocked(b, now)
}

// WriteLimiter enforces the two-tier write limit of the save path: a fine
// limit per (user, document) and a coarser one per user. Both are checked
// before the store or the idempotency cache is touched.
type WriteLimiter struct {
	perDoc  *RateLimiter
	perUser *RateLimiter
	logger  *slog.Logger
}

// NewWriteLimiter creates a write limiter with both tiers
func NewWriteLimiter(docRate int, docWindow time.Duration, userRate int, userWindow time.Duration, logger *slog.Logger) *WriteLimiter {
	return &WriteLimiter{
		perDoc:  NewRateLimiter(docRate, docWindow, logger),
		perUser: NewRateLimiter(userRate, userWindow, logger),
		logger:  logger,
	}
}

// Stop stops both underlying limiters
func (wl *WriteLimiter) Stop() {
	wl.perDoc.Stop()
	wl.perUser.Stop()
}

// AllowWrite checks both tiers for one save attempt. Denial by either tier
// denies the write; the longer retry delay wins. Tokens are taken only when
// both tiers pass, so a stream of denied requests cannot drain the other
// tier's budget.
func (wl *WriteLimiter) AllowWrite(userID, documentID string) (bool, time.Duration) {
	now := time.Now()
	userB := wl.perUser.get(userID)
	docB := wl.perDoc.get(fmt.Sprintf("%s|%s", userID, documentID))

	// lock order: user tier first, then document tier
	userB.mu.Lock()
	defer userB.mu.Unlock()
	docB.mu.Lock()
	defer docB.mu.Unlock()

	wl.perUser.refillLocked(userB, now)
	wl.perDoc.refillLocked(docB, now)

	if userB.tokens > 0 && docB.tokens > 0 {
		userB.tokens--
		docB.tokens--
		return true, 0
	}

	var retry time.Duration
	if userB.tokens <= 0 {
		retry = wl.perUser.retryAfterLocked(userB, now)
	}
	if docB.tokens <= 0 {
		if docRetry := wl.perDoc.retryAfterLocked(docB, now); docRetry > retry {
			retry = docRetry
		}
	}
	return false, retry
}

// WriteRateLimitMiddleware applies the write limiter to the save route.
// Requires AuthMiddleware upstream and a {id} path parameter.
func WriteRateLimitMiddleware(limiter *WriteLimiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := handlers.GetUserID(r.Context())
			if !ok {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			documentID := r.PathValue("id")

			allowed, retryAfter := limiter.AllowWrite(userID, documentID)
			if !allowed {
				logger.Warn("Write rate limit exceeded",
					"user_id", userID,
					"document_id", documentID,
					"retry_after", retryAfter,
				)

				seconds := int(retryAfter.Round(time.Second).Seconds())
				if seconds < 1 {
					seconds = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(seconds))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"rate limit exceeded, please try again later"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
