package web

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/httprate"

	"github.com/JonMunkholm/results-america/internal/logging"
)

// RateLimitStore hands out the counters behind request rate limits, one per
// scope. The server takes one at construction so several servers, or tests,
// never share counters. A shared backend implements httprate.LimitCounter.
type RateLimitStore interface {
	Counter(scope string, window time.Duration) httprate.LimitCounter
}

// MemoryRateLimitStore keeps sliding window counters in process memory.
type MemoryRateLimitStore struct {
	mu       sync.Mutex
	counters map[string]httprate.LimitCounter
}

// NewMemoryRateLimitStore returns an empty in-memory store.
func NewMemoryRateLimitStore() *MemoryRateLimitStore {
	return &MemoryRateLimitStore{counters: make(map[string]httprate.LimitCounter)}
}

// Counter returns the counter for scope, creating it on first use.
func (m *MemoryRateLimitStore) Counter(scope string, window time.Duration) httprate.LimitCounter {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.counters[scope]
	if !ok {
		c = httprate.NewLocalLimitCounter(window)
		m.counters[scope] = c
	}
	return c
}

// Len reports how many scopes have counters.
func (m *MemoryRateLimitStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.counters)
}

// rateLimit limits requests per client address within scope.
func rateLimit(store RateLimitStore, scope string, limit int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(limit, window,
		httprate.WithLimitCounter(store.Counter(scope, window)),
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return clientIP(r), nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			logging.FromContext(r.Context()).Warn("rate limit exceeded", "scope", scope, "ip", clientIP(r))
			writeJSON(w, http.StatusTooManyRequests, envelope{
				Success: false,
				Error:   "Too many requests",
				Message: "Too many requests",
				Action:  "Wait a moment and try again",
				Code:    "RATE001",
			})
		}),
	)
}

// clientIP is the request's remote host. TrustedRealIP has already
// replaced RemoteAddr for requests arriving through a trusted proxy.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
