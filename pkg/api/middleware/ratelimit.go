package middleware

import (
	"net"
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimitConfig holds rate limiter settings.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained request rate allowed per client.
	RequestsPerSecond float64

	// Burst is the maximum burst size allowed per client.
	Burst int
}

// clientLimiters tracks one limiter per client address.
type clientLimiters struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func (c *clientLimiters) get(addr string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	lim, ok := c.limiters[addr]
	if !ok {
		lim = rate.NewLimiter(c.rps, c.burst)
		c.limiters[addr] = lim
	}
	return lim
}

// RateLimit returns a middleware that rejects clients exceeding the
// configured request rate with 429.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	limiters := &clientLimiters{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(cfg.RequestsPerSecond),
		burst:    cfg.Burst,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			addr := clientAddr(r)
			if !limiters.get(addr).Allow() {
				w.Header().Set("Retry-After", "1")
				http.Error(w, `{"error":{"code":"RATE_LIMITED","message":"too many requests"}}`, http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientAddr extracts the client host without the ephemeral port.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
