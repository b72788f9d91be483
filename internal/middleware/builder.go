// Package middleware provides HTTP middleware for the validation execution
// core's front door (cmd/validationd).
package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/arborvale/valicore/pkg/logger"
)

// Config holds configuration for building the service's middleware stack.
type Config struct {
	Logger         *slog.Logger
	RateLimiter    *RateLimitConfig
	MaxRequestSize int
	RequestTimeout time.Duration
}

// RateLimitConfig holds per-client-IP token-bucket rate limiting
// configuration.
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerSecond float64
	Burst             int
}

// BuildValidationMiddlewareStack builds the complete middleware stack for
// the validation HTTP API. Applied in the following order (outermost to
// innermost):
//  1. Security Headers - add security-related HTTP headers
//  2. Recovery - recover from panics
//  3. Request ID + Logging - tag and log every request
//  4. Rate Limiting - apply per-client limits
//  5. Size Limit - enforce max request body size
//  6. Timeout - enforce request timeouts
func BuildValidationMiddlewareStack(config *Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		handler := next

		// 6. Timeout (innermost - applied last)
		if config.RequestTimeout > 0 {
			handler = http.TimeoutHandler(handler, config.RequestTimeout, "request timeout")
		}

		// 5. Size Limit
		if config.MaxRequestSize > 0 {
			handler = limitRequestSize(handler, config.MaxRequestSize)
		}

		// 4. Rate Limiting
		if config.RateLimiter != nil && config.RateLimiter.Enabled {
			handler = applyRateLimit(handler, config.RateLimiter)
		}

		// 3. Request ID + Logging
		if config.Logger != nil {
			handler = logger.LoggingMiddleware(config.Logger)(handler)
		}

		// 2. Recovery (panic recovery)
		handler = applyRecovery(handler, config.Logger)

		// 1. Security Headers (outermost - applied first)
		securityHeaders := NewSecurityHeadersMiddleware(nil)
		handler = securityHeaders.Handler(handler)

		return handler
	}
}

// limitRequestSize rejects requests whose declared Content-Length exceeds
// maxBytes and caps the body reader for handlers that ignore Content-Length.
func limitRequestSize(next http.Handler, maxBytes int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > int64(maxBytes) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))
		next.ServeHTTP(w, r)
	})
}

// limiterStore hands out one token-bucket limiter per client key, so one
// noisy caller can't drain the budget of another sharing the service.
type limiterStore struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func newLimiterStore(cfg *RateLimitConfig) *limiterStore {
	return &limiterStore{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(cfg.RequestsPerSecond),
		burst:    cfg.Burst,
	}
}

func (s *limiterStore) get(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[key]
	if !ok {
		l = rate.NewLimiter(s.rps, s.burst)
		s.limiters[key] = l
	}
	return l
}

// applyRateLimit applies a per-client-IP token-bucket rate limit.
func applyRateLimit(next http.Handler, config *RateLimitConfig) http.Handler {
	store := newLimiterStore(config)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !store.get(clientKey(r)).Allow() {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientKey extracts the rate-limit bucket key for a request: the
// X-Forwarded-For first hop if present (reverse-proxied deployments),
// falling back to RemoteAddr.
func clientKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	return r.RemoteAddr
}

// applyRecovery applies panic recovery middleware.
func applyRecovery(next http.Handler, log *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				if log != nil {
					log.Error("panic recovered", "error", err, "path", r.URL.Path)
				}
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
