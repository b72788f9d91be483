package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestBuildValidationMiddlewareStackPassesThroughByDefault(t *testing.T) {
	stack := BuildValidationMiddlewareStack(&Config{})
	handler := stack(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func TestRateLimitRejectsOverBurst(t *testing.T) {
	handler := applyRateLimit(okHandler(), &RateLimitConfig{
		Enabled:           true,
		RequestsPerSecond: 1,
		Burst:             1,
	})

	req := httptest.NewRequest(http.MethodPost, "/validate", nil)
	req.RemoteAddr = "10.0.0.1:1234"

	w1 := httptest.NewRecorder()
	handler.ServeHTTP(w1, req)
	require.Equal(t, http.StatusOK, w1.Code)

	w2 := httptest.NewRecorder()
	handler.ServeHTTP(w2, req)
	assert.Equal(t, http.StatusTooManyRequests, w2.Code)
}

func TestRateLimitTracksClientsIndependently(t *testing.T) {
	handler := applyRateLimit(okHandler(), &RateLimitConfig{
		Enabled:           true,
		RequestsPerSecond: 1,
		Burst:             1,
	})

	req1 := httptest.NewRequest(http.MethodPost, "/validate", nil)
	req1.RemoteAddr = "10.0.0.1:1234"
	req2 := httptest.NewRequest(http.MethodPost, "/validate", nil)
	req2.RemoteAddr = "10.0.0.2:5678"

	w1 := httptest.NewRecorder()
	handler.ServeHTTP(w1, req1)
	assert.Equal(t, http.StatusOK, w1.Code)

	w2 := httptest.NewRecorder()
	handler.ServeHTTP(w2, req2)
	assert.Equal(t, http.StatusOK, w2.Code, "a different client must not share the first client's bucket")
}

func TestLimitRequestSizeRejectsOversizedBody(t *testing.T) {
	handler := limitRequestSize(okHandler(), 10)

	req := httptest.NewRequest(http.MethodPost, "/validate", strings.NewReader("this body is definitely over ten bytes"))
	req.ContentLength = int64(len("this body is definitely over ten bytes"))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestApplyRecoveryCatchesPanic(t *testing.T) {
	panicking := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})
	handler := applyRecovery(panicking, nil)

	req := httptest.NewRequest(http.MethodGet, "/validate", nil)
	w := httptest.NewRecorder()

	assert.NotPanics(t, func() { handler.ServeHTTP(w, req) })
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestClientKeyPrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/validate", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.9")

	assert.Equal(t, "203.0.113.9", clientKey(req))
}
