package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRateLimiterAllowsWithinBurst(t *testing.T) {
	rl := NewRateLimiter(1)
	handler := rl.Middleware(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/chat/completions", nil)
	req.RemoteAddr = "10.0.0.1:1234"

	for i := 0; i < rateLimitBurst; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, "request %d within burst should pass", i)
	}
}

func TestRateLimiterRejectsOverBurst(t *testing.T) {
	rl := NewRateLimiter(0.001)
	handler := rl.Middleware(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/chat/completions", nil)
	req.RemoteAddr = "10.0.0.2:1234"

	for i := 0; i < rateLimitBurst; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestRateLimiterTracksClientsIndependently(t *testing.T) {
	rl := NewRateLimiter(0.001)
	handler := rl.Middleware(okHandler())

	reqA := httptest.NewRequest(http.MethodGet, "/v1/chat/completions", nil)
	reqA.RemoteAddr = "10.0.0.3:1111"
	reqB := httptest.NewRequest(http.MethodGet, "/v1/chat/completions", nil)
	reqB.RemoteAddr = "10.0.0.4:2222"

	for i := 0; i < rateLimitBurst; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, reqA)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, reqB)
	require.Equal(t, http.StatusOK, rec.Code, "a fresh client should not be affected by another client's burst")
}
