package httpapi

import (
	"net/http"

	"github.com/lemonade-sdk/lemonade-server/pkg/middleware"
)

func authMiddleware(apiKey string, next http.Handler) http.Handler {
	return middleware.AuthMiddleware(apiKey, func(r *http.Request) bool {
		return r.URL.Path == "/live" || r.URL.Path == "/metrics"
	}, next)
}

func rateLimitMiddleware(rps float64, next http.Handler) http.Handler {
	if rps <= 0 {
		return next
	}
	return middleware.NewRateLimiter(rps).Middleware(next)
}
