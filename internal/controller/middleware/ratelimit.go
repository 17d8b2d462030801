// Package middleware contains HTTP middleware for the control API.
package middleware

import (
	"encoding/json"
	"net/http"

	"golang.org/x/time/rate"

	"comfyguard/pkg/api"
)

// RateLimitMiddleware bounds concurrent job submissions with a token
// bucket. ratePerSec=0 means unlimited.
func RateLimitMiddleware(ratePerSec float64, burst int) func(http.Handler) http.Handler {
	limiter := rate.NewLimiter(rate.Limit(ratePerSec), burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ratePerSec > 0 && !limiter.Allow() {
				w.Header().Set("Retry-After", "1")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(api.ErrorResponse{
					Error: "Too Many Requests",
					Code:  "429",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
