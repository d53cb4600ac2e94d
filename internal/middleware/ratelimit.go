package middleware

import (
	"net/http"

	"github.com/patrickwarner/civicreport/internal/auth"
	"github.com/patrickwarner/civicreport/internal/logic"
	"github.com/patrickwarner/civicreport/internal/logic/ratelimit"
	"github.com/patrickwarner/civicreport/internal/models"
)

// RateLimit rejects requests once the caller's bucket for route is empty.
// Authenticated callers are keyed by principal id, anonymous ones by IP.
func RateLimit(limiter *ratelimit.ClientLimiter, route string, onError ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(route, clientKey(r)) {
				w.Header().Set("Retry-After", "1")
				onError(w, r, models.ErrRateLimited)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	if p, ok := auth.FromContext(r.Context()); ok && p != auth.Anonymous {
		return "user:" + p.ID
	}
	return "ip:" + logic.ClientIP(r)
}
