package middleware

import (
	"net/http"

	"github.com/patrickwarner/civicreport/internal/geoip"
	"github.com/patrickwarner/civicreport/internal/logic"
)

// ClientContext resolves the caller's device and country once per request
// and stores them for analytics. g may be nil.
func ClientContext(g *geoip.GeoIP) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cc := logic.ResolveClientFromRequest(r, g)
			next.ServeHTTP(w, r.WithContext(logic.WithClient(r.Context(), cc)))
		})
	}
}
