package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/patrickwarner/civicreport/internal/auth"
	"github.com/patrickwarner/civicreport/internal/models"
	"github.com/patrickwarner/civicreport/internal/token"
)

// ErrorWriter renders err as an HTTP response. The api package supplies the
// envelope writer so middleware and handlers answer in the same shape.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// AuthConfig controls bearer token authentication.
type AuthConfig struct {
	Enabled bool
	Secret  []byte
}

// Authenticate attaches the caller's principal to the request context.
//
// With auth disabled every request runs as auth.Anonymous. Otherwise a
// request without an Authorization header proceeds with no principal and
// the policy decides; a malformed, forged or expired token is rejected here.
func Authenticate(cfg AuthConfig, logger *zap.Logger, onError ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled {
				next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), auth.Anonymous)))
				return
			}

			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			raw, err := token.FromHeader(header)
			if err != nil {
				onError(w, r, fmt.Errorf("%w: %v", models.ErrUnauthorized, err))
				return
			}
			p, err := token.Verify(raw, cfg.Secret)
			if err != nil {
				if !errors.Is(err, token.ErrExpired) {
					LoggerFromRequest(r, logger).Debug("rejected bearer token", zap.Error(err))
				}
				onError(w, r, fmt.Errorf("%w: %v", models.ErrUnauthorized, err))
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
		})
	}
}
