package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/patrickwarner/civicreport/internal/middleware"
	"github.com/patrickwarner/civicreport/internal/models"
	"github.com/patrickwarner/civicreport/internal/service"
)

// Envelope is the body of every API response. Paginated listings also set
// Total, CurrentPage, TotalPages and the effective Limit.
type Envelope struct {
	Success     bool                `json:"success"`
	Message     string              `json:"message"`
	Data        any                 `json:"data,omitempty"`
	Error       string              `json:"error,omitempty"`
	Fields      []models.FieldError `json:"fields,omitempty"`
	Total       *int                `json:"total,omitempty"`
	CurrentPage *int                `json:"currentPage,omitempty"`
	TotalPages  *int                `json:"totalPages,omitempty"`
	Limit       *int                `json:"limit,omitempty"`
}

func writeEnvelope(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

func writeOK(w http.ResponseWriter, status int, message string, data any) {
	writeEnvelope(w, status, Envelope{Success: true, Message: message, Data: data})
}

// errorStatus maps service errors onto HTTP status codes, error codes and
// client-safe messages.
func errorStatus(err error) (int, string, string) {
	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, "validation_error", verr.Error()
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, "not_found", "Report not found"
	case errors.Is(err, models.ErrConflict):
		return http.StatusConflict, "conflict", "Request conflicts with the current report state"
	case errors.Is(err, models.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized", "Authentication required"
	case errors.Is(err, models.ErrForbidden):
		return http.StatusForbidden, "forbidden", "Not allowed to access this report"
	case errors.Is(err, models.ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge, "payload_too_large", err.Error()
	case errors.Is(err, models.ErrUnsupportedMediaType):
		return http.StatusUnsupportedMediaType, "unsupported_media_type", err.Error()
	case errors.Is(err, models.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited", "Too many requests"
	case errors.Is(err, service.ErrMediaUnavailable):
		return http.StatusServiceUnavailable, "media_unavailable", "Media uploads are not configured"
	}
	return http.StatusInternalServerError, "internal_error", "Internal server error"
}

// writeError renders err in the envelope. It also serves as the
// middleware.ErrorWriter for authentication and rate limiting.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := errorStatus(err)
	env := Envelope{Message: message, Error: code}

	var verr *models.ValidationError
	if errors.As(err, &verr) {
		env.Fields = verr.Fields
	}

	logger := middleware.LoggerFromRequest(r, s.Logger)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	} else {
		logger.Debug("request rejected", zap.Int("status", status), zap.Error(err))
	}
	writeEnvelope(w, status, env)
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxJSONBody)
	defer func() { _ = body.Close() }()
	if err := json.NewDecoder(body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return models.ErrPayloadTooLarge
		}
		return models.NewValidationError("body", "invalid JSON: %v", err)
	}
	return nil
}
