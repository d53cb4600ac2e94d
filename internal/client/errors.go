package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/patrickwarner/civicreport/internal/models"
)

// ServerError is returned when the API answered with a non-2xx status.
type ServerError struct {
	Status  int
	Code    string
	Message string
	Fields  []models.FieldError
}

func (e *ServerError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("server error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("server error %d: %s", e.Status, e.Message)
}

// NetworkError wraps a transport failure: the request never produced a
// response.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *NetworkError) Unwrap() error { return e.Err }

// Outcome kinds reported by Normalize.
const (
	KindNone       = "none"
	KindServer     = "server"
	KindNetwork    = "network"
	KindUnexpected = "unexpected"
)

// Outcome is the flattened result shown to users of the SDK.
type Outcome struct {
	Success bool
	Message string
	Kind    string
	Status  int
}

// Normalize classifies err into a user-facing outcome.
func Normalize(err error) Outcome {
	if err == nil {
		return Outcome{Success: true, Kind: KindNone}
	}
	var serr *ServerError
	if errors.As(err, &serr) {
		msg := serr.Message
		if msg == "" {
			msg = fmt.Sprintf("request failed with status %d", serr.Status)
		}
		return Outcome{Message: msg, Kind: KindServer, Status: serr.Status}
	}
	var nerr *NetworkError
	if errors.As(err, &nerr) {
		if errors.Is(err, context.DeadlineExceeded) {
			return Outcome{Message: "The server took too long to respond", Kind: KindNetwork}
		}
		return Outcome{Message: "Unable to reach the server", Kind: KindNetwork}
	}
	return Outcome{Message: err.Error(), Kind: KindUnexpected}
}
