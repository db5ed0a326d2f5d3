// Package transport contains the HTTP router, middleware chain, and the
// session and WebSocket handlers of the wizard API.
package transport

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pitabwire/casewizard/internal/observability"
	"github.com/pitabwire/casewizard/model"
)

// statusForCode maps ErrorEnvelope codes to HTTP status codes.
var statusForCode = map[string]int{
	model.ErrBadRequest:            http.StatusBadRequest,
	model.ErrUnauthorized:          http.StatusUnauthorized,
	model.ErrForbidden:             http.StatusForbidden,
	model.ErrNotFound:              http.StatusNotFound,
	model.ErrConflict:              http.StatusConflict,
	model.ErrValidationError:       http.StatusUnprocessableEntity,
	model.ErrInvalidTransition:     http.StatusUnprocessableEntity,
	model.ErrRateLimited:           http.StatusTooManyRequests,
	model.ErrInternalError:         http.StatusInternalServerError,
	model.ErrBackendUnavailable:    http.StatusBadGateway,
	model.ErrBackendTimeout:        http.StatusGatewayTimeout,
	model.ErrNoProcedureBound:      http.StatusPreconditionFailed,
	model.ErrCaseInvalid:           http.StatusUnprocessableEntity,
	model.ErrCaseReadonly:          http.StatusConflict,
	model.ErrProcedureAlreadyBound: http.StatusConflict,
	model.ErrSessionNotFound:       http.StatusNotFound,
	model.ErrSessionClosed:         http.StatusGone,
}

// StatusFor returns the HTTP status for an error code. Unknown codes are
// reported as 502: they come from the case service.
func StatusFor(code string) int {
	if s, ok := statusForCode[code]; ok {
		return s
	}
	return http.StatusBadGateway
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

type errorResponse struct {
	Error *model.ErrorEnvelope `json:"error"`
}

// WriteError writes err as an error envelope. Errors that are not envelopes
// become a generic 500 so internal messages do not leak.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	var ee *model.ErrorEnvelope
	if !errors.As(err, &ee) {
		ee = model.NewInternalError()
	}

	out := *ee
	if out.TraceID == "" && r != nil {
		out.TraceID = observability.TraceIDFromContext(r.Context())
	}
	WriteJSON(w, StatusFor(out.Code), errorResponse{Error: &out})
}
