package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/softbus/internal/bus"
	"github.com/nerrad567/softbus/internal/provision"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes not covered by bus.Status names.
const (
	ErrCodeBadRequest  = "bad_request"
	ErrCodeInternal    = "internal_error"
	ErrCodeUnavailable = "unavailable"
)

// httpStatus maps a bus status to the HTTP status code it is answered with.
func httpStatus(st bus.Status) int {
	switch st {
	case bus.StatusOK:
		return http.StatusOK
	case bus.StatusNotFound:
		return http.StatusNotFound
	case bus.StatusAlreadyExists, bus.StatusBusy:
		return http.StatusConflict
	case bus.StatusInvalidArgument:
		return http.StatusBadRequest
	case bus.StatusCapacityExceeded, bus.StatusOutOfMemory:
		return http.StatusInsufficientStorage
	case bus.StatusTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// statusOf extends bus.StatusOf with errors raised above the bus.
func statusOf(err error) bus.Status {
	if errors.Is(err, provision.ErrInvalidDefinition) {
		return bus.StatusInvalidArgument
	}
	return bus.StatusOf(err)
}

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBusError classifies err and writes the matching error response.
func writeBusError(w http.ResponseWriter, err error) {
	st := statusOf(err)
	writeError(w, httpStatus(st), st.String(), err.Error())
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}
