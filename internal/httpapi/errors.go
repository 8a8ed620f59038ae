package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"noshowd/internal/model"
	"noshowd/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// statusFor maps an error to its HTTP status. Taxonomy errors carry their
// own status; everything else is a 500.
func statusFor(err error) int {
	var he HTTPError
	switch {
	case errors.As(err, &he):
		return he.StatusCode()
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, types.ErrorResponse{Error: msg, Code: status})
}

// writeError maps err and writes it, listing offending fields for
// validation failures.
func writeError(w http.ResponseWriter, err error) int {
	status := statusFor(err)
	writeJSON(w, status, types.ErrorResponse{
		Error:  err.Error(),
		Code:   status,
		Fields: model.ValidationFields(err),
	})
	return status
}
