package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"orchestd/pkg/types"
)

// HTTPError allows errors outside pkg/types to carry a status code.
type HTTPError interface {
	error
	StatusCode() int
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

// writeError maps err onto its status code and stable kind and returns the
// status written.
func writeError(w http.ResponseWriter, err error) int {
	resp := types.NewErrorResponse(err)
	var he HTTPError
	if resp.Kind == "" && errors.As(err, &he) {
		resp.Code = he.StatusCode()
	}
	if resp.Code == http.StatusTooManyRequests {
		IncrementBackpressure(resp.Kind)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Code)
	_ = json.NewEncoder(w).Encode(resp)
	return resp.Code
}
