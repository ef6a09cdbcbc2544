// Package apierr provides the shared JSON error envelope used by the
// manager and router HTTP surfaces (spec.md §7: "client-facing errors are
// structured JSON, not language exceptions").
package apierr

import (
	"encoding/json"
	"net/http"
)

// Body is the wire shape for the error responses the manager and router
// handlers write themselves. A backend's non-5xx response is relayed as is.
type Body struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// Write sends status with the given error/detail pair as a JSON body.
func Write(w http.ResponseWriter, status int, errMsg, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Body{Error: errMsg, Detail: detail})
}

// BadPayload writes a 400 for malformed or missing inbound fields.
func BadPayload(w http.ResponseWriter, detail string) {
	Write(w, http.StatusBadRequest, "bad_payload", detail)
}

// NoCandidate writes a 503 for spec.md §7's "No candidate" case.
func NoCandidate(w http.ResponseWriter) {
	Write(w, http.StatusServiceUnavailable, "no_backend_available", "")
}

// Upstream writes a 500 for a forward that failed after any retry.
func Upstream(w http.ResponseWriter, detail string) {
	Write(w, http.StatusInternalServerError, "backend_failure", detail)
}
