// ABOUTME: JSON response helpers shared by the HTTP handlers
// ABOUTME: Authorization failures are written by the auth package; these cover everything else

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// Error codes for failures outside the auth taxonomy.
const (
	codeBadRequest  = "bad_request"
	codeNotFound    = "not_found"
	codeConflict    = "conflict"
	codeRateLimited = "rate_limited"
	codeInternal    = "internal"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: message, Code: code})
}

// decodeJSON reads a JSON body into dst, rejecting unknown fields and
// trailing data. The returned message is safe to show callers.
func decodeJSON(r *http.Request, dst any) (string, bool) {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		return "content type must be application/json", false
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return "request body too large", false
		}
		return "invalid JSON body", false
	}
	if dec.More() {
		return "request body must contain a single JSON object", false
	}
	return "", true
}
