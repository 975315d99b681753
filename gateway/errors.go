package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	platform "github.com/ashsolei/HomeySmartHome"
)

// errorBody is the JSON shape of every gateway error response. Module
// error messages pass through untouched; stack traces and internal
// paths never appear here.
type errorBody struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

// statusFor maps platform error kinds to HTTP status codes. Only the
// status is derived here; the message stays whatever the source of the
// error produced.
func statusFor(err error) int {
	switch {
	case errors.Is(err, platform.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, platform.ErrModuleNotFound),
		errors.Is(err, platform.ErrDataNotSupported):
		return http.StatusNotFound
	case errors.Is(err, platform.ErrDuplicateModule):
		return http.StatusConflict
	case errors.Is(err, platform.ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, platform.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// errorCode is the short label recorded on the request error metric.
func errorCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "validation"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusRequestEntityTooLarge:
		return "too_large"
	case http.StatusTooManyRequests:
		return "rate_limited"
	default:
		return "internal"
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string, details ...string) {
	writeJSON(w, status, errorBody{Error: message, Details: details})
}
