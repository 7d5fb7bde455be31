// Package api holds the HTTP surface of the live service: read-only
// occupancy and typing endpoints, health probes, and the shared error
// envelope they all speak.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
)

// Error codes carried in the response envelope. Clients branch on the code,
// not the message.
const (
	ErrCodeValidation  = "validation_error"
	ErrCodeAuthFailed  = "auth_failed"
	ErrCodeNotFound    = "not_found"
	ErrCodeRateLimited = "rate_limited"
	ErrCodeInternal    = "internal_error"
	ErrCodeForbidden   = "forbidden"
	ErrCodeBadRequest  = "bad_request"
	ErrCodeUnavailable = "unavailable"
)

// ErrorResponse is the envelope every API error uses:
// {"error": {"code": "...", "message": "..."}}.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError emits the error envelope with the given status. Marshal
// failures fall back to plain text so the client always gets a response.
func WriteError(w http.ResponseWriter, ctx context.Context, status int, code, message string) {
	data, err := json.Marshal(ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
	if err != nil {
		slog.ErrorContext(ctx, "failed to marshal error response", "error", err)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("Internal server error"))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		slog.ErrorContext(ctx, "failed to write error response", "error", err)
	}
}
