package handler

// RESPONSE HELPERS:
// Every JSON response goes through writeJSON, every failure through
// writeError, so the API has exactly one error shape:
//
//	{"ok": false, "error": "BAD_SLOT", "message": "slot \"10\" is not a single digit 0-9"}
//
// Clients switch on "error" (a stable code); "message" is for humans.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/protoface/internal/apperror"
)

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error"`             // machine-readable code
	Message string `json:"message,omitempty"` // human-readable description
}

// OKResponse is the body of a bare success.
type OKResponse struct {
	OK bool `json:"ok"`
}

// writeJSON sends a JSON response with the given status code.
//
// HEADER ORDER MATTERS:
// Headers and status must be set BEFORE the body is written; once Encode
// writes, later header changes are silently ignored.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// headers are already sent, all we can do is log
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// statusOf maps an error kind to an HTTP status.
//
// The service layer never knows about status codes; this is the one place
// where domain errors become HTTP.
func statusOf(err error) int {
	switch {
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, apperror.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps err to a status and an {ok:false,error:<code>} body.
//
// Typed application errors expose their code and message. Anything else is
// an INTERNAL error whose details stay in the log: raw messages may contain
// file paths or backend responses.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		status := statusOf(err)
		if status == http.StatusInternalServerError {
			logger.Error("request failed",
				slog.String("code", appErr.Code),
				slog.String("error", err.Error()),
			)
		}
		writeJSON(w, status, ErrorResponse{Error: appErr.Code, Message: appErr.Message})
		return
	}

	logger.Error("internal error", slog.String("error", err.Error()))
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:   apperror.CodeInternal,
		Message: "An internal error occurred",
	})
}
