package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/innovaquest/webchat/internal/service"
	"github.com/innovaquest/webchat/internal/session"
	"github.com/innovaquest/webchat/internal/webhook"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// statusFor maps service and session errors to HTTP status codes.
func statusFor(err error) int {
	var statusErr *webhook.StatusError
	switch {
	case errors.Is(err, session.ErrEmptyMessage),
		errors.Is(err, service.ErrInvalidVisitor):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrConversationNotFound),
		errors.Is(err, session.ErrNothingToDownload):
		return http.StatusNotFound
	case errors.Is(err, session.ErrNoSession):
		return http.StatusConflict
	case errors.Is(err, webhook.ErrMalformedResponse),
		errors.As(err, &statusErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// userMessage is the error text shown to clients. Internal failures are not
// described.
func userMessage(err error, status int) string {
	if status == http.StatusInternalServerError {
		return "internal error"
	}
	return err.Error()
}
