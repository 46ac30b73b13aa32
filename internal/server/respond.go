package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/metromont/castlink/internal/broker"
	apperrors "github.com/metromont/castlink/internal/errors"
)

// errorBody is every error response.
type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: code, Message: message})
}

func writeSignInRequired(w http.ResponseWriter) {
	writeError(w, http.StatusUnauthorized, "sign_in_required", "session expired, sign in again")
}

// classify maps an error to a status and a stable error code. The message
// shown to the client is err's text except for internal failures.
func classify(err error) (int, string) {
	var ae *apperrors.AuthError
	if errors.As(err, &ae) {
		switch ae.Reason {
		case apperrors.AuthNetwork, apperrors.AuthMalformedResponse:
			return http.StatusBadGateway, "upstream_unavailable"
		case apperrors.AuthNotConfigured:
			return http.StatusInternalServerError, "not_configured"
		}

		return http.StatusUnauthorized, "sign_in_required"
	}

	switch {
	case errors.Is(err, apperrors.ErrSignInRequired):
		return http.StatusUnauthorized, "sign_in_required"
	case errors.Is(err, apperrors.ErrNotConfigured):
		return http.StatusInternalServerError, "not_configured"
	case errors.Is(err, apperrors.ErrInvalidReport),
		errors.Is(err, apperrors.ErrUnknownAction),
		errors.Is(err, broker.ErrMissingCode),
		errors.Is(err, broker.ErrRedirectNotAllowed),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "invalid_request"
	case apperrors.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	}

	var se *apperrors.StorageError
	if errors.As(err, &se) || errors.Is(err, apperrors.ErrAPIResponse) {
		return http.StatusBadGateway, "storage_failed"
	}

	return http.StatusInternalServerError, "internal_error"
}

func (h *handlers) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, code := classify(err)

	logger := h.requestLogger(r)
	if status >= http.StatusInternalServerError {
		logger.Error(op, slog.String("error", err.Error()), slog.Int("status", status))
	} else {
		logger.Info(op, slog.String("error", err.Error()), slog.Int("status", status))
	}

	msg := err.Error()

	switch code {
	case "sign_in_required":
		msg = apperrors.ErrSignInRequired.Error()
	case "internal_error", "not_configured":
		msg = http.StatusText(status)
	}

	writeError(w, status, code, msg)
}
