package transport

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/frahmantamala/courier-backoffice/internal"
	"github.com/frahmantamala/courier-backoffice/pkg/logger"
)

// BaseHandler provides common functionality for HTTP handlers
type BaseHandler struct {
	Logger *slog.Logger
}

// NewBaseHandler creates a base handler with logger
func NewBaseHandler(lg *slog.Logger) *BaseHandler {
	if lg == nil {
		lg = logger.LoggerWrapper()
		if lg == nil {
			lg = slog.Default()
		}
	}
	return &BaseHandler{Logger: lg}
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string      `json:"error"`
	Code    string      `json:"code,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

// WriteJSON writes a JSON response
func (h *BaseHandler) WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.Logger.Error("failed to encode JSON response", "error", err)
	}
}

// WriteError writes {"error": message}.
func (h *BaseHandler) WriteError(w http.ResponseWriter, status int, message string) {
	h.WriteJSON(w, status, ErrorResponse{Error: message})
}

// HandleServiceError maps AppErrors to their status and message. Anything
// else is an unexpected failure and surfaces as 500 with its message.
func (h *BaseHandler) HandleServiceError(w http.ResponseWriter, err error) {
	if appErr, ok := internal.IsAppError(err); ok {
		status := appErr.StatusCode
		if status == 0 {
			status = http.StatusInternalServerError
		}
		message := appErr.GetDetailedMessage()
		if appErr.Type == internal.ErrorTypeInternal && appErr.Cause != nil {
			message = appErr.Cause.Error()
		}
		if status >= http.StatusInternalServerError {
			h.Logger.Error("http error", "status", status, "error", err)
		} else {
			h.Logger.Warn("http error", "status", status, "code", appErr.Code, "message", message)
		}
		h.WriteJSON(w, status, ErrorResponse{Error: message, Code: string(appErr.Code), Details: appErr.Details})
		return
	}

	h.Logger.Error("http error", "status", http.StatusInternalServerError, "error", err)
	h.WriteError(w, http.StatusInternalServerError, err.Error())
}

// DecodeJSON reads the request body into dst. An empty body leaves dst untouched.
func (h *BaseHandler) DecodeJSON(r *http.Request, dst interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return internal.NewValidationError("invalid request body", internal.ErrCodeValidationFailed).WithCause(err)
	}
	return nil
}

// ExtractTokenFromHeader extracts Bearer token from Authorization header
func (h *BaseHandler) ExtractTokenFromHeader(r *http.Request) string {
	return BearerToken(r)
}

func BearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	const prefix = "bearer "
	if len(authHeader) < len(prefix) || !strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return ""
	}

	return strings.TrimSpace(authHeader[len(prefix):])
}
