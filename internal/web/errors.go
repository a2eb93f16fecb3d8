package web

// errors.go turns handler errors into responses.
//
// The technical error is logged with the request id. Clients get the mapped
// user message: a JSON envelope for API calls, an alert fragment for HTMX
// and plain text otherwise. Raw error text is only shown for domain errors,
// whose messages are written for users; infrastructure errors never leak.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/JonMunkholm/results-america/internal/core"
	"github.com/JonMunkholm/results-america/internal/logging"
	"github.com/JonMunkholm/results-america/internal/web/views"
)

// envelope is the body of every JSON response.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code,omitempty"`
}

// statusFor picks the HTTP status for a pipeline error.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrImportNotFound), errors.Is(err, core.ErrTemplateNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, core.ErrTooManyUploads):
		return http.StatusServiceUnavailable
	case core.IsDomainError(err), errors.Is(err, errNoFile), errors.Is(err, errInvalidMetadata):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs err and writes the mapped user message. data, when not
// nil, is sent alongside the error in the JSON envelope.
func respondError(w http.ResponseWriter, r *http.Request, err error, data any) {
	respondErrorStatus(w, r, err, statusFor(err), data)
}

// respondErrorStatus is respondError with the status chosen by the caller.
func respondErrorStatus(w http.ResponseWriter, r *http.Request, err error, status int, data any) {
	msg := core.MapError(err)

	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	logging.FromContext(r.Context()).Log(r.Context(), level, "request error",
		"method", r.Method,
		"path", r.URL.Path,
		"status", status,
		"code", msg.Code,
		"error", err.Error(),
	)

	detail := msg.Message
	if core.IsDomainError(err) {
		detail = err.Error()
	}

	switch {
	case isHTMX(r):
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		if err := views.ErrorAlert(detail, msg.Action, msg.Code).Render(r.Context(), w); err != nil {
			logging.FromContext(r.Context()).Error("render error alert", "error", err)
		}
	case wantsJSON(r):
		writeJSON(w, status, envelope{
			Success: false,
			Data:    data,
			Error:   detail,
			Message: msg.Message,
			Action:  msg.Action,
			Code:    msg.Code,
		})
	default:
		http.Error(w, msg.Message+" ("+msg.Code+")", status)
	}
}

// badRequest reports a malformed request that never reached the pipeline.
func badRequest(w http.ResponseWriter, r *http.Request, message string) {
	logging.FromContext(r.Context()).Warn("bad request", "path", r.URL.Path, "reason", message)
	if isHTMX(r) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusBadRequest)
		_ = views.ErrorAlert(message, "", "VAL001").Render(r.Context(), w)
		return
	}
	writeJSON(w, http.StatusBadRequest, envelope{
		Success: false,
		Error:   message,
		Message: message,
		Code:    "VAL001",
	})
}

func respondOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

// respondNotice answers HTMX requests with a success banner and everyone
// else with data.
func respondNotice(w http.ResponseWriter, r *http.Request, message string, data any) {
	if !isHTMX(r) {
		respondOK(w, data)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := views.Notice(message).Render(r.Context(), w); err != nil {
		logging.FromContext(r.Context()).Error("render notice", "error", err)
	}
}

// writeJSON logs encoding failures since the status line is already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}

func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}

// wantsJSON is true for API routes and clients that ask for JSON.
func wantsJSON(r *http.Request) bool {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "application/json") ||
		strings.Contains(r.Header.Get("Content-Type"), "application/json")
}
