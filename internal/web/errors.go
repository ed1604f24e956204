package web

// errors.go maps service errors to HTTP responses. Every error body has the
// same shape:
//
//	{"error": "...", "message": "...", "action": "...", "code": "UPL001"}
//
// The technical error is only logged, with the request id; clients get the
// message from core.MapError.

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/bulkimport/internal/core"
)

// ErrorResponse represents the JSON structure for API error responses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// statusFor picks the HTTP status for a service error.
func statusFor(err error) int {
	var cfgErr *core.ConfigError
	switch {
	case errors.As(err, &cfgErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrUploadNotFound),
		errors.Is(err, core.ErrJobNotFound),
		errors.Is(err, core.ErrReportNotFound),
		errors.Is(err, core.ErrDatasetNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrUploadIncomplete),
		errors.Is(err, core.ErrUploadSealed),
		errors.Is(err, core.ErrJobActive),
		errors.Is(err, core.ErrJobFinished),
		errors.Is(err, core.ErrOffsetMismatch):
		return http.StatusConflict
	case errors.Is(err, core.ErrUploadTooLarge),
		errors.Is(err, core.ErrChunkTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, core.ErrEmptyChunk):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrTooManyImports):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// respondError logs err and writes the user-facing error body.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	userMsg := core.MapError(err)

	level := s.logger.Warn
	if statusCode >= 500 {
		level = s.logger.Error
	}
	level("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", statusCode,
		"error", err.Error(),
		"code", userMsg.Code,
		"request_id", middleware.GetReqID(r.Context()),
	)

	if statusCode == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "5")
	}
	writeJSON(w, statusCode, ErrorResponse{
		Error:   userMsg.Message,
		Message: userMsg.Message,
		Action:  userMsg.Action,
		Code:    userMsg.Code,
	})
}

// writeJSON encodes v with sonic. Encoding failures are logged since the
// status line may already be sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := sonic.Marshal(v)
	if err != nil {
		slog.Error("json encode", "error", err)
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(data, '\n'))
}
