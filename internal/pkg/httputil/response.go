package httputil

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ignite/leadflow/internal/pkg/logger"
)

// ErrorResponse is the error envelope of every non-2xx API response. Code
// is a stable snake_case name of the status, e.g. "not_found".
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// JSON encodes data with the given status.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Warn("response encode failed", "component", "httputil", "status", status, "error", err.Error())
	}
}

func OK(w http.ResponseWriter, data any)      { JSON(w, http.StatusOK, data) }
func Created(w http.ResponseWriter, data any) { JSON(w, http.StatusCreated, data) }

// Error writes the error envelope for status.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, ErrorResponse{Error: message, Code: statusCode(status)})
}

func BadRequest(w http.ResponseWriter, message string) { Error(w, http.StatusBadRequest, message) }
func NotFound(w http.ResponseWriter, message string)   { Error(w, http.StatusNotFound, message) }
func Conflict(w http.ResponseWriter, message string)   { Error(w, http.StatusConflict, message) }

// NotConfigured answers 501 for an optional backend the process runs without.
func NotConfigured(w http.ResponseWriter, what string) {
	Error(w, http.StatusNotImplemented, what+" is not configured")
}

// InternalError logs err and answers with a generic 500.
func InternalError(w http.ResponseWriter, err error) {
	logger.Error("internal error", "component", "httputil", "error", err.Error())
	Error(w, http.StatusInternalServerError, "internal server error")
}

func statusCode(status int) string {
	text := http.StatusText(status)
	if text == "" {
		return "error"
	}
	return strings.ReplaceAll(strings.ToLower(text), " ", "_")
}
