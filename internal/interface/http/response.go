package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/complyhub/guidance-core/internal/domain/shared"
	"github.com/complyhub/guidance-core/pkg/logger"
)

const (
	requestIDHeader = "X-Request-ID"

	requestIDKey = "request_id"
	userIDKey    = "user_id"
)

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE ENVELOPE
// ══════════════════════════════════════════════════════════════════════════════

// JSONResponse represents a standard JSON response.
type JSONResponse struct {
	Success   bool          `json:"success"`
	Data      any           `json:"data,omitempty"`
	Error     *APIError     `json:"error,omitempty"`
	Meta      *ResponseMeta `json:"meta,omitempty"`
	RequestID string        `json:"request_id,omitempty"`
}

// APIError represents an API error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// ResponseMeta contains response metadata.
type ResponseMeta struct {
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

// writeJSON writes a success envelope.
func writeJSON(c *gin.Context, status int, data any) {
	c.JSON(status, JSONResponse{
		Success:   status >= 200 && status < 300,
		Data:      data,
		Meta:      &ResponseMeta{Timestamp: time.Now().UTC(), Version: "v1"},
		RequestID: getRequestID(c),
	})
}

// abortJSONError writes an error envelope and stops the handler chain.
func abortJSONError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, JSONResponse{
		Success:   false,
		Error:     &APIError{Code: code, Message: message},
		Meta:      &ResponseMeta{Timestamp: time.Now().UTC()},
		RequestID: getRequestID(c),
	})
}

// writeError maps an application error onto a status code.
func writeError(c *gin.Context, err error) {
	status, code := classifyError(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		logger.FromContext(c.Request.Context()).Error("request failed",
			logger.String("path", c.FullPath()),
			logger.Err(err),
		)
		message = "An unexpected error occurred"
	}
	var de *shared.DomainError
	if status != http.StatusInternalServerError && errors.As(err, &de) && de.Message != "" {
		message = de.Message
	}
	abortJSONError(c, status, code, message)
}

func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, context.Canceled):
		return 499, "canceled"
	case shared.IsValidation(err):
		return http.StatusBadRequest, "invalid_request"
	case shared.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case shared.IsAlreadyExists(err):
		return http.StatusConflict, "conflict"
	case shared.IsRetryable(err), shared.IsExternalService(err):
		return http.StatusServiceUnavailable, "unavailable"
	}
	return http.StatusInternalServerError, "internal_server_error"
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func generateRequestID() string {
	return uuid.NewString()
}

func getRequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

func currentUser(c *gin.Context) string {
	return c.GetString(userIDKey)
}
