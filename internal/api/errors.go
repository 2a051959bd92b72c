// Package api provides error handling utilities for HTTP APIs
package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	gerrors "github.com/mantonx/gstream/internal/errors"
)

// StatusUnknown marks a stream whose state could not be determined
const StatusUnknown = "unknown"

// ErrorResponse represents the standard error response format
type ErrorResponse struct {
	Error   ErrorDetails `json:"error"`
	Status  string       `json:"status,omitempty"`
	Success bool         `json:"success"`
}

// ErrorDetails contains detailed error information
type ErrorDetails struct {
	Code      string                 `json:"code"`
	Type      string                 `json:"type"`
	Message   string                 `json:"message"`
	URL       string                 `json:"url,omitempty"`
	Retryable bool                   `json:"retryable"`
	Context   map[string]interface{} `json:"context,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// RespondWithError sends a structured error response with a status code
// derived from the error's classification
func RespondWithError(c *gin.Context, logger hclog.Logger, err error) {
	requestID := c.GetString(RequestIDKey)

	details := ErrorDetails{
		Code:      gerrors.Kind(err),
		Type:      string(gerrors.GetType(err)),
		Message:   err.Error(),
		Retryable: gerrors.IsRecoverable(err),
		Context:   gerrors.GetDetails(err),
		RequestID: requestID,
	}
	var ge *gerrors.Error
	if errors.As(err, &ge) {
		details.URL = ge.URL
	}

	response := ErrorResponse{Error: details}
	if gerrors.IsStatusUnknown(err) {
		response.Status = StatusUnknown
	}

	httpStatus := HTTPStatus(err)
	if logger != nil {
		if httpStatus >= http.StatusInternalServerError {
			logger.Warn("request failed", "path", c.Request.URL.Path, "error", err, "request_id", requestID)
		} else {
			logger.Debug("request rejected", "path", c.Request.URL.Path, "error", err, "request_id", requestID)
		}
	}

	c.AbortWithStatusJSON(httpStatus, response)
}

// RespondWithValidationError sends a 400 for a malformed request
func RespondWithValidationError(c *gin.Context, message string, err error) {
	details := ErrorDetails{
		Code:      "validation",
		Type:      "request",
		Message:   message,
		RequestID: c.GetString(RequestIDKey),
	}
	if err != nil {
		details.Context = map[string]interface{}{"details": err.Error()}
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: details})
}

// HTTPStatus maps an error to a response code. Failures of the external
// tools are upstream failures (502).
func HTTPStatus(err error) int {
	switch gerrors.GetType(err) {
	case gerrors.ErrorTypeProbe, gerrors.ErrorTypePlayback:
		return http.StatusBadGateway
	case gerrors.ErrorTypeConfig:
		return http.StatusBadRequest
	case gerrors.ErrorTypeTransport:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Request ID context key and header
const (
	RequestIDKey    = "request_id"
	RequestIDHeader = "X-Request-ID"
)
