package errors

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// APIError is the JSON body of every error response.
type APIError struct {
	Error   string                 `json:"error"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// NewAPIError creates a new APIError with the given message and optional details.
func NewAPIError(message string, details map[string]interface{}) *APIError {
	return &APIError{
		Error:   message,
		Details: details,
	}
}

func respond(c *gin.Context, status int, message string, details map[string]interface{}) {
	c.JSON(status, NewAPIError(message, details))
}

// BadRequest sends a 400 response.
func BadRequest(c *gin.Context, message string, details map[string]interface{}) {
	respond(c, http.StatusBadRequest, message, details)
}

// NotFound sends a 404 response.
func NotFound(c *gin.Context, message string, details map[string]interface{}) {
	respond(c, http.StatusNotFound, message, details)
}

// Internal sends a 500 response. The message must not leak internal error text.
func Internal(c *gin.Context, message string, details map[string]interface{}) {
	respond(c, http.StatusInternalServerError, message, details)
}

// ServiceUnavailable sends a 503 response.
func ServiceUnavailable(c *gin.Context, message string, details map[string]interface{}) {
	respond(c, http.StatusServiceUnavailable, message, details)
}
