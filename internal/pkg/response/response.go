package response

import (
	"net/http"

	xerrors "copydrive-service/internal/pkg/errors"

	"github.com/gin-gonic/gin"
)

// Response defines the standard API response format.
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Success sends a successful response with a message and optional data.
func Success(c *gin.Context, status int, message string, data interface{}) {
	if status == 0 {
		status = http.StatusOK
	}

	c.JSON(status, Response{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// Error sends a standardized error response.
func Error(c *gin.Context, code int, message string, err error, data ...interface{}) {
	// Abort first so no later handler writes to the response
	c.Abort()

	response := Response{
		Success: false,
		Message: message,
	}

	if err != nil {
		response.Error = err.Error()
	}

	if len(data) > 0 {
		response.Data = data[0]
	}

	c.JSON(code, response)
}

// AppError renders a coded error. Only the public code and its details leave
// the process; the wrapped cause stays in the logs.
func AppError(c *gin.Context, err error) {
	c.Abort()

	code := xerrors.CodeOf(err)
	body := gin.H{
		"success": false,
		"error":   code,
		"message": code.Message(),
	}

	var appErr *xerrors.AppError
	if xerrors.As(err, &appErr) {
		for k, v := range appErr.Details {
			body[k] = v
		}
	}

	c.JSON(code.HTTPStatus(), body)
}

// RPC writes an RPC-style result object as-is.
func RPC(c *gin.Context, status int, result interface{}) {
	if status == 0 {
		status = http.StatusOK
	}
	c.JSON(status, result)
}

// ValidationError sends a 400 Bad Request response for invalid input.
func ValidationError(c *gin.Context, message string, err error) {
	Error(c, http.StatusBadRequest, message, err)
}

// Unauthorized sends a 401 Unauthorized response.
func Unauthorized(c *gin.Context, message string) {
	Error(c, http.StatusUnauthorized, message, nil)
}

// Forbidden sends a 403 Forbidden response.
func Forbidden(c *gin.Context, message string) {
	Error(c, http.StatusForbidden, message, nil)
}
