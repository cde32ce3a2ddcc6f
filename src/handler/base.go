package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"vibetunnel/server/src/errs"
)

// BaseHandler provides common functionality shared by every session/buffer/
// remote handler.
type BaseHandler struct{}

// NewBaseHandler creates a new base handler
func NewBaseHandler() *BaseHandler {
	return &BaseHandler{}
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error" example:"Error message"`
} // @name ErrorResponse

// SuccessResponse represents a success response
type SuccessResponse struct {
	Success bool   `json:"success" example:"true"`
	Message string `json:"message,omitempty" example:"ok"`
} // @name SuccessResponse

// statusForKind maps the error taxonomy to an HTTP status.
func statusForKind(kind errs.Kind) int {
	switch kind {
	case errs.KindSessionNotFound:
		return http.StatusNotFound
	case errs.KindSessionExited:
		return http.StatusGone
	case errs.KindInvalidDimensions, errs.KindInvalidRequest:
		return http.StatusBadRequest
	case errs.KindAuthRequired, errs.KindAuthRejected:
		return http.StatusUnauthorized
	case errs.KindRemoteUnreachable:
		return http.StatusServiceUnavailable
	case errs.KindRemoteConflict, errs.KindAlreadyRegistered:
		return http.StatusConflict
	case errs.KindPTYCreationFailed, errs.KindFileSystemError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// SendTypedError inspects err for a known errs.Kind and responds with the
// status/body that kind calls for; unrecognized errors fall back to a 500.
func (h *BaseHandler) SendTypedError(c *gin.Context, err error) {
	kind := errs.KindOf(err)

	switch kind {
	case errs.KindSessionExited:
		c.JSON(http.StatusGone, gin.H{"success": true, "message": "Session already exited"})
		return
	case errs.KindResizeDisabled:
		c.JSON(http.StatusOK, gin.H{"success": false, "error": "resize_disabled_by_server"})
		return
	}

	h.SendError(c, statusForKind(kind), err)
}

// SendError sends a standardized error response
func (h *BaseHandler) SendError(c *gin.Context, status int, err error) {
	c.JSON(status, ErrorResponse{
		Error: err.Error(),
	})
}

// SendSuccess sends a standardized success response
func (h *BaseHandler) SendSuccess(c *gin.Context, message string) {
	c.JSON(http.StatusOK, SuccessResponse{
		Success: true,
		Message: message,
	})
}

// SendJSON sends a JSON response with the given status code
func (h *BaseHandler) SendJSON(c *gin.Context, status int, data interface{}) {
	c.JSON(status, data)
}

// GetPathParam gets a path parameter and returns an error if it's invalid
func (h *BaseHandler) GetPathParam(c *gin.Context, param string) (string, error) {
	value := c.Param(param)
	if value == "" {
		return "", fmt.Errorf("missing required path parameter: %s", param)
	}
	return value, nil
}

// GetQueryParam gets a query parameter with a default value
func (h *BaseHandler) GetQueryParam(c *gin.Context, param string, defaultValue string) string {
	value := c.Query(param)
	if value == "" {
		return defaultValue
	}
	return value
}

// BindJSON binds the request body to a struct and returns an error if it fails
func (h *BaseHandler) BindJSON(c *gin.Context, obj interface{}) error {
	if err := c.ShouldBindJSON(obj); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
