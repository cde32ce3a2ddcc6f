package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// SystemHandler serves the unauthenticated health probe.
type SystemHandler struct {
	*BaseHandler
	mode string // "standalone", "hq", or "remote"
}

// NewSystemHandler creates a new system handler reporting the given
// federation mode.
func NewSystemHandler(mode string) *SystemHandler {
	return &SystemHandler{BaseHandler: NewBaseHandler(), mode: mode}
}

// HealthResponse is the response body for the health endpoint
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Mode      string `json:"mode"`
} // @name HealthResponse

// HandleHealth handles GET requests to /api/health
// @Summary Health check
// @Description Returns health status; reachable without authentication.
// @Tags system
// @Produce json
// @Success 200 {object} HealthResponse "Health status"
// @Router /health [get]
func (h *SystemHandler) HandleHealth(c *gin.Context) {
	h.SendJSON(c, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().Format(time.RFC3339),
		Mode:      h.mode,
	})
}
