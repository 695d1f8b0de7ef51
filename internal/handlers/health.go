package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/authcore/internal/monitoring"
	"github.com/charlesng35/authcore/pkg/response"
)

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	manager *monitoring.HealthManager
}

// NewHealthHandler wraps manager. A nil manager reports healthy with no checks.
func NewHealthHandler(manager *monitoring.HealthManager) *HealthHandler {
	if manager == nil {
		manager = monitoring.NewHealthManager()
	}
	return &HealthHandler{manager: manager}
}

// GET /health
func (h *HealthHandler) Overall(c *gin.Context) {
	writeReport(c, h.manager.Evaluate(requestContext(c)))
}

// GET /health/live
func (h *HealthHandler) Live(c *gin.Context) {
	writeReport(c, h.manager.EvaluateLiveness(requestContext(c)))
}

// GET /health/ready
func (h *HealthHandler) Ready(c *gin.Context) {
	writeReport(c, h.manager.EvaluateReadiness(requestContext(c)))
}

// Degraded components still serve traffic, so only a down report is 503.
func writeReport(c *gin.Context, report monitoring.HealthReport) {
	status := http.StatusOK
	if report.Status == monitoring.StatusDown {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, response.Response{Success: report.Success, Data: report})
}
