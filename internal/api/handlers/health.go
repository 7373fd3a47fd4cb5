package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/music-arena/music-arena/internal/arena"
	"github.com/music-arena/music-arena/internal/battle"
)

type HealthHandler struct {
	service *battle.Service
	version string
}

func NewHealthHandler(service *battle.Service, version string) *HealthHandler {
	return &HealthHandler{service: service, version: version}
}

// HealthCheck reports process liveness. It never touches downstream
// services, so load balancers can poll it cheaply.
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"version": h.version,
	})
}

// DeepHealthCheck runs one synthetic battle through the full stack. Slow and
// expensive; meant for deploy gates, not liveness probes.
func (h *HealthHandler) DeepHealthCheck(c *gin.Context) {
	battleUUID, err := h.service.HealthBattle(c.Request.Context())
	if err != nil {
		ae := arena.AsError(err)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"code":   ae.Code,
			"detail": ae.Detail,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"version": h.version,
		"uuid":    battleUUID,
	})
}
