package http

import (
	"net/http"
	"time"

	"rendezvous/internal/core/domain"
	"rendezvous/internal/core/ports"
	"rendezvous/internal/infrastructure/monitoring"
	apperrors "rendezvous/pkg/errors"
	"rendezvous/pkg/validation"

	"github.com/gin-gonic/gin"
)

type SignalHandler struct {
	session ports.SessionService
	health  *monitoring.HealthChecker
	now     func() time.Time
}

var _ ports.HTTPHandler = (*SignalHandler)(nil)

func NewSignalHandler(session ports.SessionService, health *monitoring.HealthChecker) *SignalHandler {
	return &SignalHandler{
		session: session,
		health:  health,
		now:     time.Now,
	}
}

func (h *SignalHandler) SetupRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)

	api := router.Group("/api/v1")
	{
		api.GET("/connections", h.ListConnections)
		api.GET("/connections/:id", h.GetConnection)
	}
}

func (h *SignalHandler) Health(c *gin.Context) {
	stats := h.session.Stats()
	c.JSON(http.StatusOK, gin.H{
		"status":      "Server is running",
		"timestamp":   h.now().UTC().Format(time.RFC3339),
		"connections": stats.Connections,
		"registered":  stats.Registered,
	})
}

func (h *SignalHandler) Ready(c *gin.Context) {
	status := h.health.CheckAll(c.Request.Context())
	if status.Status != monitoring.StatusHealthy {
		c.JSON(http.StatusServiceUnavailable, status)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *SignalHandler) ListConnections(c *gin.Context) {
	connections := h.session.Connections()
	c.JSON(http.StatusOK, gin.H{
		"connections": connections,
		"count":       len(connections),
	})
}

func (h *SignalHandler) GetConnection(c *gin.Context) {
	id := c.Param("id")
	if err := validation.ValidateConnectionID(id); err != nil {
		c.Error(apperrors.NewInvalidInputError(err.Error()).WithContext("id", id))
		return
	}

	for _, info := range h.session.Connections() {
		if info.ID == domain.ConnectionID(id) {
			c.JSON(http.StatusOK, info)
			return
		}
	}
	c.Error(apperrors.NewNotFoundError("connection").WithContext("id", id))
}
