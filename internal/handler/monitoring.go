package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"crisis-engine/internal/engine"
	"crisis-engine/internal/events"
)

type MonitoringHandler interface {
	GetPerformance(c *gin.Context)
	GetDashboard(c *gin.Context)
	StreamEvents(c *gin.Context)
}

type monitoringHandler struct {
	engine     *engine.Engine
	bus        *events.Bus
	bufferSize int
	logger     *zap.Logger
}

func NewMonitoringHandler(e *engine.Engine, bus *events.Bus, bufferSize int, logger *zap.Logger) MonitoringHandler {
	return &monitoringHandler{engine: e, bus: bus, bufferSize: bufferSize, logger: logger}
}

// GetPerformance handles GET /api/v1/performance
func (h *monitoringHandler) GetPerformance(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"performance": h.engine.GetPerformance()})
}

// GetDashboard handles GET /api/v1/dashboard
func (h *monitoringHandler) GetDashboard(c *gin.Context) {
	d, err := h.engine.Dashboard(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to build dashboard", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to build dashboard"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"dashboard": d})
}

// StreamEvents handles GET /api/v1/events as server-sent events.
// Query parameters:
// - kinds: comma separated event kinds (optional, default all)
func (h *monitoringHandler) StreamEvents(c *gin.Context) {
	var kinds []events.Kind
	if raw := c.Query("kinds"); raw != "" {
		for _, k := range strings.Split(raw, ",") {
			if k = strings.TrimSpace(k); k != "" {
				kinds = append(kinds, events.Kind(k))
			}
		}
	}

	sub := h.bus.Subscribe(h.bufferSize, kinds...)
	defer sub.Close()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.SSEvent("ready", gin.H{"kinds": kinds})
	c.Writer.Flush()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			c.SSEvent(string(ev.Kind), ev)
			c.Writer.Flush()
		}
	}
}
