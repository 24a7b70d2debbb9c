package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"sensor-gateway/internal/logging"
	"sensor-gateway/internal/models"
	"sensor-gateway/internal/registry"
	"sensor-gateway/internal/store"
)

// health reports whether the telemetry subscription is currently up.
type health interface {
	Healthy() bool
}

// Handler serves the read-only operational API. Chat remains the only
// mutation surface; this API exists for dashboards and probes.
type Handler struct {
	store    *store.Store
	registry *registry.Registry
	source   health
	stream   *AlertStream
	logger   *logging.Logger
}

func NewHandler(st *store.Store, reg *registry.Registry, source health, stream *AlertStream, logger *logging.Logger) *Handler {
	return &Handler{store: st, registry: reg, source: source, stream: stream, logger: logger}
}

func (h *Handler) Health(c *gin.Context) {
	status := "ok"
	code := http.StatusOK
	if !h.source.Healthy() {
		status = "degraded" // telemetry subscription down, serving cached state
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":    status,
		"connected": h.source.Healthy(),
		"sensors":   h.store.Len(),
	})
}

func (h *Handler) ListSensors(c *gin.Context) {
	states := make([]models.SensorState, 0, h.store.Len())
	for st := range h.store.All() {
		states = append(states, st)
	}
	c.JSON(http.StatusOK, states)
}

func (h *Handler) GetSensor(c *gin.Context) {
	id := c.Param("id")
	st, err := h.store.Get(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Sensor not found"})
			return
		}
		h.logger.Errorf("Failed to get sensor %s: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get sensor"})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) GetSubscriptions(c *gin.Context) {
	chatIDStr := c.Param("chat_id")
	chatID, err := strconv.ParseInt(chatIDStr, 10, 64)
	if err != nil {
		h.logger.Errorf("Invalid chat_id %s: %v", chatIDStr, err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid chat_id"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"chat_id": chatID,
		"targets": h.registry.Subscriptions(chatID),
	})
}

// Stream upgrades to a WebSocket and feeds the client every published alert
// until it disconnects.
func (h *Handler) Stream(c *gin.Context) {
	h.stream.Serve(c.Writer, c.Request)
}
