package api

import (
	"github.com/gin-gonic/gin"

	"sensor-gateway/internal/logging"
)

func NewRouter(h *Handler, logger *logging.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLoggingMiddleware(logger))

	r.GET("/healthz", h.Health)
	r.GET("/ws", h.Stream)

	api := r.Group("/api/v0")
	{
		api.GET("/sensors", h.ListSensors)
		api.GET("/sensors/:id", h.GetSensor)
		api.GET("/subscriptions/:chat_id", h.GetSubscriptions)
	}
	return r
}
