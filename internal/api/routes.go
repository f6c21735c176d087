package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eternisai/push-relay/internal/logger"
)

// NewRouter builds the gin engine with all routes registered.
func NewRouter(h *Handler, gatherer prometheus.Gatherer, log *logger.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logger.RequestLoggingMiddleware(log))

	router.GET("/health", h.Health)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/notifications", h.SubmitNotification)
		v1.POST("/tokens", h.RegisterToken)
		v1.GET("/tokens/health", h.TokenHealth)
		v1.GET("/deliveries/failures", h.RecentFailures)
	}

	return router
}
