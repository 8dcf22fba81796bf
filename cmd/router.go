package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go-broadcast-relay/internal/infrastructure/hub"
	"go-broadcast-relay/internal/infrastructure/logger"
	"go-broadcast-relay/internal/interfaces/rest/v1/handler"
)

func InitRouter(hubInstance *hub.Hub, registry *prometheus.Registry, log logger.Logger) http.Handler {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	rootGroup := router.Group("")

	rootGroup.GET("/debug", func(c *gin.Context) {
		log.Debug("Debug endpoint hit!")
		c.JSON(http.StatusOK, gin.H{"debug": "working"})
	})

	statusHandler := handler.NewStatusHandler(hubInstance, log)
	hubGroup := rootGroup.Group("/hub")
	{
		hubGroup.GET("/status", statusHandler.Status)
		hubGroup.GET("/peers", statusHandler.Peers)
	}

	rootGroup.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	return router
}
