package server

import (
	"github.com/gin-gonic/gin"
	"github.com/mantonx/gstream/internal/middleware"
)

func (s *Server) setupRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(s.logger))
	r.Use(middleware.ErrorLogger(s.logger))

	// CORS for local dashboards
	r.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	api := r.Group("/api")
	{
		api.GET("/health", s.handleHealth)

		api.GET("/streams", s.handleStreams)
		api.POST("/probe", s.handleProbe)
		api.POST("/watch", s.handleWatch)
		api.DELETE("/watch", s.handleStopWatch)

		settings := api.Group("/settings")
		{
			settings.GET("", s.handleGetSettings)
			settings.PUT("/host", s.handleSetHost)
			settings.PUT("/player", s.handleSetPlayer)
			settings.PUT("/display", s.handleSetDisplay)
		}

		hist := api.Group("/history")
		{
			hist.GET("/online", s.handleHistoryOnline)
			hist.GET("/probes", s.handleHistoryProbes)
			hist.GET("/playback", s.handleHistoryPlayback)
		}

		api.GET("/processes", s.handleProcesses)
		api.GET("/events", s.handleRecentEvents)
		api.GET("/events/ws", s.handleEventsWS)
	}

	if s.metrics != nil {
		r.GET(s.cfg.MetricsPath, gin.WrapH(s.metrics.Handler()))
	}

	return r
}
