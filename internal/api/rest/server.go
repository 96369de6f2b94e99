package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/KevinKickass/OpenWateringCore/internal/api/websocket"
	"github.com/KevinKickass/OpenWateringCore/internal/interfaces"
	"github.com/KevinKickass/OpenWateringCore/internal/metrics"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Server struct {
	router  *gin.Engine
	lm      interfaces.LifecycleManager
	logger  *zap.Logger
	server  *http.Server
	wsHub   *websocket.Hub
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewServer builds the HTTP API. m may be nil, in which case /metrics is not
// served.
func NewServer(lm interfaces.LifecycleManager, logger *zap.Logger, wsHub *websocket.Hub, m *metrics.Metrics) *Server {
	gin.SetMode(gin.ReleaseMode)

	cfg := lm.Config()

	s := &Server{
		router:  gin.New(),
		lm:      lm,
		logger:  logger.Named("rest"),
		wsHub:   wsHub,
		metrics: m,
		now:     time.Now,
	}

	s.setupRoutes(cfg.Server.CORSOrigins)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) Start() error {
	s.logger.Info("Starting REST API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Fatal("REST server failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.server.Shutdown(ctx)
}

// Handler exposes the router, used by tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes(origins []string) {
	// Middleware
	s.router.Use(gin.Recovery())
	s.router.Use(LoggerMiddleware(s.logger))
	s.router.Use(CORSMiddleware(origins))

	s.router.GET("/health", s.healthCheck)
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	api := s.router.Group("/api")
	{
		schedules := api.Group("/schedules")
		{
			schedules.GET("", s.listSchedules)
			schedules.POST("", s.createSchedule)
			schedules.PUT("/:id", s.updateSchedule)
			schedules.DELETE("/:id", s.deleteSchedule)
		}

		api.GET("/history/recent", s.recentHistory)
		api.GET("/alarms/recent", s.recentAlarms)

		pump := api.Group("/pump")
		{
			pump.POST("/start", s.startPump)
			pump.POST("/stop", s.stopPump)
			pump.GET("/latest", s.latestPumpState)
		}

		api.GET("/waterlevel/latest", s.latestWaterLevel)
		api.GET("/system/status", s.getSystemStatus)

		api.GET("/ws", s.wsLiveConnection)
	}
}

// WebSocket handler
func (s *Server) wsLiveConnection(c *gin.Context) {
	websocket.ServeWs(s.wsHub, c.Writer, c.Request)
}

// Health check reports the broker connection; the service itself is up if
// it answers.
func (s *Server) healthCheck(c *gin.Context) {
	status := "ok"
	snapshot := s.lm.Connection().Snapshot()
	if !snapshot.IsConnected {
		status = "degraded"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    status,
		"mqtt":      snapshot,
		"timestamp": s.now().UTC(),
	})
}
