package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"sr-zone-engine/internal/regime"
	"sr-zone-engine/internal/risk"
	"sr-zone-engine/internal/zones"
)

// Server exposes the engine's state over HTTP: health, scored zone
// snapshots, regime status, risk previews and Prometheus metrics.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	engine     EngineAPI
	config     ServerConfig
	logger     zerolog.Logger
	startedAt  time.Time
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host           string
	Port           int
	AllowedOrigins []string
	ProductionMode bool
	MetricsEnabled bool
	MetricsPath    string
}

// EngineAPI is the surface the engine exposes to the HTTP layer.
type EngineAPI interface {
	Symbols() []string
	ScoredSnapshot(symbol string) (zones.Snapshot, bool)
	RegimeStatus(symbol string) (regime.Status, bool)
	PreviewSignal(ctx context.Context, sig risk.Signal, entry float64) (*risk.Parameters, error)
	Status() map[string]interface{}
}

// NewServer creates the API server and registers all routes.
func NewServer(config ServerConfig, engine EngineAPI, logger zerolog.Logger) *Server {
	if config.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(config.AllowedOrigins) == 1 && config.AllowedOrigins[0] == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = config.AllowedOrigins
		corsConfig.AllowCredentials = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type"}
	router.Use(cors.New(corsConfig))

	server := &Server{
		router:    router,
		engine:    engine,
		config:    config,
		logger:    logger.With().Str("component", "api").Logger(),
		startedAt: time.Now(),
	}
	server.setupRoutes()

	return server
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/zones/:symbol", s.handleZones)
		v1.GET("/regime/:symbol", s.handleRegime)
		v1.POST("/risk/preview", s.handleRiskPreview)
		v1.GET("/status", s.handleStatus)
	}

	if s.config.MetricsEnabled {
		path := s.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		s.router.GET(path, gin.WrapH(promhttp.Handler()))
	}
}

// Router returns the underlying gin engine, used by handler tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start starts the HTTP server and blocks until shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("addr", addr).Msg("starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down HTTP server")

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// errorResponse is a helper to send error responses.
func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":   true,
		"message": message,
	})
}

// successResponse is a helper to send success responses.
func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}
