package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/gridlight-project/gridlight/internal/config"
	"github.com/gridlight-project/gridlight/internal/db"
	"github.com/gridlight-project/gridlight/internal/metrics"
	intnet "github.com/gridlight-project/gridlight/internal/network"
	"github.com/gridlight-project/gridlight/internal/registry"
)

// Server is the admin REST API: read-only monitoring of peers and
// rooms, operator controls (kick, room teardown, shutdown), and the
// Prometheus scrape endpoint.
type Server struct {
	cfg      *config.Config
	registry *registry.Registry
	journal  *db.Journal

	startedAt time.Time
	shutdown  func()

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates the API server. journal may be nil when the
// history journal is disabled; shutdown is invoked by POST
// /api/control/shutdown.
func NewServer(cfg *config.Config, reg *registry.Registry, journal *db.Journal, shutdown func()) *Server {
	if cfg.GetApplication().Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	return &Server{
		cfg:       cfg,
		registry:  reg,
		journal:   journal,
		startedAt: time.Now(),
		shutdown:  shutdown,
	}
}

// Start binds the listener and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.router = s.buildRouter()

	addr := fmt.Sprintf(":%d", s.cfg.GetApplication().API.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// SO_REUSEADDR so a restart can rebind immediately.
	lc := intnet.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	log.Info().Str("addr", addr).Msg("REST API server starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

// buildRouter creates the Gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestID())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	apiCfg := s.cfg.GetApplication().API
	allowedOrigins := apiCfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	rateLimiter := NewRateLimiter(apiCfg.RateLimitRPS)
	router.Use(rateLimiter.Middleware())

	// ---- Public endpoints ----
	router.GET("/healthz", s.handleHealthz)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/info", s.handleServerInfo)
	}

	// ---- Monitoring endpoints ----
	monitor := router.Group("/api/monitor")
	{
		monitor.GET("/status", s.handleStatus)
		monitor.GET("/rooms", s.handleListRooms)
		monitor.GET("/rooms/:name", s.handleGetRoom)
		monitor.GET("/peers", s.handleListPeers)
		monitor.GET("/peers/:id", s.handleGetPeer)
		monitor.GET("/history/sessions", s.handleHistorySessions)
		monitor.GET("/history/operations", s.handleHistoryOperations)
	}

	// ---- Control endpoints ----
	control := router.Group("/api/control")
	{
		control.POST("/peers/:id/kick", s.handleKickPeer)
		control.POST("/rooms/:name/destroy", s.handleDestroyRoom)
		control.POST("/shutdown", s.handleShutdown)
	}

	// ---- Configuration endpoints ----
	configure := router.Group("/api/configure")
	{
		configure.GET("/config", s.handleGetConfig)
		configure.POST("/server", s.handleSetServerConfig)
		configure.POST("/application", s.handleSetApplicationConfig)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
	})

	return router
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
