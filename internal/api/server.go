package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"license-gateway/internal/auth"
	"license-gateway/internal/cache"
	"license-gateway/internal/events"
	"license-gateway/internal/license"
	"license-gateway/internal/logging"
	"license-gateway/internal/metrics"
)

// Server represents the HTTP API server
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	config     ServerConfig

	validator   *license.Validator
	manager     *license.Manager
	store       license.Store
	auth        *auth.Authenticator
	recorder    *events.Recorder
	presence    *cache.CacheService
	metrics     *metrics.Metrics
	hub         *WSHub
	rateLimiter *RateLimiter
	logger      zerolog.Logger
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int
	Host           string
	ProductionMode bool
	AllowedOrigins []string
	// TrustedProxies may set X-Forwarded-For and X-Real-IP; empty trusts
	// no one and the peer address is the client
	TrustedProxies []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	TLSCertFile    string
	TLSKeyFile     string
	RateLimit      RateLimitConfig
}

// Deps are the collaborators the handlers run against. Bus may be nil, in
// which case the event stream is not served.
type Deps struct {
	Validator *license.Validator
	Manager   *license.Manager
	Store     license.Store
	Auth      *auth.Authenticator
	Bus       *events.EventBus
	Recorder  *events.Recorder
	Presence  *cache.CacheService // nil when Redis is disabled
	Metrics   *metrics.Metrics
	Logger    zerolog.Logger
}

// NewServer creates a new API server
func NewServer(config ServerConfig, deps Deps) *Server {
	// Set Gin mode
	if config.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}
	registerValidators()

	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}

	router := gin.New()
	router.HandleMethodNotAllowed = true
	if err := router.SetTrustedProxies(config.TrustedProxies); err != nil {
		deps.Logger.Error().Err(err).Strs("trusted_proxies", config.TrustedProxies).Msg("invalid trusted proxies, forwarded headers ignored")
		_ = router.SetTrustedProxies(nil)
	}

	s := &Server{
		router:    router,
		config:    config,
		validator: deps.Validator,
		manager:   deps.Manager,
		store:     deps.Store,
		auth:      deps.Auth,
		recorder:  deps.Recorder,
		presence:  deps.Presence,
		metrics:   deps.Metrics,
		logger:    deps.Logger.With().Str("component", "api").Logger(),
	}

	// CORS answers preflight before anything else sees the request
	router.Use(cors.New(corsConfig(config.AllowedOrigins)))
	router.Use(preflight)
	router.Use(logging.GinMiddleware(deps.Logger, deps.Metrics.ObserveRequest))
	router.Use(gin.Recovery())

	if config.RateLimit.Enabled {
		s.rateLimiter = NewRateLimiter(config.RateLimit.RequestsPerSecond, config.RateLimit.Burst)
	}

	if deps.Bus != nil {
		s.hub = NewWSHub(deps.Bus, deps.Metrics, s.logger)
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         config.Addr(),
		Handler:      router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}

	return s
}

// Addr returns the listen address
func (c ServerConfig) Addr() string {
	host := c.Host
	if host == "" {
		host = "0.0.0.0"
	}
	return host + ":" + strconv.Itoa(c.Port)
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.DefaultConfig()
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	cfg.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	cfg.AllowHeaders = []string{"authorization", "x-client-info", "apikey", "content-type", auth.HeaderAPIKey, logging.HeaderTraceID}
	cfg.ExposeHeaders = []string{"Content-Length", logging.HeaderTraceID}
	return cfg
}

// preflight answers OPTIONS requests that carry no Origin header, which the
// cors middleware lets through
func preflight(c *gin.Context) {
	if c.Request.Method == http.MethodOptions {
		c.AbortWithStatus(http.StatusNoContent)
		return
	}
	c.Next()
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	})
	s.router.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "method_not_allowed"})
	})

	// Health checks and scraping stay unauthenticated
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	for _, prefix := range []string{"", "/v1"} {
		group := s.router.Group(prefix)
		if s.rateLimiter != nil {
			group.Use(s.rateLimitMiddleware())
		}
		group.Use(s.auth.Middleware())

		group.POST("/validate", s.handleValidate)
		group.POST("/activate", s.handleActivate)
		group.POST("/deactivate", s.handleDeactivate)
		group.GET("/info", s.handleInfo)
		group.POST("/heartbeat", s.handleHeartbeat)

		if s.hub != nil {
			group.GET("/events/stream", auth.RequireScope(auth.ScopeAdmin), s.hub.HandleStream)
		}
	}
}

// Handler returns the router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server and the websocket hub. It blocks until the
// server stops; a graceful Shutdown is not reported as an error.
func (s *Server) Start(ctx context.Context) error {
	if s.hub != nil {
		go s.hub.Run(ctx)
	}
	if s.rateLimiter != nil {
		go s.rateLimiter.CleanupLoop(ctx, time.Minute, 10*time.Minute)
	}

	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("starting license gateway")

	var err error
	if s.config.TLSCertFile != "" && s.config.TLSKeyFile != "" {
		err = s.httpServer.ListenAndServeTLS(s.config.TLSCertFile, s.config.TLSKeyFile)
	} else {
		err = s.httpServer.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.hub != nil {
		s.hub.CloseAll()
	}
	return s.httpServer.Shutdown(ctx)
}

// handleHealth reports whether the store is reachable
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		logging.FromContext(c.Request.Context()).Error().Err(err).Msg("health check failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": "store_unreachable"})
		return
	}

	resp := gin.H{"status": "ok"}
	if s.hub != nil {
		resp["stream_clients"] = s.hub.GetClientCount()
	}
	if s.recorder != nil {
		written, dropped, failed := s.recorder.Stats()
		resp["events"] = gin.H{"written": written, "dropped": dropped, "failed": failed}
	}
	// A tripped presence cache degrades heartbeats only, so it never fails the check
	if s.presence != nil {
		stats := s.presence.GetStats()
		resp["presence"] = gin.H{"healthy": stats.Healthy, "failures": stats.FailureCount}
	}
	c.JSON(http.StatusOK, resp)
}

// ParseList splits a comma separated list, dropping blank entries
func ParseList(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
