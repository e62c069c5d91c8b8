// Package api exposes the control surface: start/stop/status over HTTP
// plus a websocket event stream for the dashboard.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"solbot/internal/engine"
	"solbot/internal/events"
	"solbot/internal/position"
	"solbot/internal/store"
)

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	ProductionMode bool     `json:"production_mode"`
	AllowOrigins   []string `json:"allow_origins"`
}

// DefaultServerConfig returns development defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:         "0.0.0.0",
		Port:         8080,
		AllowOrigins: []string{"http://localhost:5173"},
	}
}

// EngineControl is the surface the server drives. The engine implements it.
type EngineControl interface {
	Start(ctx context.Context) error
	Stop()
	Status() engine.Status
	Manager() *position.Manager
	ClosePosition(ctx context.Context, id string, price float64) (position.Trade, error)
}

// Repository is the read/write surface handlers use.
type Repository interface {
	HealthCheck(ctx context.Context) error
	GetTradeHistory(ctx context.Context, limit, offset int) ([]position.Trade, error)
	GetTradesSince(ctx context.Context, since time.Time) ([]position.Trade, error)
	GetRecentSignals(ctx context.Context, n int) ([]store.SignalRecord, error)
	GetBalanceHistory(ctx context.Context, since time.Time) ([]store.BalanceSnapshot, error)
	ListSettings(ctx context.Context) ([]store.Setting, error)
	GetSetting(ctx context.Context, key string) (*store.Setting, error)
	SetSetting(ctx context.Context, key string, valueType store.ValueType, value, actor string) error
}

// rateLimiter is a simple per-endpoint sliding window.
type rateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

func (r *rateLimiter) allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	windowStart := time.Now().Add(-r.window)
	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}
	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}
	r.requests[key] = append(recent, time.Now())
	return true
}

// Server is the HTTP control surface.
type Server struct {
	config     ServerConfig
	router     *gin.Engine
	httpServer *http.Server
	eng        EngineControl
	repo       Repository
	cache      *store.Cache
	hub        *WSHub
	limiter    *rateLimiter
	logger     zerolog.Logger
}

// NewServer builds the server and wires the websocket hub to the bus.
// cache may be nil.
func NewServer(cfg ServerConfig, eng EngineControl, repo Repository, cache *store.Cache, bus *events.Bus, logger zerolog.Logger) *Server {
	if cfg.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.AllowOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	s := &Server{
		config:  cfg,
		router:  router,
		eng:     eng,
		repo:    repo,
		cache:   cache,
		hub:     NewWSHub(logger),
		limiter: newRateLimiter(120, time.Minute),
		logger:  logger.With().Str("component", "api").Logger(),
	}
	s.setupRoutes()

	go s.hub.Run()
	bus.SubscribeAll(s.hub.BroadcastEvent)

	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	api := s.router.Group("/api")
	api.Use(s.rateLimitMiddleware())
	{
		api.GET("/status", s.handleStatus)
		api.POST("/engine/start", s.handleStart)
		api.POST("/engine/stop", s.handleStop)

		api.GET("/positions", s.handlePositions)
		api.POST("/positions/:id/close", s.handleClosePosition)

		api.GET("/trades", s.handleTrades)
		api.GET("/signals", s.handleSignals)
		api.GET("/balance/history", s.handleBalanceHistory)
		api.GET("/hours", s.handleHourStats)

		api.GET("/settings", s.handleListSettings)
		api.GET("/settings/:key", s.handleGetSetting)
		api.PUT("/settings/:key", s.handleSetSetting)
	}

	s.router.GET("/ws", s.handleWebSocket)
}

func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		if !s.limiter.allow(path) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
				"path":  path,
			})
			return
		}
		c.Next()
	}
}

// Run starts serving and blocks until the listener fails or Shutdown is
// called.
func (s *Server) Run() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	s.logger.Info().Str("addr", addr).Msg("api server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}
