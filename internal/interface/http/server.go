// Package http exposes the guidance core over a small REST API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/complyhub/guidance-core/internal/application/command"
	"github.com/complyhub/guidance-core/internal/application/query"
	"github.com/complyhub/guidance-core/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config holds HTTP server configuration.
type Config struct {
	// Host is the address to bind to (e.g., "0.0.0.0" or "localhost").
	Host string

	// Port is the port to listen on.
	Port int

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum duration before timing out writes.
	WriteTimeout time.Duration

	// RequestTimeout bounds the context handed to application handlers.
	RequestTimeout time.Duration

	// AllowedOrigins for CORS. Empty disables the CORS middleware.
	AllowedOrigins []string

	// TrustedProxies are the proxies whose forwarding headers gin honours.
	TrustedProxies []string

	// RateLimitPerMinute is the sustained per-user request rate. 0 disables it.
	RateLimitPerMinute int

	// RateLimitBurst is the bucket size. 0 derives it from the rate.
	RateLimitBurst int

	// ServiceName labels server spans.
	ServiceName string

	// Version is reported in response metadata.
	Version string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Host:               "0.0.0.0",
		Port:               8080,
		ReadTimeout:        15 * time.Second,
		WriteTimeout:       15 * time.Second,
		RequestTimeout:     10 * time.Second,
		RateLimitPerMinute: 120,
		RateLimitBurst:     20,
		ServiceName:        "complyhub",
		Version:            "v1",
	}
}

// Address returns the full address string (host:port).
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// RecommendationsQuery builds the bucketed recommendation set.
type RecommendationsQuery interface {
	Handle(ctx context.Context, q query.GetRecommendationsQuery) (*query.GetRecommendationsResult, error)
}

// TopRecommendationsQuery builds the flattened ranked list.
type TopRecommendationsQuery interface {
	Handle(ctx context.Context, q query.GetTopRecommendationsQuery) (*query.GetTopRecommendationsResult, error)
}

// ProgressQuery builds the progress report.
type ProgressQuery interface {
	Handle(ctx context.Context, q query.GetProgressQuery) (*query.GetProgressResult, error)
}

// AchievementsQuery lists achievements from a user's point of view.
type AchievementsQuery interface {
	Handle(ctx context.Context, q query.GetAchievementsQuery) (*query.GetAchievementsResult, error)
}

// AchievementChecker runs the unlock check.
type AchievementChecker interface {
	Handle(ctx context.Context, cmd command.CheckAndUnlockAchievementsCommand) (*command.CheckAndUnlockAchievementsResult, error)
}

// StepProgressCommands records visits and completions.
type StepProgressCommands interface {
	RecordVisit(ctx context.Context, cmd command.RecordStepVisitCommand) (*command.StepProgressResult, error)
	MarkComplete(ctx context.Context, cmd command.MarkStepCompleteCommand) (*command.StepProgressResult, error)
}

// DocumentCompleter records document completion.
type DocumentCompleter interface {
	Handle(ctx context.Context, cmd command.MarkDocumentCompleteCommand) (*command.MarkDocumentCompleteResult, error)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Dependencies holds all handlers and services needed by the server.
type Dependencies struct {
	Recommendations    RecommendationsQuery
	TopRecommendations TopRecommendationsQuery
	Progress           ProgressQuery
	Achievements       AchievementsQuery
	CheckAchievements  AchievementChecker
	Steps              StepProgressCommands
	Documents          DocumentCompleter

	// Auth resolves the caller. Nil rejects every /api request.
	Auth *Authenticator

	// HealthChecks are run by GET /health, keyed by dependency name.
	HealthChecks map[string]HealthCheck

	// DefaultTopLimit is used when ?limit= is absent.
	DefaultTopLimit int

	Logger *logger.Logger
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server is the HTTP server for the REST API.
type Server struct {
	config     Config
	deps       Dependencies
	engine     *gin.Engine
	httpServer *http.Server
	logger     *logger.Logger
	limiter    *rateLimiter

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
}

// NewServer creates a new HTTP server with the given configuration and dependencies.
func NewServer(config Config, deps Dependencies) *Server {
	s := &Server{
		config: config,
		deps:   deps,
		logger: deps.Logger,
	}
	if s.logger == nil {
		s.logger = logger.Nop()
	}
	s.logger = s.logger.With(logger.Component("http"))
	if s.deps.DefaultTopLimit <= 0 {
		s.deps.DefaultTopLimit = 5
	}
	if config.RateLimitPerMinute > 0 {
		s.limiter = newRateLimiter(config.RateLimitPerMinute, config.RateLimitBurst)
	}

	s.engine = s.buildEngine()
	s.httpServer = &http.Server{
		Addr:         config.Address(),
		Handler:      s.engine,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) buildEngine() *gin.Engine {
	r := gin.New()
	if err := r.SetTrustedProxies(s.config.TrustedProxies); err != nil {
		s.logger.Warn("invalid trusted proxies, trusting none", logger.Err(err))
		_ = r.SetTrustedProxies(nil)
	}

	r.Use(s.recoveryMiddleware())
	r.Use(s.requestIDMiddleware())
	if len(s.config.AllowedOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     s.config.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Request-ID", "X-User-ID"},
			ExposeHeaders:    []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}
	name := s.config.ServiceName
	if name == "" {
		name = "complyhub"
	}
	r.Use(otelgin.Middleware(name))
	r.Use(s.loggingMiddleware())

	s.setupRoutes(r)
	return r
}

// ══════════════════════════════════════════════════════════════════════════════
// ROUTING
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) setupRoutes(r *gin.Engine) {
	r.GET("/health", s.handleHealth)

	api := r.Group("/api/v1")
	api.Use(s.timeoutMiddleware())
	if s.deps.Auth != nil {
		api.Use(s.deps.Auth.RequireUser())
	} else {
		api.Use(func(c *gin.Context) {
			abortJSONError(c, http.StatusUnauthorized, "unauthorized", "authentication is not configured")
		})
	}
	if s.limiter != nil {
		api.Use(s.rateLimitMiddleware())
	}

	api.GET("/recommendations", s.handleRecommendations)
	api.GET("/recommendations/top", s.handleTopRecommendations)
	api.GET("/progress", s.handleProgress)
	api.GET("/achievements", s.handleAchievements)
	api.POST("/achievements/check", s.handleCheckAchievements)
	api.POST("/steps/:id/visit", s.handleStepVisit)
	api.POST("/steps/:id/complete", s.handleStepComplete)
	api.POST("/documents/:id/complete", s.handleDocumentComplete)
}

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// requestIDMiddleware adds a request ID and a request-scoped logger.
func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = generateRequestID()
		}
		c.Set(requestIDKey, requestID)
		c.Header(requestIDHeader, requestID)

		ctx := logger.WithContext(c.Request.Context(), s.logger.WithRequestID(requestID))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// loggingMiddleware logs all HTTP requests.
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []logger.Field{
			logger.String("method", c.Request.Method),
			logger.String("path", c.FullPath()),
			logger.Int("status", c.Writer.Status()),
			logger.Latency(time.Since(start)),
			logger.String("ip", c.ClientIP()),
			logger.RequestID(getRequestID(c)),
		}
		if userID := c.GetString(userIDKey); userID != "" {
			fields = append(fields, logger.UserID(userID))
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			s.logger.Warn("http request", fields...)
			return
		}
		s.logger.Info("http request", fields...)
	}
}

// recoveryMiddleware recovers from panics and returns 500.
func (s *Server) recoveryMiddleware() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, recovered any) {
		s.logger.Error("panic recovered",
			logger.Any("error", recovered),
			logger.String("path", c.Request.URL.Path),
			logger.RequestID(getRequestID(c)),
		)
		abortJSONError(c, http.StatusInternalServerError, "internal_server_error", "An unexpected error occurred")
	})
}

// timeoutMiddleware bounds the request context.
func (s *Server) timeoutMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.config.RequestTimeout <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), s.config.RequestTimeout)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("starting HTTP server", logger.String("address", s.config.Address()))

	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// StartAsync starts the server in a goroutine.
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Uptime returns the server uptime.
func (s *Server) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return 0
	}
	return time.Since(s.startedAt)
}

// Address returns the server address.
func (s *Server) Address() string {
	return s.config.Address()
}
