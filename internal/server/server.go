// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/guardian-os/guardian-risk/internal/alerts"
	"github.com/guardian-os/guardian-risk/internal/auth"
	"github.com/guardian-os/guardian-risk/internal/config"
	"github.com/guardian-os/guardian-risk/internal/escalation"
	"github.com/guardian-os/guardian-risk/internal/family"
	"github.com/guardian-os/guardian-risk/internal/grooming"
	"github.com/guardian-os/guardian-risk/internal/health"
	"github.com/guardian-os/guardian-risk/internal/ingest"
	"github.com/guardian-os/guardian-risk/internal/logging"
	"github.com/guardian-os/guardian-risk/internal/metrics"
	"github.com/guardian-os/guardian-risk/internal/notify"
	"github.com/guardian-os/guardian-risk/internal/profile"
	"github.com/guardian-os/guardian-risk/internal/ratelimit"
	"github.com/guardian-os/guardian-risk/internal/realtime"
	"github.com/guardian-os/guardian-risk/internal/replay"
	"github.com/guardian-os/guardian-risk/internal/scoring"
	"github.com/guardian-os/guardian-risk/internal/security"
	"github.com/guardian-os/guardian-risk/internal/traces"
	"github.com/guardian-os/guardian-risk/internal/validation"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg *config.Config

	profiles   *profile.Service
	registry   *family.MemoryRegistry
	network    *family.Network
	generator  *alerts.Generator
	alertSvc   *alerts.Service
	alertStore alerts.Store
	digest     *alerts.DigestBuffer
	runStore   *escalation.RunStore
	scheduler  *escalation.Scheduler
	replayMgr  *replay.Manager
	sweeper    *replay.Sweeper
	quiet      *notify.QuietHours
	pipeline   *ingest.Pipeline
	authMgr    *auth.Manager
	hub        *realtime.Hub

	rateLimiter  *ratelimit.Limiter
	healthChecks *health.Registry
	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run
	stopTracing  func(context.Context) error

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:          cfg,
		logger:       logging.New(cfg.LogLevel, "json"),
		healthChecks: health.NewRegistry(),
	}

	for _, opt := range opts {
		opt(s)
	}

	// Storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var (
		profileStore profile.Store
		viewStore    family.ViewStore
		alertStore   alerts.Store
		replayStore  replay.Store
		authStore    auth.Store
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		profileStore = profile.NewPostgresStore(db)
		viewStore = family.NewPostgresViewStore(db)
		alertStore = alerts.NewPostgresStore(db)
		replayStore = replay.NewPostgresStore(db)
		authStore = auth.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		s.healthChecks.Register("database", func(ctx context.Context) health.Status {
			if err := db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	} else {
		profileStore = profile.NewMemoryStore()
		viewStore = family.NewMemoryViewStore()
		alertStore = alerts.NewMemoryStore()
		replayStore = replay.NewMemoryStore()
		authStore = auth.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	// Family registry is in-process in both modes: membership and guardian
	// chains come from the family-management layer, which syncs via the
	// registration endpoint on startup.
	s.registry = family.NewMemoryRegistry()

	// Scoring and grooming engines feed the profile service
	s.profiles = profile.NewService(profileStore, scoring.NewEngine(), grooming.NewDetector(grooming.DefaultConfig()), s.logger)
	s.network = family.NewNetwork(s.registry, viewStore, s.profiles, s.logger)

	// Alert generation and the acknowledgement surface
	s.digest = alerts.NewDigestBuffer()
	s.generator = alerts.NewGenerator(alertStore, alerts.Thresholds{
		Note:     cfg.NoteThreshold,
		Elevated: cfg.ElevatedThreshold,
		High:     cfg.HighThreshold,
		Critical: cfg.CriticalThreshold,
	}, cfg.InSchoolHours, s.digest, s.logger)
	s.alertStore = alertStore
	s.alertSvc = alerts.NewService(alertStore, s.logger)

	// Notification chain: webhook with signing, log fallback, quiet hours
	// deferral for non-escalating tiers
	router := notify.NewRouter(notify.NewWebhookNotifier(cfg.WebhookSecret), s.logger)
	s.quiet = notify.NewQuietHours(router, cfg.InQuietHours, s.logger)

	// Realtime hub for parent dashboard streaming
	s.hub = realtime.NewHub(s.logger)

	// Escalation chain with per-step timers
	s.runStore = escalation.NewRunStore()
	s.scheduler = escalation.NewScheduler(s.registry, s.quiet, s.runStore, cfg.EscalationTimeout, s.logger).
		WithEvents(func(run escalation.Run) {
			eventType := realtime.EventEscalationStep
			if run.Done() {
				eventType = realtime.EventEscalationDone
			}
			s.hub.BroadcastEscalation(eventType, run.FamilyID, run.AlertID, run.ID, string(run.Step), string(run.Outcome))
		})

	// Acknowledging an alert cancels its escalation run
	s.alertSvc.OnAcknowledge(func(ctx context.Context, a *alerts.Alert) {
		s.scheduler.CancelForAlert(a.ID)
		s.hub.BroadcastAlert(realtime.EventAlertAcknowledged, a)
	})

	// Replay capture and retention sweeping
	s.replayMgr = replay.NewManager(replayStore, s.logger).WithThreshold(s.cfg.CaptureThreshold)
	s.sweeper = replay.NewSweeper(s.replayMgr, cfg.SweepInterval, s.logger)

	// Device-key auth for event producers
	s.authMgr = auth.NewManager(authStore)

	// The ingest pipeline ties everything together
	s.pipeline = ingest.NewPipeline(s.profiles, s.registry, s.network, s.generator, alertStore, s.logger).
		WithEscalator(s.scheduler).
		WithNotifier(s.quiet).
		WithReplays(s.replayMgr).
		WithPublisher(s.hub)

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS for the parent dashboard (restrict origins in production deploys)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting, keyed by device key when present
	s.rateLimiter = ratelimit.New(ratelimit.Config{
		RequestsPerMinute: s.cfg.RateLimitRPS * 60,
		BurstSize:         s.cfg.RateLimitRPS,
		CleanupInterval:   time.Minute,
	})
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/healthz", s.healthHandler)
	s.router.GET("/readyz", s.readinessHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// WebSocket for the realtime alert feed
	s.router.GET("/ws", func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request)
	})

	s.router.GET("/api", s.infoHandler)

	// V1 API group. Device identity is attached when a key is presented;
	// individual groups decide whether it is required.
	v1 := s.router.Group("/v1")
	v1.Use(auth.Middleware(s.authMgr))

	// Family onboarding and device activation
	family.NewHandler(s.registry, s.registry, s.network).RegisterRoutes(v1)
	auth.NewHandler(s.authMgr, s.cfg.DeviceKeySecret).RegisterRoutes(v1)

	// Event ingest requires an activated device key
	events := v1.Group("")
	events.Use(auth.RequireDevice())
	ingest.NewHandler(s.pipeline).RegisterRoutes(events)

	// Parent dashboard surface: alert feed, contacts, replays, escalations
	alerts.NewHandler(s.alertSvc).RegisterRoutes(v1)
	profile.NewHandler(s.profiles).RegisterRoutes(v1)
	replay.NewHandler(s.replayMgr).RegisterRoutes(v1)
	escalation.NewHandler(s.runStore).RegisterRoutes(v1)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, checks := s.healthChecks.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "Guardian Risk",
		"description": "Contact risk intelligence and alert escalation for family safety",
		"version":     "0.1.0",
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	stopTracing, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
	} else {
		s.stopTracing = stopTracing
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.hub.Run(runCtx)

	// Start replay retention sweeper
	go s.sweeper.Start(runCtx)

	// Daily digest delivery plus deferred-notification flushing
	go s.deliveryLoop(runCtx)

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// deliveryLoop flushes quiet-hours deferred notifications once the window
// ends and delivers the daily digest at the configured hour.
func (s *Server) deliveryLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	var lastDigestDay string
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			if n := s.quiet.Flush(ctx); n > 0 {
				s.logger.Info("flushed deferred notifications", "count", n)
			}
			day := now.Format("2006-01-02")
			if now.Hour() == s.cfg.DigestHour && day != lastDigestDay {
				lastDigestDay = day
				n := s.digest.Flush(ctx, s.alertStore, s.logger, now)
				s.logger.Info("daily digest delivered", "alerts", n)
			}
		}
	}
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (hub, sweeper, delivery)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Wait for in-flight escalation runs to park
	s.scheduler.Shutdown()
	s.logger.Info("escalation scheduler stopped")

	// Stop replay sweeper
	s.sweeper.Stop()
	s.logger.Info("replay sweeper stopped")

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Flush any buffered spans
	if s.stopTracing != nil {
		if err := s.stopTracing(ctx); err != nil {
			s.logger.Warn("tracing shutdown error", "error", err)
		}
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
