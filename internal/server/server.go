// Package server wires the gateway and serves its HTTP API.
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
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/honeykyc/gateway/internal/admin"
	"github.com/honeykyc/gateway/internal/audit"
	"github.com/honeykyc/gateway/internal/circuitbreaker"
	"github.com/honeykyc/gateway/internal/config"
	"github.com/honeykyc/gateway/internal/health"
	"github.com/honeykyc/gateway/internal/honeypot"
	"github.com/honeykyc/gateway/internal/identity"
	"github.com/honeykyc/gateway/internal/ipintel"
	"github.com/honeykyc/gateway/internal/ledger"
	"github.com/honeykyc/gateway/internal/logging"
	"github.com/honeykyc/gateway/internal/metrics"
	"github.com/honeykyc/gateway/internal/ratelimit"
	"github.com/honeykyc/gateway/internal/realtime"
	"github.com/honeykyc/gateway/internal/reconciliation"
	"github.com/honeykyc/gateway/internal/risk"
	"github.com/honeykyc/gateway/internal/routing"
	"github.com/honeykyc/gateway/internal/security"
	"github.com/honeykyc/gateway/internal/session"
	"github.com/honeykyc/gateway/internal/signals"
	"github.com/honeykyc/gateway/internal/traces"
	"github.com/honeykyc/gateway/internal/validation"
	"github.com/honeykyc/gateway/internal/verify"
	"github.com/honeykyc/gateway/internal/wallet"
	"github.com/honeykyc/gateway/internal/webhooks"
	"github.com/honeykyc/gateway/migrations"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg     *config.Config
	version string
	logger  *slog.Logger

	db    *sql.DB       // nil when using in-memory stores
	redis *redis.Client // nil when sessions are in-memory
	geoip *ipintel.GeoIPOracle

	oracle      identity.Oracle
	sessions    *session.Manager
	sweeper     *session.Timer
	reconciler  *reconciliation.Timer
	hub         *realtime.Hub
	notifier    *webhooks.Notifier
	rateLimiter *ratelimit.Limiter
	health      *health.Registry

	router        *gin.Engine
	httpSrv       *http.Server
	drainDelay    time.Duration
	traceShutdown func(context.Context) error

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

// WithVersion sets the version reported by /health.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// WithIdentityOracle replaces the configured telecom oracle (for testing).
func WithIdentityOracle(o identity.Oracle) Option {
	return func(s *Server) {
		s.oracle = o
	}
}

// WithDrainDelay sets how long Shutdown waits for load balancers to stop
// sending traffic.
func WithDrainDelay(d time.Duration) Option {
	return func(s *Server) {
		s.drainDelay = d
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		version:    "dev",
		logger:     logging.New(cfg.LogLevel, cfg.LogFormat),
		health:     health.NewRegistry(),
		drainDelay: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	shutdown, err := traces.Init(ctx, cfg.OTLPEndpoint, s.version, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to init tracing: %w", err)
	}
	s.traceShutdown = shutdown

	// Storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var (
		auditStore  audit.Store
		ledgerStore ledger.Store
	)
	if cfg.DatabaseURL != "" {
		db, err := openDatabase(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		s.db = db
		if err := migrations.Run(ctx, db, "up"); err != nil {
			s.logger.Warn("failed to apply migrations", "error", err)
		}
		auditStore = audit.NewPostgresStore(db)
		ledgerStore = ledger.NewPostgresStore(db)
		s.health.RegisterPinger("postgres", db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		auditStore = audit.NewMemoryStore()
		ledgerStore = ledger.NewMemoryStore()
		s.logger.Info("using in-memory storage")
	}

	sessionStore, err := s.sessionStore(ctx)
	if err != nil {
		return nil, err
	}
	s.sessions = session.NewManager(sessionStore, s.logger,
		session.WithIdleTimeout(cfg.SessionIdleTimeout),
		session.WithArchiveRetention(cfg.SessionArchiveRetention),
	)
	s.sweeper = session.NewTimer(s.sessions, cfg.SessionSweepInterval, s.logger)

	// Audit trail fan-out: live feed always, alert webhook when configured
	s.hub = realtime.NewHub(s.logger)
	recorder := audit.NewRecorder(auditStore, s.logger).AddSink(s.hub)
	if cfg.AlertWebhookURL != "" {
		n, err := webhooks.NewNotifier(webhooks.Config{
			URL:          cfg.AlertWebhookURL,
			Secret:       cfg.AlertWebhookSecret,
			AllowPrivate: cfg.IsDevelopment(),
		}, s.logger)
		if err != nil {
			return nil, err
		}
		s.notifier = n
		recorder.AddSink(n)
		s.logger.Info("alert webhook enabled")
	}

	ip, err := s.ipOracle()
	if err != nil {
		return nil, err
	}
	adapter, err := s.identityAdapter()
	if err != nil {
		return nil, err
	}

	riskCfg, err := riskConfig(cfg)
	if err != nil {
		return nil, err
	}
	collector := signals.NewCollector(s.sessions, recorder, ip)
	assessor := risk.NewAssessor(risk.NewEngine(riskCfg), s.sessions, auditStore)
	decider := routing.NewDecider(s.sessions, assessor, s.hub)

	decoy := honeypot.New(recorder, collector, cfg.WalletStartingBalance)
	s.sessions.OnEnd(decoy.Discard)
	s.sessions.OnEnd(s.hub.SessionEnded)
	s.reconciler = reconciliation.NewTimer(reconciliation.NewService(ledgerStore), cfg.ReconcileInterval, s.logger)
	walletSvc := wallet.NewService(s.sessions,
		ledger.New(ledgerStore, collector, cfg.WalletStartingBalance), decoy, s.hub)

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes(
		verify.NewHandler(verify.Services{
			Sessions:  s.sessions,
			Identity:  adapter,
			Collector: collector,
			Assessor:  assessor,
			Decider:   decider,
			Wallet:    walletSvc,
			Decoy:     decoy,
		}),
		admin.NewHandler(admin.NewAggregator(s.sessions, ledgerStore, decoy, auditStore), auditStore, s.hub),
	)

	if cfg.AdminSecret == "" {
		s.logger.Warn("ADMIN_SECRET not set, admin endpoints are disabled")
	}
	s.healthy.Store(true)
	return s, nil
}

func openDatabase(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

func (s *Server) sessionStore(ctx context.Context) (session.Store, error) {
	if s.cfg.RedisURL == "" {
		return session.NewMemoryStore(), nil
	}
	opts, err := redis.ParseURL(s.cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	s.redis = client

	// Documents outlive the idle window long enough to be archived and purged.
	store := session.NewRedisStore(client, s.cfg.SessionIdleTimeout+s.cfg.SessionArchiveRetention)
	s.health.RegisterPinger("redis", store)
	s.logger.Info("using Redis session store", "addr", opts.Addr)
	return store, nil
}

func (s *Server) ipOracle() (ipintel.Oracle, error) {
	prefixes, err := ipintel.NewPrefixOracle(s.cfg.VPNCIDRs)
	if err != nil {
		return nil, err
	}
	chain := ipintel.Chain{prefixes}
	if s.cfg.GeoIPAnonDBPath != "" {
		g, err := ipintel.OpenGeoIP(s.cfg.GeoIPAnonDBPath)
		if err != nil {
			return nil, err
		}
		s.geoip = g
		chain = append(chain, g)
		s.logger.Info("GeoIP anonymous-IP database loaded", "path", s.cfg.GeoIPAnonDBPath)
	}
	return chain, nil
}

func (s *Server) identityAdapter() (*identity.Adapter, error) {
	if s.oracle == nil {
		switch {
		case s.cfg.TelecomOracleURL != "":
			if err := security.ValidateEndpointURL(s.cfg.TelecomOracleURL, s.cfg.IsDevelopment()); err != nil {
				return nil, fmt.Errorf("invalid TELECOM_ORACLE_URL: %w", err)
			}
			s.oracle = identity.NewHTTPOracle(s.cfg.TelecomOracleURL, nil)
			s.logger.Info("using remote telecom oracle", "url", s.cfg.TelecomOracleURL)
		case s.cfg.TelecomDataPath != "":
			o, err := identity.LoadStaticOracle(s.cfg.TelecomDataPath)
			if err != nil {
				return nil, err
			}
			s.oracle = o
			s.logger.Info("using telecom directory file", "path", s.cfg.TelecomDataPath)
		default:
			s.oracle = identity.NewStaticOracle(identity.DemoDirectory)
			s.logger.Info("using built-in demo telecom directory")
		}
	}
	breaker := circuitbreaker.New("telecom_oracle", 5, 30*time.Second)
	s.health.Register("telecom_oracle", func(context.Context) health.Status {
		st := breaker.State()
		return health.Status{Name: "telecom_oracle", Healthy: st != "open", Detail: "circuit " + st}
	})
	return identity.NewAdapter(s.oracle, breaker, s.cfg.TelecomOracleTimeout), nil
}

// riskConfig applies the RISK_* settings to the stock engine configuration.
func riskConfig(cfg *config.Config) (risk.Config, error) {
	rc, err := risk.DefaultConfig().WithWeightOverrides(cfg.RiskWeights)
	if err != nil {
		return rc, err
	}
	if cfg.RiskThresholds != [3]int{} {
		rc.Thresholds = risk.Thresholds{
			Medium:   cfg.RiskThresholds[0],
			High:     cfg.RiskThresholds[1],
			Critical: cfg.RiskThresholds[2],
		}
	}
	if cfg.RiskFastLoginMillis > 0 {
		rc.FastLoginMillis = cfg.RiskFastLoginMillis
	}
	if cfg.RiskCopyPasteThreshold > 0 {
		rc.CopyPasteThreshold = cfg.RiskCopyPasteThreshold
	}
	if cfg.RiskYoungSIMDays > 0 {
		rc.YoungSIMDays = cfg.RiskYoungSIMDays
	}
	if cfg.RiskHoneypotLevel != "" {
		level, err := risk.ParseLevel(cfg.RiskHoneypotLevel)
		if err != nil {
			return rc, err
		}
		rc.HoneypotLevel = level
	}
	return rc, rc.Validate()
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
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware(s.cfg.CORSOrigins))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	s.rateLimiter = ratelimit.New(ratelimit.Config{
		RequestsPerMinute: s.cfg.RateLimitRPM,
		BurstSize:         s.cfg.RateLimitBurst,
	})
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(tracingMiddleware())
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

// tracingMiddleware opens a server span per request; handler spans nest
// under it.
func tracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		ctx, span := traces.StartSpan(c.Request.Context(), c.Request.Method+" "+route)
		defer span.End()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
		if c.Writer.Status() >= 500 {
			traces.Fail(span, fmt.Errorf("status %d", c.Writer.Status()))
		}
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
			logger.Debug("request completed",
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

func (s *Server) setupRoutes(verifyHandler *verify.Handler, adminHandler *admin.Handler) {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	api := s.router.Group("/api")
	verifyHandler.RegisterRoutes(api)

	adminGroup := api.Group("", admin.RequireAdmin(s.cfg.AdminSecret))
	adminHandler.RegisterRoutes(adminGroup)
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
	healthy, statuses := s.health.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   s.version,
		Checks:    statuses,
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

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server and background workers and blocks until ctx is
// done, a termination signal arrives or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		s.hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		s.sweeper.Start(gctx)
		return nil
	})
	g.Go(func() error {
		s.reconciler.Start(gctx)
		return nil
	})
	if s.notifier != nil {
		g.Go(func() error {
			s.notifier.Run(gctx)
			return nil
		})
	}
	if s.db != nil {
		g.Go(func() error {
			metrics.StartDBStatsCollector(gctx, s.db, 15*time.Second)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutdown requested")
		return s.Shutdown()
	})

	s.ready.Store(true)
	s.logger.Info("server ready")
	return g.Wait()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Give load balancers time to stop sending traffic
	time.Sleep(s.drainDelay)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var errs []error
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			errs = append(errs, err)
		}
	}

	s.sweeper.Stop()
	s.reconciler.Stop()
	s.rateLimiter.Stop()

	if err := s.traceShutdown(ctx); err != nil {
		s.logger.Error("trace exporter shutdown error", "error", err)
	}
	if err := s.geoip.Close(); err != nil {
		s.logger.Error("geoip close error", "error", err)
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("redis close error", "error", err)
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return errors.Join(errs...)
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Sessions exposes the session manager for testing.
func (s *Server) Sessions() *session.Manager {
	return s.sessions
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
