// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
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
	redis "github.com/go-redis/redis/v8"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/shopspring/decimal"

	"github.com/vlourenco/pagera/internal/config"
	"github.com/vlourenco/pagera/internal/health"
	"github.com/vlourenco/pagera/internal/idempotency"
	"github.com/vlourenco/pagera/internal/idgen"
	"github.com/vlourenco/pagera/internal/ledger"
	"github.com/vlourenco/pagera/internal/logging"
	"github.com/vlourenco/pagera/internal/metrics"
	"github.com/vlourenco/pagera/internal/payments"
	"github.com/vlourenco/pagera/internal/provider"
	"github.com/vlourenco/pagera/internal/ratelimit"
	"github.com/vlourenco/pagera/internal/security"
	"github.com/vlourenco/pagera/internal/tenant"
	"github.com/vlourenco/pagera/internal/txn"
	"github.com/vlourenco/pagera/internal/validation"
	"github.com/vlourenco/pagera/internal/webhooks"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg         *config.Config
	providers   *provider.Registry
	payments    *payments.Service
	reconciler  *webhooks.Reconciler
	tenants     tenant.Store
	rateLimiter *ratelimit.Limiter
	db          *sql.DB       // nil if using in-memory
	redis       *redis.Client // nil unless REDIS_URL set
	checks      *health.Registry
	router      *gin.Engine
	httpSrv     *http.Server
	logger      *slog.Logger

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

// WithProviders sets a custom provider registry (for testing)
func WithProviders(r *provider.Registry) Option {
	return func(s *Server) {
		s.providers = r
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	// Apply options first (may set providers/logger)
	for _, opt := range opts {
		opt(s)
	}

	maxAmount, err := decimal.NewFromString(cfg.MaxPaymentAmount)
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_PAYMENT_AMOUNT: %w", err)
	}

	// Storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var (
		entries    ledger.Store
		invoices   payments.InvoiceStore
		idemStore  idempotency.Store
		tenantBoot *tenant.MemoryStore
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
		entries = ledger.NewPostgresStore(db)
		invoices = payments.NewPostgresInvoiceStore(db)
		idemStore = idempotency.NewPostgresStore(db)
		s.tenants = tenant.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		entries = ledger.NewMemoryStore()
		invoices = payments.NewMemoryInvoiceStore()
		idemStore = idempotency.NewMemoryStore()
		tenantBoot = tenant.NewMemoryStore()
		s.tenants = tenantBoot
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	// Redis overrides the idempotency tier regardless of the ledger backend.
	// Records expire after the TTL instead of needing a sweep job.
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		s.redis = redis.NewClient(redisOpts)
		if err := s.redis.Ping(context.Background()).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		idemStore = idempotency.NewRedisStore(s.redis, cfg.IdempotencyTTL)
		s.logger.Info("using Redis idempotency store", "ttl", cfg.IdempotencyTTL)
	}

	// Demo tenant for in-memory mode so the API is usable out of the box
	if tenantBoot != nil && cfg.IsDevelopment() {
		tenantBoot.Put(&tenant.Tenant{
			ID:     "tn_demo",
			Name:   "Demo Tenant",
			Status: tenant.StatusActive,
		})
		s.logger.Info("seeded demo tenant", "tenant_id", "tn_demo")
	}

	// Provider registry: the mock is always available, real adapters only
	// when credentials are configured.
	if s.providers == nil {
		httpClient := &http.Client{Timeout: cfg.ProviderTimeout}
		provs := []provider.Provider{provider.NewMock(cfg.MockWebhookSecret, cfg.PIXExpiry)}
		if cfg.StripeAPIKey != "" {
			provs = append(provs, provider.NewStripe(cfg.StripeAPIKey, cfg.StripeWebhookSecret, httpClient))
			s.logger.Info("stripe adapter enabled")
		}
		if cfg.Safe2PayAPIKey != "" {
			provs = append(provs, provider.NewSafe2Pay(cfg.Safe2PayAPIURL, cfg.Safe2PayAPIKey, cfg.Safe2PayWebhookToken, httpClient))
			s.logger.Info("safe2pay adapter enabled")
		}
		if cfg.StoneAPIKey != "" {
			provs = append(provs, provider.NewStone(cfg.StoneAPIURL, cfg.StoneAPIKey, cfg.StoneWebhookToken, httpClient))
			s.logger.Info("stone adapter enabled")
		}
		s.providers = provider.NewRegistry(provs...)
	}

	// Subsystem health checks for /health.
	s.checks = health.NewRegistry()
	if s.db != nil {
		db := s.db
		s.checks.Register("database", func(ctx context.Context) health.Status {
			if err := db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	}
	if s.redis != nil {
		rdb := s.redis
		s.checks.Register("redis", func(ctx context.Context) health.Status {
			if err := rdb.Ping(ctx).Err(); err != nil {
				return health.Status{Name: "redis", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "redis", Healthy: true}
		})
	}

	tx := txn.NewCoordinator(s.db, cfg.CommitTimeout)
	guard := idempotency.NewGuard(idemStore, cfg.InProgressWait)

	s.payments = payments.NewService(
		s.providers, guard, entries, invoices, s.tenants, tx,
		cfg.ProviderTimeout, maxAmount,
	)
	s.reconciler = webhooks.NewReconciler(s.providers, guard, entries, tx)

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

	// CORS (allow all origins for development - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	s.rateLimiter = ratelimit.New(ratelimit.DefaultConfig())
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
			requestID = idgen.Hex(16)
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

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	s.router.GET("/api", s.infoHandler)

	// V1 API group
	v1 := s.router.Group("/v1")

	paymentsHandler := payments.NewHandler(s.payments)
	paymentsHandler.RegisterRoutes(v1)

	webhookHandler := webhooks.NewHandler(s.reconciler, int(s.cfg.WebhookMaxBodyKiB))
	webhookHandler.RegisterRoutes(v1)
}

// HealthResponse is the /health response body
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, statuses := s.checks.CheckAll(ctx)
	checks := make(map[string]string, len(statuses))
	for _, st := range statuses {
		if st.Healthy {
			checks[st.Name] = "healthy"
		} else {
			checks[st.Name] = "unhealthy"
		}
	}

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
		"name":        "Pagera",
		"description": "Payment processing and reconciliation engine",
		"version":     "0.1.0",
		"currency":    "BRL",
	})
}

// Run starts the HTTP server and blocks until shutdown
func (s *Server) Run(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

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

// Shutdown gracefully stops the server. In-flight atomic scopes get the
// shutdown grace period to commit or roll back before connections close.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
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
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
