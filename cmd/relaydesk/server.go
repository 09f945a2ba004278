package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/relaydesk/relaydesk/api/handlers"
	"github.com/relaydesk/relaydesk/config"
	"github.com/relaydesk/relaydesk/directory"
	"github.com/relaydesk/relaydesk/dispatch"
	"github.com/relaydesk/relaydesk/escalation"
	"github.com/relaydesk/relaydesk/internal/cache"
	"github.com/relaydesk/relaydesk/internal/database"
	"github.com/relaydesk/relaydesk/internal/metrics"
	"github.com/relaydesk/relaydesk/internal/server"
	"github.com/relaydesk/relaydesk/internal/telemetry"
	"github.com/relaydesk/relaydesk/registry"
	"github.com/relaydesk/relaydesk/relay"
)

// statsInterval is the cadence of the pool and queue-depth gauge refresh.
const statsInterval = 30 * time.Second

// =============================================================================
// 🖥️ Server
// =============================================================================

// Server is the RelayDesk main server.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *gorm.DB

	httpManager    *server.Manager
	metricsManager *server.Manager

	// Domain services
	pool        *database.PoolManager
	cache       *cache.Manager
	registry    *registry.Registry
	directory   *directory.Directory
	relay       *relay.Relay
	coordinator *dispatch.Coordinator
	notifier    escalation.Notifier
	policy      *escalation.Policy
	sweeper     *escalation.Sweeper

	// Handlers
	healthHandler  *handlers.HealthHandler
	handoffHandler *handlers.HandoffHandler
	agentHandler   *handlers.AgentHandler
	streamHandler  *handlers.StreamHandler

	metricsCollector *metrics.Collector
	otelProviders    *telemetry.Providers

	backgroundCancel context.CancelFunc
	wg               sync.WaitGroup
}

// NewServer creates a new server instance.
func NewServer(cfg *config.Config, logger *zap.Logger, otelProviders *telemetry.Providers, db *gorm.DB) *Server {
	return &Server{
		cfg:           cfg,
		logger:        logger,
		otelProviders: otelProviders,
		db:            db,
	}
}

// =============================================================================
// 🚀 Startup
// =============================================================================

// Start brings up all services.
func (s *Server) Start() error {
	s.metricsCollector = metrics.NewCollector("relaydesk", s.logger)

	backgroundCtx, cancel := context.WithCancel(context.Background())
	s.backgroundCancel = cancel

	if err := s.initServices(backgroundCtx); err != nil {
		return fmt.Errorf("failed to init services: %w", err)
	}

	s.initHandlers()

	if err := s.startHTTPServer(backgroundCtx); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.startBackgroundLoops(backgroundCtx)

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Bool("escalation_notify", s.cfg.Notify.Enabled),
	)

	return nil
}

// =============================================================================
// 🔧 Initialization
// =============================================================================

// initServices wires the domain services onto the database and cache.
func (s *Server) initServices(ctx context.Context) error {
	poolCfg := database.DefaultPoolConfig()
	if s.cfg.Database.MaxOpenConns > 0 {
		poolCfg.MaxOpenConns = s.cfg.Database.MaxOpenConns
	}
	if s.cfg.Database.MaxIdleConns > 0 {
		poolCfg.MaxIdleConns = s.cfg.Database.MaxIdleConns
	}
	if s.cfg.Database.ConnMaxLifetime > 0 {
		poolCfg.ConnMaxLifetime = s.cfg.Database.ConnMaxLifetime
	}

	pool, err := database.NewPoolManager(s.db, poolCfg, s.logger)
	if err != nil {
		return fmt.Errorf("failed to create pool manager: %w", err)
	}
	s.pool = pool

	// Redis is optional. Presence and escalation dedup degrade to
	// database-only behavior without it.
	cacheCfg := cache.DefaultConfig()
	cacheCfg.Addr = s.cfg.Redis.Addr
	cacheCfg.Password = s.cfg.Redis.Password
	cacheCfg.DB = s.cfg.Redis.DB
	if s.cfg.Redis.PoolSize > 0 {
		cacheCfg.PoolSize = s.cfg.Redis.PoolSize
	}
	if s.cfg.Redis.MinIdleConns > 0 {
		cacheCfg.MinIdleConns = s.cfg.Redis.MinIdleConns
	}
	cacheMgr, err := cache.NewManager(cacheCfg, s.logger)
	if err != nil {
		s.logger.Warn("Redis not available, running without cache", zap.Error(err))
	} else {
		s.cache = cacheMgr
	}

	s.registry = registry.New(s.db, s.logger)
	s.directory = directory.New(s.db, s.cache, s.logger)
	s.relay = relay.New(s.pool, s.registry, s.metricsCollector, s.logger)
	s.coordinator = dispatch.New(s.pool, s.registry, s.directory, s.metricsCollector, s.logger)

	s.notifier = escalation.NopNotifier{}
	if s.cfg.Notify.Enabled {
		notifier, err := escalation.NewAMQPNotifier(ctx, escalation.AMQPConfig{
			URL:        s.cfg.Notify.URL,
			Exchange:   s.cfg.Notify.Exchange,
			MaxRetries: s.cfg.Notify.MaxRetries,
			RetryDelay: s.cfg.Notify.RetryDelay,
		}, s.logger)
		if err != nil {
			s.logger.Warn("AMQP broker not available, escalation notifications disabled", zap.Error(err))
		} else {
			s.notifier = notifier
		}
	}

	s.policy = escalation.NewPolicy(s.registry, s.cache, s.notifier, s.metricsCollector, s.cfg.Notify.DedupWindow, s.logger)
	s.sweeper = escalation.NewSweeper(s.policy, s.registry, s.directory, s.metricsCollector, escalation.SweeperConfig{
		PickupSLA:       s.cfg.Dispatch.PickupSLA,
		SweepInterval:   s.cfg.Dispatch.SweepInterval,
		StaleAgentAfter: s.cfg.Dispatch.StaleAgentAfter,
	}, s.logger)

	return nil
}

// initHandlers builds the HTTP handlers on top of the services.
func (s *Server) initHandlers() {
	s.healthHandler = handlers.NewHealthHandler(s.logger)
	s.healthHandler.RegisterCheck(handlers.NewDatabaseHealthCheck("database", s.pool.Ping))
	if s.cache != nil {
		s.healthHandler.RegisterCheck(handlers.NewRedisHealthCheck("redis", s.cache.Ping))
	}

	s.handoffHandler = handlers.NewHandoffHandler(s.registry, s.relay, s.coordinator, s.directory, s.policy, s.metricsCollector, s.logger)
	s.agentHandler = handlers.NewAgentHandler(s.directory, s.logger)
	s.streamHandler = handlers.NewStreamHandler(s.registry, s.relay, s.logger)

	s.logger.Info("Handlers initialized")
}

// =============================================================================
// 🌐 HTTP server
// =============================================================================

// startHTTPServer registers routes, builds the middleware chain, and
// starts listening.
func (s *Server) startHTTPServer(ctx context.Context) error {
	mux := http.NewServeMux()

	// Health and version endpoints
	mux.HandleFunc("/health", s.healthHandler.HandleHealth)
	mux.HandleFunc("/healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("/ready", s.healthHandler.HandleReady)
	mux.HandleFunc("/readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("/version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	// Handoff lifecycle
	mux.HandleFunc("POST /v1/handoffs", s.handoffHandler.HandleCreate)
	mux.HandleFunc("GET /v1/handoffs/pending", s.handoffHandler.HandleListPending)
	mux.HandleFunc("GET /v1/handoffs/active", s.handoffHandler.HandleListActive)
	mux.HandleFunc("GET /v1/handoffs/{id}", s.handoffHandler.HandleGet)
	mux.HandleFunc("POST /v1/handoffs/{id}/pickup", s.handoffHandler.HandlePickup)
	mux.HandleFunc("POST /v1/handoffs/{id}/resolve", s.handoffHandler.HandleResolve)
	mux.HandleFunc("POST /v1/handoffs/{id}/messages", s.handoffHandler.HandleSendMessage)
	mux.HandleFunc("GET /v1/handoffs/{id}/messages", s.handoffHandler.HandleFetchMessages)
	mux.HandleFunc("GET /v1/handoffs/{id}/stream", s.streamHandler.HandleStream)

	// Agent roster
	mux.HandleFunc("POST /v1/agents/heartbeat", s.agentHandler.HandleHeartbeat)
	mux.HandleFunc("GET /v1/agents/available", s.agentHandler.HandleListAvailable)
	mux.HandleFunc("GET /v1/agents/{id}", s.agentHandler.HandleGetAgent)
	mux.HandleFunc("PUT /v1/agents/status", s.agentHandler.HandleSetStatus)

	skipAuthPaths := []string{"/health", "/healthz", "/ready", "/readyz", "/version", "/metrics"}
	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		MetricsMiddleware(s.metricsCollector),
		OTelTracing(),
		TenantRateLimiter(ctx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
		JWTAuth(s.cfg.JWT, skipAuthPaths, s.logger),
	)

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20, // 1 MB
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)

	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

// =============================================================================
// 📊 Metrics server
// =============================================================================

func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)

	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// =============================================================================
// 🔁 Background loops
// =============================================================================

// startBackgroundLoops runs the escalation sweeper and the gauge refresher.
func (s *Server) startBackgroundLoops(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.sweeper.Run(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("sweeper stopped", zap.Error(err))
		}
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(statsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.refreshGauges(ctx)
			}
		}
	}()
}

// refreshGauges updates the pool and queue-depth gauges.
func (s *Server) refreshGauges(ctx context.Context) {
	stats := s.pool.Stats()
	s.metricsCollector.RecordDBConnections("primary", stats.OpenConnections, stats.Idle)

	depths, err := s.registry.PendingDepths(ctx)
	if err != nil {
		s.logger.Warn("queue depth refresh failed", zap.Error(err))
		return
	}
	for tenant, depth := range depths {
		s.metricsCollector.SetPendingDepth(tenant, depth)
	}
}

// =============================================================================
// 🛑 Shutdown
// =============================================================================

// WaitForShutdown blocks until a shutdown signal arrives, then cleans up.
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}

	s.Shutdown()
}

// Shutdown gracefully stops all services.
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx := context.Background()

	// Stop background loops first so the sweeper does not race the
	// closing database handle.
	if s.backgroundCancel != nil {
		s.backgroundCancel()
	}

	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	s.wg.Wait()

	if s.notifier != nil {
		if err := s.notifier.Close(); err != nil {
			s.logger.Error("Notifier shutdown error", zap.Error(err))
		}
	}

	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.logger.Error("Cache shutdown error", zap.Error(err))
		}
	}

	if s.pool != nil {
		if err := s.pool.Close(); err != nil {
			s.logger.Error("Database pool shutdown error", zap.Error(err))
		}
	}

	if s.otelProviders != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := s.otelProviders.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}
