// Package api serves the dashboard REST API.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"

	"procodus.dev/iot-dashboard/internal/auth"
	"procodus.dev/iot-dashboard/internal/cache"
	"procodus.dev/iot-dashboard/internal/errtrack"
	"procodus.dev/iot-dashboard/internal/events"
	"procodus.dev/iot-dashboard/internal/pipeline"
	"procodus.dev/iot-dashboard/internal/ratelimit"
	"procodus.dev/iot-dashboard/internal/store"
	"procodus.dev/iot-dashboard/internal/validation"
	"procodus.dev/iot-dashboard/pkg/metrics"
)

// DefaultOfflineAfter is how long a device may stay silent before it is
// reported offline.
const DefaultOfflineAfter = 15 * time.Minute

// ServerConfig holds the configuration for the Server.
type ServerConfig struct {
	Logger *slog.Logger

	// HTTP server configuration
	HTTPPort       int
	AllowedOrigins []string
	// TrustedProxies may set X-Forwarded-For and X-Real-IP.
	TrustedProxies []netip.Prefix

	Store   *store.Store
	Cache   *cache.Cache
	Limiter *ratelimit.Limiter
	Rules   ratelimit.Rules
	Auth    *auth.Authenticator
	Policy  auth.Policy

	// Optional collaborators
	Redis          redis.UniversalClient
	Events         *events.Emitter
	Reporter       errtrack.Reporter
	Metrics        *metrics.APIMetrics
	MetricsHandler http.Handler
	OfflineAfter   time.Duration
}

// Server is the API HTTP server.
type Server struct {
	logger     *slog.Logger
	config     *ServerConfig
	httpServer *http.Server

	driver  *pipeline.Driver
	val     *validation.Validator
	store   *store.Store
	cache   *cache.Cache
	limiter *ratelimit.Limiter
	rules   ratelimit.Rules
	auth    *auth.Authenticator
	policy  auth.Policy
	events  *events.Emitter
	metrics *metrics.APIMetrics
}

// NewServer validates cfg and creates a Server.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if cfg.Cache == nil {
		return nil, errors.New("cache cannot be nil")
	}
	if cfg.Limiter == nil {
		return nil, errors.New("rate limiter cannot be nil")
	}
	if cfg.Auth == nil {
		return nil, errors.New("authenticator cannot be nil")
	}

	driver, err := pipeline.NewDriver(pipeline.Config{
		Logger:   cfg.Logger,
		Metrics:  cfg.Metrics,
		Reporter: cfg.Reporter,

		TrustedProxies: cfg.TrustedProxies,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline driver: %w", err)
	}

	rules := cfg.Rules
	if rules == nil {
		rules = ratelimit.DefaultRules()
	}
	if cfg.OfflineAfter <= 0 {
		cfg.OfflineAfter = DefaultOfflineAfter
	}
	if cfg.MetricsHandler == nil {
		cfg.MetricsHandler = metrics.Handler()
	}

	return &Server{
		logger:  cfg.Logger,
		config:  cfg,
		driver:  driver,
		val:     validation.New(),
		store:   cfg.Store,
		cache:   cfg.Cache,
		limiter: cfg.Limiter,
		rules:   rules,
		auth:    cfg.Auth,
		policy:  cfg.Policy,
		events:  cfg.Events,
		metrics: cfg.Metrics,
	}, nil
}

// Handler returns the routed API with CORS applied.
func (s *Server) Handler() http.Handler {
	opts := cors.Options{
		AllowedOrigins: s.config.AllowedOrigins,
		AllowedMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut,
			http.MethodPatch, http.MethodDelete, http.MethodOptions,
		},
		AllowedHeaders: []string{
			"Authorization", "Content-Type", "X-API-Key", "X-Device-ID", pipeline.HeaderRequestID,
		},
		ExposedHeaders: []string{
			pipeline.HeaderLimit, pipeline.HeaderRemaining, pipeline.HeaderReset,
			pipeline.HeaderRetryAfter, pipeline.HeaderRequestID, headerCache,
		},
		AllowCredentials: len(s.config.AllowedOrigins) > 0,
		MaxAge:           300,
	}
	return cors.New(opts).Handler(s.setupRoutes())
}

// Run starts the server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	if s.config.HTTPPort <= 0 {
		return errors.New("HTTP port must be positive")
	}
	s.logger.Info("starting API server")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.HTTPPort),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	httpErr := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- fmt.Errorf("HTTP server error: %w", err)
		}
		close(httpErr)
	}()

	s.logger.Info("API server started", "address", s.httpServer.Addr)

	select {
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context canceled")
	case err := <-httpErr:
		if err != nil {
			s.logger.Error("HTTP server error", "error", err)
			return err
		}
	}

	return s.Shutdown()
}

// Shutdown stops accepting requests and drains background cache writes and
// event publishes.
func (s *Server) Shutdown() error {
	s.logger.Info("shutting down API server")

	var shutdownErr error
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("failed to shutdown HTTP server", "error", err)
			shutdownErr = fmt.Errorf("HTTP server shutdown error: %w", err)
		}
	}

	s.cache.Wait()
	s.events.Wait()
	if s.config.Reporter != nil {
		s.config.Reporter.Shutdown(5 * time.Second)
	}

	if shutdownErr != nil {
		return shutdownErr
	}
	s.logger.Info("API server shutdown completed successfully")
	return nil
}
