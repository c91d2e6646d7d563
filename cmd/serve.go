package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"procodus.dev/iot-dashboard/internal/api"
	"procodus.dev/iot-dashboard/internal/auth"
	"procodus.dev/iot-dashboard/internal/cache"
	"procodus.dev/iot-dashboard/internal/errtrack"
	"procodus.dev/iot-dashboard/internal/events"
	"procodus.dev/iot-dashboard/internal/ratelimit"
	"procodus.dev/iot-dashboard/pkg/metrics"
	"procodus.dev/iot-dashboard/pkg/mq"
)

const metricsNamespace = "iotdash"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server",
	Long: `Run the dashboard API server that:
- Serves device, reading and schedule endpoints over HTTP
- Authenticates callers by API key or session
- Rate limits and caches through Redis
- Persists data to PostgreSQL or SQLite
- Publishes mutation events to RabbitMQ when configured`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	// Serve-specific flags
	serveCmd.Flags().Int("http-port", 8080, "HTTP server port")
	serveCmd.Flags().StringSlice("allowed-origins", nil, "CORS allowed origins")
	serveCmd.Flags().StringSlice("trusted-proxies", nil, "proxy addresses or CIDR ranges allowed to set X-Forwarded-For")
	serveCmd.Flags().String("auth-mode", "apikey", "authentication mode (apikey, session)")
	serveCmd.Flags().String("api-keys", "", "API keys as name:key:role,...")
	serveCmd.Flags().String("rabbitmq-url", "", "RabbitMQ URL for mutation events (disabled when empty)")

	// Bind flags to viper
	_ = viper.BindPFlag("http.port", serveCmd.Flags().Lookup("http-port"))
	_ = viper.BindPFlag("cors.allowed_origins", serveCmd.Flags().Lookup("allowed-origins"))
	_ = viper.BindPFlag("http.trusted_proxies", serveCmd.Flags().Lookup("trusted-proxies"))
	_ = viper.BindPFlag("auth.mode", serveCmd.Flags().Lookup("auth-mode"))
	_ = viper.BindPFlag("auth.api_keys", serveCmd.Flags().Lookup("api-keys"))
	_ = viper.BindPFlag("rabbitmq.url", serveCmd.Flags().Lookup("rabbitmq-url"))
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger := GetLogger()
	logger.Info("starting API service")
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	st, err := openStore(ctx, logger)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		return err
	}
	defer st.Close()

	client, err := openRedis(ctx, logger)
	if err != nil {
		return err
	}

	proxies, err := trustedProxies()
	if err != nil {
		return err
	}

	apiMetrics := metrics.NewAPIMetrics(metricsNamespace, nil)
	config := &api.ServerConfig{
		Logger:         logger,
		HTTPPort:       viper.GetInt("http.port"),
		AllowedOrigins: viper.GetStringSlice("cors.allowed_origins"),
		TrustedProxies: proxies,
		Store:          st,
		Rules:          loadRules(),
		Policy:         auth.Policy{DefaultDeny: viper.GetBool("auth.default_deny")},
		Metrics:        apiMetrics,
	}

	cacheCfg := cache.Config{Logger: logger, TTLs: loadTTLs(), Metrics: apiMetrics}
	limiterCfg := ratelimit.Config{Logger: logger, Metrics: apiMetrics}
	if client != nil {
		defer client.Close()
		config.Redis = client
		cacheCfg.Client, cacheCfg.Enabled = client, viper.GetBool("cache.enabled")
		limiterCfg.Client, limiterCfg.Enabled = client, viper.GetBool("ratelimit.enabled")
	}
	if config.Cache, err = cache.New(cacheCfg); err != nil {
		return fmt.Errorf("failed to create cache: %w", err)
	}
	if config.Limiter, err = ratelimit.New(limiterCfg); err != nil {
		return fmt.Errorf("failed to create rate limiter: %w", err)
	}

	if config.Auth, err = newAuthenticator(logger); err != nil {
		logger.Error("failed to configure authentication", "error", err)
		return err
	}

	if config.Reporter, err = errtrack.New(errtrack.Config{
		AppName: viper.GetString("newrelic.app_name"),
		License: viper.GetString("newrelic.license"),
		Logger:  logger,
	}); err != nil {
		return fmt.Errorf("failed to configure error tracking: %w", err)
	}

	var publisher mq.Publisher
	if url := viper.GetString("rabbitmq.url"); url != "" {
		mqClient := mq.New(viper.GetString("rabbitmq.exchange"), url, logger)
		mqClient.SetMetrics(metrics.NewMQMetrics(metricsNamespace, nil))
		defer mqClient.Close()
		publisher = mqClient
	}
	config.Events = events.NewEmitter(publisher, logger)

	server, err := api.NewServer(config)
	if err != nil {
		logger.Error("failed to create API server", "error", err)
		return err
	}

	logger.Info("API server configuration",
		"http_port", config.HTTPPort,
		"db_driver", viper.GetString("db.driver"),
		"redis_addr", viper.GetString("redis.addr"),
		"auth_mode", config.Auth.Mode(),
		"cache_enabled", config.Cache.Enabled(),
		"ratelimit_enabled", config.Limiter.Enabled(),
		"events_enabled", config.Events.Enabled(),
	)

	if err := server.Run(ctx); err != nil {
		logger.Error("API server error", "error", err)
		return err
	}

	logger.Info("API server stopped")
	return nil
}

func newAuthenticator(logger *slog.Logger) (*auth.Authenticator, error) {
	mode, err := auth.ParseMode(viper.GetString("auth.mode"))
	if err != nil {
		return nil, err
	}
	cfg := auth.Config{
		Mode:       mode,
		DefaultOrg: viper.GetString("auth.default_org"),
		Logger:     logger,
		Keys: auth.NewKeyTable(func() string {
			return viper.GetString("auth.api_keys")
		}),
	}

	if mode == auth.ModeSession {
		switch {
		case viper.GetString("auth.idp_url") != "":
			cfg.Provider, err = auth.NewRemoteProvider(viper.GetString("auth.idp_url"), viper.GetDuration("auth.idp_timeout"))
		case viper.GetString("auth.jwt_secret") != "":
			cfg.Provider, err = auth.NewJWTProvider(viper.GetString("auth.jwt_secret"))
		default:
			err = errors.New("session mode needs auth.idp_url or auth.jwt_secret")
		}
		if err != nil {
			return nil, err
		}
	}
	return auth.NewAuthenticator(cfg)
}
