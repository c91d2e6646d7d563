package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/netip"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"gorm.io/gorm"

	"procodus.dev/iot-dashboard/internal/cache"
	"procodus.dev/iot-dashboard/internal/kvstore"
	"procodus.dev/iot-dashboard/internal/pipeline"
	"procodus.dev/iot-dashboard/internal/ratelimit"
	"procodus.dev/iot-dashboard/internal/store"
	"procodus.dev/iot-dashboard/pkg/logger"
)

// InitConfig initializes Viper configuration.
// It supports reading from config files (config.yaml), a .env file and
// environment variables.
func InitConfig(cfgFile string) error {
	// Values already in the environment win over .env
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env file: %w", err)
	}

	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		// Search for config in current directory and /etc/iot-dashboard/
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/iot-dashboard/")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	setDefaults()

	// Environment variables
	viper.SetEnvPrefix("IOTDASH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	// Read config file if it exists
	if err := viper.ReadInConfig(); err != nil {
		var configNotFoundErr viper.ConfigFileNotFoundError
		if errors.As(err, &configNotFoundErr) {
			// Config file not found; rely on env vars and defaults
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

func setDefaults() {
	viper.SetDefault("redis.timeout", kvstore.DefaultTimeout)
	viper.SetDefault("db.connect_timeout", store.DefaultConnectTimeout)
	viper.SetDefault("db.query_timeout", store.DefaultQueryTimeout)
	viper.SetDefault("ratelimit.enabled", true)
	viper.SetDefault("cache.enabled", true)
	viper.SetDefault("auth.mode", "apikey")
	viper.SetDefault("auth.default_org", "default")
	viper.SetDefault("rabbitmq.exchange", "iot-dashboard.events")
	viper.SetDefault("newrelic.app_name", "iot-dashboard")
}

// GetLogger creates a slog.Logger based on configuration.
func GetLogger() *slog.Logger {
	return logger.NewWithLevel(logger.ParseLevel(viper.GetString("log.level")))
}

// openStore connects to the configured database.
func openStore(ctx context.Context, log *slog.Logger) (*store.Store, error) {
	var dialector gorm.Dialector
	switch driver := viper.GetString("db.driver"); driver {
	case "", "postgres":
		dialector = store.Postgres(store.PostgresConfig{
			Host:     viper.GetString("db.host"),
			Port:     viper.GetInt("db.port"),
			User:     viper.GetString("db.user"),
			Password: viper.GetString("db.password"),
			DBName:   viper.GetString("db.name"),
			SSLMode:  viper.GetString("db.sslmode"),

			ConnectTimeout:   viper.GetDuration("db.connect_timeout"),
			StatementTimeout: viper.GetDuration("db.query_timeout"),
		})
	case "sqlite":
		dialector = store.SQLite(viper.GetString("db.path"))
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}

	s, err := store.Open(ctx, store.Config{
		Dialector:    dialector,
		Logger:       log,
		QueryTimeout: viper.GetDuration("db.query_timeout"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return s, nil
}

// openRedis connects to the shared store. An empty address disables it.
func openRedis(ctx context.Context, log *slog.Logger) (*redis.Client, error) {
	addr := viper.GetString("redis.addr")
	if addr == "" {
		log.Warn("no redis address configured, rate limiting and caching are disabled")
		return nil, nil
	}
	return kvstore.Open(ctx, kvstore.Config{
		Addr:     addr,
		Password: viper.GetString("redis.password"),
		DB:       viper.GetInt("redis.db"),
		Timeout:  viper.GetDuration("redis.timeout"),
		Logger:   log,
	})
}

// loadRules applies ratelimit.rules.<name>.max and .window (seconds) over
// the defaults. Built-in rules are always looked up so environment-only
// overrides apply; extra rules come from the config file.
func loadRules() ratelimit.Rules {
	rules := ratelimit.DefaultRules()
	names := make([]string, 0, len(rules))
	for name := range rules {
		names = append(names, name)
	}
	for name := range viper.GetStringMap("ratelimit.rules") {
		if _, ok := rules[name]; !ok {
			names = append(names, name)
		}
	}
	for _, name := range names {
		prefix := "ratelimit.rules." + name
		rules = rules.With(name,
			viper.GetInt(prefix+".max"),
			time.Duration(viper.GetInt(prefix+".window"))*time.Second,
		)
	}
	return rules
}

// trustedProxies parses http.trusted_proxies. Forwarding headers from any
// other peer are ignored.
func trustedProxies() ([]netip.Prefix, error) {
	return pipeline.ParseTrustedProxies(viper.GetStringSlice("http.trusted_proxies"))
}

// loadTTLs applies cache.ttl.<resource> (seconds) over the defaults.
func loadTTLs() cache.TTLs {
	ttls := cache.DefaultTTLs()
	for key, ttl := range map[string]*time.Duration{
		"device":      &ttls.Device,
		"device_list": &ttls.DeviceList,
		"readings":    &ttls.Readings,
		"metadata":    &ttls.Metadata,
		"health":      &ttls.Health,
		"schedules":   &ttls.Schedules,
	} {
		if secs := viper.GetInt("cache.ttl." + key); secs > 0 {
			*ttl = time.Duration(secs) * time.Second
		}
	}
	return ttls
}
