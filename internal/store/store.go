// Package store persists devices, readings and maintenance schedules with
// gorm. Every query is scoped to an organization.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	// ErrNotFound is returned when an entity does not exist in the caller's
	// organization.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write collides with an existing entity.
	ErrConflict = errors.New("conflict")
	// ErrInvalidTransition is returned for workflow changes the state machine
	// does not allow.
	ErrInvalidTransition = errors.New("invalid transition")
)

// Default pagination.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Default database deadlines.
const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultQueryTimeout   = 10 * time.Second
)

// PostgresConfig holds the Postgres connection settings.
type PostgresConfig struct {
	Host     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	Port     int
	// ConnectTimeout bounds dialing. Zero means DefaultConnectTimeout.
	ConnectTimeout time.Duration
	// StatementTimeout is the server-side statement_timeout. Zero means
	// DefaultQueryTimeout.
	StatementTimeout time.Duration
}

// PostgresDSN renders cfg as a key/value connection string.
func PostgresDSN(cfg PostgresConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	connect := cfg.ConnectTimeout
	if connect <= 0 {
		connect = DefaultConnectTimeout
	}
	statement := cfg.StatementTimeout
	if statement <= 0 {
		statement = DefaultQueryTimeout
	}
	// connect_timeout is whole seconds; anything below one would disable it.
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=%d statement_timeout=%d",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, sslMode,
		max(1, int(connect.Seconds())), statement.Milliseconds())
}

// Postgres returns a dialector for cfg.
func Postgres(cfg PostgresConfig) gorm.Dialector {
	return postgres.Open(PostgresDSN(cfg))
}

// SQLite returns a dialector for the database file at path. Pass a
// "file:<name>?mode=memory&cache=shared" URI for an in-memory database.
func SQLite(path string) gorm.Dialector {
	return sqlite.Open(path)
}

// Config configures Open.
type Config struct {
	Dialector gorm.Dialector
	Logger    *slog.Logger
	// MaxOpenConns bounds the pool. Zero means 100.
	MaxOpenConns int
	// QueryTimeout bounds every repository call. Zero means
	// DefaultQueryTimeout; a negative value disables the bound.
	QueryTimeout time.Duration
	// Clock overrides time.Now for audit stamps.
	Clock func() time.Time
}

// Store is the entity repository.
type Store struct {
	db           *gorm.DB
	log          *slog.Logger
	now          func() time.Time
	queryTimeout time.Duration
}

// Open connects, verifies the connection and migrates the schema.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Dialector == nil {
		return nil, errors.New("dialector cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	log := cfg.Logger.With("component", "store", "dialect", cfg.Dialector.Name())
	log.Info("connecting to database")

	db, err := gorm.Open(cfg.Dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 100
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(min(10, maxOpen))
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := db.WithContext(ctx).AutoMigrate(&Device{}, &Reading{}, &Schedule{}); err != nil {
		return nil, fmt.Errorf("auto-migration failed: %w", err)
	}
	log.Info("database ready")

	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	timeout := cfg.QueryTimeout
	if timeout == 0 {
		timeout = DefaultQueryTimeout
	}
	return &Store{db: db, log: log, now: now, queryTimeout: timeout}, nil
}

// conn returns a session bound to ctx and the query timeout. The caller
// must call cancel once the call is done.
func (s *Store) conn(ctx context.Context) (*gorm.DB, context.CancelFunc) {
	if s.queryTimeout < 0 {
		return s.db.WithContext(ctx), func() {}
	}
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	return s.db.WithContext(ctx), cancel
}

// DB exposes the underlying handle for tests and tooling.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	s.log.Info("closing database connection")
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// Page is a pagination request. Zero values select the defaults.
type Page struct {
	Page  int
	Limit int
}

func (p Page) normalize() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = DefaultPageSize
	}
	if p.Limit > MaxPageSize {
		p.Limit = MaxPageSize
	}
	return p
}

func (p Page) offset() int {
	return (p.Page - 1) * p.Limit
}

// Pagination describes one page of a list result.
type Pagination struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

func paginate(p Page, total int64) Pagination {
	pages := int((total + int64(p.Limit) - 1) / int64(p.Limit))
	return Pagination{Page: p.Page, Limit: p.Limit, Total: total, TotalPages: pages}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
