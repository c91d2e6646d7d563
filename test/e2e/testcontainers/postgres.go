package testcontainers

import (
	"context"

	"github.com/testcontainers/testcontainers-go"

	"procodus.dev/iot-dashboard/internal/store"
)

// PostgresConfig customises the Postgres container. Zero values fall back
// to postgres/postgres on database testdb.
type PostgresConfig struct {
	User          string
	Password      string
	Database      string
	ContainerName string
}

// StartPostgres starts a PostgreSQL container and returns it with the
// store connection settings.
func StartPostgres(ctx context.Context, config *PostgresConfig) (testcontainers.Container, store.PostgresConfig, error) {
	if config == nil {
		config = &PostgresConfig{}
	}
	user := orDefault(config.User, "postgres")
	password := orDefault(config.Password, "postgres")
	database := orDefault(config.Database, "testdb")

	// Postgres logs readiness once for the init server and once for the real one.
	s, err := service{
		label:     "PostgreSQL",
		image:     "postgres:16-alpine",
		port:      "5432/tcp",
		readyLog:  "database system is ready to accept connections",
		readyHits: 2,
		env: map[string]string{
			"POSTGRES_USER":     user,
			"POSTGRES_PASSWORD": password,
			"POSTGRES_DB":       database,
		},
		name: config.ContainerName,
	}.start(ctx)
	if err != nil {
		return nil, store.PostgresConfig{}, err
	}

	return s.container, store.PostgresConfig{
		Host:     s.host,
		Port:     s.port.Int(),
		User:     user,
		Password: password,
		DBName:   database,
		SSLMode:  "disable",
	}, nil
}
