// Package testcontainers starts the backing services the e2e suites run
// against.
package testcontainers

import (
	"context"
	"fmt"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// service describes one backing container.
type service struct {
	label     string
	image     string
	port      nat.Port
	readyLog  string
	readyHits int
	env       map[string]string
	name      string
}

// started is a running service and the address it is reachable on.
type started struct {
	container testcontainers.Container
	host      string
	port      nat.Port
}

func (s service) start(ctx context.Context) (started, error) {
	logWait := wait.ForLog(s.readyLog)
	if s.readyHits > 1 {
		logWait = logWait.WithOccurrence(s.readyHits)
	}

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        s.image,
			ExposedPorts: []string{string(s.port)},
			WaitingFor:   wait.ForAll(wait.ForListeningPort(s.port), logWait),
			Env:          s.env,
			Name:         s.name,
		},
		Started: true,
	})
	if err != nil {
		return started{}, fmt.Errorf("failed to start %s container: %w", s.label, err)
	}

	host, err := c.Host(ctx)
	if err != nil {
		_ = c.Terminate(ctx)
		return started{}, fmt.Errorf("failed to get %s host: %w", s.label, err)
	}
	mapped, err := c.MappedPort(ctx, s.port)
	if err != nil {
		_ = c.Terminate(ctx)
		return started{}, fmt.Errorf("failed to get %s port: %w", s.label, err)
	}
	return started{container: c, host: host, port: mapped}, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
