package testcontainers

import (
	"context"
	"net"

	"github.com/testcontainers/testcontainers-go"
)

// StartRedis starts a Redis container and returns it with its host:port
// address.
func StartRedis(ctx context.Context, containerName string) (testcontainers.Container, string, error) {
	s, err := service{
		label:    "Redis",
		image:    "redis:7-alpine",
		port:     "6379/tcp",
		readyLog: "Ready to accept connections",
		name:     containerName,
	}.start(ctx)
	if err != nil {
		return nil, "", err
	}
	return s.container, net.JoinHostPort(s.host, s.port.Port()), nil
}
