package testcontainers

import (
	"context"
	"net"
	"net/url"

	"github.com/testcontainers/testcontainers-go"
)

// RabbitMQConfig customises the broker container. Credentials default to
// guest/guest.
type RabbitMQConfig struct {
	User          string
	Password      string
	ContainerName string
}

// StartRabbitMQ starts a RabbitMQ container and returns it with its AMQP URL.
func StartRabbitMQ(ctx context.Context, config *RabbitMQConfig) (testcontainers.Container, string, error) {
	if config == nil {
		config = &RabbitMQConfig{}
	}
	user := orDefault(config.User, "guest")
	password := orDefault(config.Password, "guest")

	s, err := service{
		label:    "RabbitMQ",
		image:    "rabbitmq:3-alpine",
		port:     "5672/tcp",
		readyLog: "Server startup complete",
		env: map[string]string{
			"RABBITMQ_DEFAULT_USER": user,
			"RABBITMQ_DEFAULT_PASS": password,
		},
		name: config.ContainerName,
	}.start(ctx)
	if err != nil {
		return nil, "", err
	}

	amqpURL := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(user, password),
		Host:   net.JoinHostPort(s.host, s.port.Port()),
		Path:   "/",
	}
	return s.container, amqpURL.String(), nil
}
