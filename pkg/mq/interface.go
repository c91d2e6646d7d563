package mq

import (
	"context"
)

// Publisher is the event publishing surface used by the API.
type Publisher interface {
	// Publish sends data under routingKey and blocks until the broker
	// confirms it, retrying with backoff.
	Publish(ctx context.Context, routingKey string, data []byte) error

	// TryPublish sends without waiting for confirmation.
	TryPublish(ctx context.Context, routingKey string, data []byte) error

	// Close shuts down the channel and connection.
	Close() error
}

var _ Publisher = (*Client)(nil)
