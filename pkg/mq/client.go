// Package mq provides a RabbitMQ event publisher with automatic reconnection
// and confirmed, retried delivery to a topic exchange.
package mq

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"

	"procodus.dev/iot-dashboard/pkg/metrics"
)

// Client publishes events to one topic exchange. It owns the connection,
// re-dials when the broker goes away and re-opens the channel after channel
// exceptions.
type Client struct {
	m               *sync.Mutex
	pub             sync.Mutex // serializes publish+confirm pairs
	closeOnce       sync.Once
	log             *slog.Logger
	connection      *amqp.Connection
	channel         *amqp.Channel
	done            chan struct{}
	notifyConnClose chan *amqp.Error
	notifyChanClose chan *amqp.Error
	notifyConfirm   chan amqp.Confirmation
	exchange        string
	isReady         bool
	metrics         *metrics.MQMetrics
}

const (
	// When reconnecting to the server after connection failure.
	reconnectDelay = 5 * time.Second

	// When setting up the channel after a channel exception.
	reInitDelay = 2 * time.Second

	initialBackoff    = 100 * time.Millisecond
	maxBackoff        = 10 * time.Second
	backoffMultiplier = 2

	// Maximum number of retry attempts before giving up.
	maxRetryAttempts = 5
)

var (
	errNotConnected       = errors.New("not connected to a server")
	errAlreadyClosed      = errors.New("already closed: not connected to the server")
	errShutdown           = errors.New("client is shutting down")
	errMaxRetriesExceeded = errors.New("maximum retry attempts exceeded")
)

// New creates a publisher for exchange and starts connecting to addr in the
// background. Publishing before the first connection succeeds waits with
// backoff.
func New(exchange, addr string, l *slog.Logger) *Client {
	client := Client{
		m:        &sync.Mutex{},
		log:      l.With("component", "mq", "exchange", exchange),
		exchange: exchange,
		done:     make(chan struct{}),
	}
	go client.handleReconnect(addr)
	return &client
}

// SetMetrics sets the metrics collector for this client.
// This should be called before the first publish.
func (client *Client) SetMetrics(m *metrics.MQMetrics) {
	client.metrics = m
}

// Ready reports whether the channel is open and the exchange declared.
func (client *Client) Ready() bool {
	client.m.Lock()
	defer client.m.Unlock()
	return client.isReady
}

func (client *Client) setReady(ready bool) {
	client.m.Lock()
	client.isReady = ready
	client.m.Unlock()
	if client.metrics != nil {
		if ready {
			client.metrics.ConnectionStatus.Set(1)
		} else {
			client.metrics.ConnectionStatus.Set(0)
		}
	}
}

// handleReconnect waits for a connection error on notifyConnClose and then
// continuously attempts to reconnect.
func (client *Client) handleReconnect(addr string) {
	for {
		client.setReady(false)
		client.log.Debug("attempting to connect")

		if client.metrics != nil {
			client.metrics.ReconnectAttempts.Inc()
		}

		conn, err := client.connect(addr)
		if err != nil {
			client.log.Warn("failed to connect, retrying", "error", err, "delay", reconnectDelay)

			select {
			case <-client.done:
				return
			case <-time.After(reconnectDelay):
			}
			continue
		}

		if done := client.handleReInit(conn); done {
			return
		}
	}
}

func (client *Client) connect(addr string) (*amqp.Connection, error) {
	conn, err := amqp.Dial(addr)
	if err != nil {
		return nil, err
	}

	client.m.Lock()
	client.connection = conn
	client.notifyConnClose = make(chan *amqp.Error, 1)
	client.m.Unlock()
	conn.NotifyClose(client.notifyConnClose)

	client.log.Info("connected")
	return conn, nil
}

// handleReInit waits for a channel error and then re-initializes the channel.
// It returns true once the client is shutting down.
func (client *Client) handleReInit(conn *amqp.Connection) bool {
	for {
		client.setReady(false)

		if err := client.init(conn); err != nil {
			client.log.Warn("failed to initialize channel, retrying", "error", err)

			select {
			case <-client.done:
				return true
			case <-client.notifyConnClose:
				client.log.Info("connection closed, reconnecting")
				return false
			case <-time.After(reInitDelay):
			}
			continue
		}

		select {
		case <-client.done:
			return true
		case <-client.notifyConnClose:
			client.log.Info("connection closed, reconnecting")
			return false
		case <-client.notifyChanClose:
			client.log.Info("channel closed, re-running init")
		}
	}
}

// init opens a confirming channel and declares the durable topic exchange.
func (client *Client) init(conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return err
	}

	if err := ch.Confirm(false); err != nil {
		return err
	}
	if err := ch.ExchangeDeclare(
		client.exchange,
		amqp.ExchangeTopic,
		true,  // Durable
		false, // Auto-deleted
		false, // Internal
		false, // No-wait
		nil,   // Arguments
	); err != nil {
		return err
	}

	client.m.Lock()
	client.channel = ch
	client.notifyChanClose = make(chan *amqp.Error, 1)
	client.notifyConfirm = make(chan amqp.Confirmation, 1)
	client.m.Unlock()
	ch.NotifyClose(client.notifyChanClose)
	ch.NotifyPublish(client.notifyConfirm)

	client.setReady(true)
	client.log.Debug("channel ready")
	return nil
}

// Publish sends data under routingKey and waits for the broker confirmation.
// While disconnected or after a nack it retries with exponential backoff,
// giving up after maxRetryAttempts.
func (client *Client) Publish(ctx context.Context, routingKey string, data []byte) error {
	if client.metrics != nil {
		timer := prometheus.NewTimer(client.metrics.PublishDuration.WithLabelValues(routingKey))
		defer timer.ObserveDuration()
	}

	backoff := initialBackoff
	for attempt := 0; ; attempt++ {
		if attempt >= maxRetryAttempts {
			client.log.Error("maximum retry attempts exceeded",
				"routing_key", routingKey,
				"max_attempts", maxRetryAttempts)
			client.fail(routingKey, "max_retries_exceeded")
			return errMaxRetriesExceeded
		}

		confirmed, err := client.publishOnce(ctx, routingKey, data)
		switch {
		case err == nil && confirmed:
			if client.metrics != nil {
				client.metrics.MessagesPublished.WithLabelValues(routingKey).Inc()
			}
			return nil
		case ctx.Err() != nil:
			client.fail(routingKey, "context_canceled")
			return ctx.Err()
		case err != nil && !errors.Is(err, errNotConnected):
			client.log.Warn("publish failed, retrying", "error", err, "backoff", backoff)
		case err == nil:
			client.log.Warn("publish not acknowledged, retrying", "backoff", backoff)
		}

		select {
		case <-ctx.Done():
			client.fail(routingKey, "context_canceled")
			return ctx.Err()
		case <-client.done:
			return errShutdown
		case <-time.After(backoff):
		}
		backoff *= backoffMultiplier
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// publishOnce publishes and waits for the matching confirmation.
func (client *Client) publishOnce(ctx context.Context, routingKey string, data []byte) (bool, error) {
	client.pub.Lock()
	defer client.pub.Unlock()

	if err := client.TryPublish(ctx, routingKey, data); err != nil {
		return false, err
	}

	client.m.Lock()
	confirms := client.notifyConfirm
	client.m.Unlock()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case confirm, ok := <-confirms:
		if !ok {
			return false, errNotConnected
		}
		return confirm.Ack, nil
	}
}

// TryPublish publishes without waiting for confirmation. It returns an error
// only if the client is not connected or the write fails.
func (client *Client) TryPublish(ctx context.Context, routingKey string, data []byte) error {
	client.m.Lock()
	if !client.isReady {
		client.m.Unlock()
		return errNotConnected
	}
	ch := client.channel
	client.m.Unlock()

	return ch.PublishWithContext(
		ctx,
		client.exchange,
		routingKey,
		false, // Mandatory
		false, // Immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         data,
		},
	)
}

func (client *Client) fail(routingKey, reason string) {
	if client.metrics != nil {
		client.metrics.PublishFailures.WithLabelValues(routingKey, reason).Inc()
	}
}

// Close stops reconnecting and shuts down the channel and connection.
// It returns errAlreadyClosed when there was no live connection.
func (client *Client) Close() error {
	client.closeOnce.Do(func() { close(client.done) })

	client.m.Lock()
	defer client.m.Unlock()

	if !client.isReady {
		return errAlreadyClosed
	}
	client.isReady = false
	if client.metrics != nil {
		client.metrics.ConnectionStatus.Set(0)
	}

	if err := client.channel.Close(); err != nil {
		return err
	}
	return client.connection.Close()
}
