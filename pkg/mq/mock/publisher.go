// Package mock provides a recording mq.Publisher for tests.
package mock

import (
	"context"
	"sync"

	"procodus.dev/iot-dashboard/pkg/mq"
)

// Message is one recorded publish.
type Message struct {
	RoutingKey string
	Data       []byte
	Confirmed  bool
}

// Publisher records publishes and returns configurable errors.
type Publisher struct {
	mu sync.Mutex

	// PublishFunc overrides Publish when set.
	PublishFunc func(ctx context.Context, routingKey string, data []byte) error
	// PublishError is returned by Publish and TryPublish when PublishFunc is nil.
	PublishError error
	// CloseError is returned by Close.
	CloseError error

	messages   []Message
	closeCalls int
}

// NewPublisher creates a Publisher that accepts everything.
func NewPublisher() *Publisher {
	return &Publisher{}
}

// Publish implements mq.Publisher.
func (p *Publisher) Publish(ctx context.Context, routingKey string, data []byte) error {
	return p.record(ctx, routingKey, data, true)
}

// TryPublish implements mq.Publisher.
func (p *Publisher) TryPublish(ctx context.Context, routingKey string, data []byte) error {
	return p.record(ctx, routingKey, data, false)
}

func (p *Publisher) record(ctx context.Context, routingKey string, data []byte, confirmed bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.messages = append(p.messages, Message{RoutingKey: routingKey, Data: data, Confirmed: confirmed})
	if p.PublishFunc != nil {
		return p.PublishFunc(ctx, routingKey, data)
	}
	return p.PublishError
}

// Close implements mq.Publisher.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeCalls++
	return p.CloseError
}

// Messages returns a copy of everything published so far.
func (p *Publisher) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Message(nil), p.messages...)
}

// RoutingKeys returns the routing keys in publish order.
func (p *Publisher) RoutingKeys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := make([]string, len(p.messages))
	for i, m := range p.messages {
		keys[i] = m.RoutingKey
	}
	return keys
}

// CloseCalls returns how often Close was called.
func (p *Publisher) CloseCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeCalls
}

// Reset clears recorded calls.
func (p *Publisher) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = nil
	p.closeCalls = 0
}

var _ mq.Publisher = (*Publisher)(nil)
