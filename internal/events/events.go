// Package events publishes mutation notifications to the message broker.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"procodus.dev/iot-dashboard/internal/audit"
	"procodus.dev/iot-dashboard/internal/auth"
	"procodus.dev/iot-dashboard/pkg/mq"
)

// Event types, used as routing keys.
const (
	DeviceCreated     = "device.created"
	DeviceUpdated     = "device.updated"
	DeviceDeleted     = "device.deleted"
	ReadingsIngested  = "readings.ingested"
	ScheduleCreated   = "schedule.created"
	ScheduleUpdated   = "schedule.updated"
	ScheduleDeleted   = "schedule.deleted"
	ScheduleCompleted = "schedule.completed"
)

const publishTimeout = 5 * time.Second

// Event is the published message body.
type Event struct {
	Type       string    `json:"type"`
	OrgID      string    `json:"org_id"`
	ResourceID string    `json:"resource_id"`
	Actor      string    `json:"actor"`
	At         time.Time `json:"at"`
	Data       any       `json:"data,omitempty"`
}

// Emitter publishes events without blocking the request. A nil publisher
// turns every Emit into a no-op.
type Emitter struct {
	pub mq.Publisher
	log *slog.Logger
	now func() time.Time
	wg  sync.WaitGroup
}

// NewEmitter creates an Emitter. pub may be nil.
func NewEmitter(pub mq.Publisher, l *slog.Logger) *Emitter {
	if l == nil {
		l = slog.Default()
	}
	return &Emitter{pub: pub, log: l.With("component", "events"), now: time.Now}
}

// Enabled reports whether events are published.
func (e *Emitter) Enabled() bool {
	return e != nil && e.pub != nil
}

// Emit publishes an event in the background. Failures are logged.
func (e *Emitter) Emit(ac *auth.Context, typ, resourceID string, data any) {
	if !e.Enabled() {
		return
	}

	org := ""
	if ac != nil {
		org = ac.OrgID
	}
	ev := Event{
		Type:       typ,
		OrgID:      org,
		ResourceID: resourceID,
		Actor:      audit.User(ac),
		At:         e.now().UTC(),
		Data:       data,
	}
	body, err := json.Marshal(ev)
	if err != nil {
		e.log.Warn("failed to encode event", "type", typ, "error", err)
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := e.pub.Publish(ctx, typ, body); err != nil {
			e.log.Warn("failed to publish event", "type", typ, "resource_id", resourceID, "error", err)
		}
	}()
}

// Wait blocks until in-flight publishes finish.
func (e *Emitter) Wait() {
	if e != nil {
		e.wg.Wait()
	}
}
