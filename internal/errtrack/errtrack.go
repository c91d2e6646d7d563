// Package errtrack forwards unexpected server errors to an error tracking
// service. The tracker is chosen once at startup; Noop is the default.
package errtrack

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
)

// Reporter receives errors that became INTERNAL_ERROR responses.
type Reporter interface {
	Report(ctx context.Context, err error, attrs map[string]any)
	Shutdown(timeout time.Duration)
}

// Noop discards every report.
type Noop struct{}

// Report implements Reporter.
func (Noop) Report(context.Context, error, map[string]any) {}

// Shutdown implements Reporter.
func (Noop) Shutdown(time.Duration) {}

// Config selects and configures a Reporter.
type Config struct {
	AppName string
	License string
	Logger  *slog.Logger
}

// New returns a New Relic reporter when a license is configured and Noop
// otherwise.
func New(cfg Config) (Reporter, error) {
	if cfg.License == "" {
		return Noop{}, nil
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	name := cfg.AppName
	if name == "" {
		name = "iot-dashboard"
	}

	app, err := newrelic.NewApplication(
		newrelic.ConfigAppName(name),
		newrelic.ConfigLicense(cfg.License),
		newrelic.ConfigEnabled(true),
	)
	if err != nil {
		return nil, err
	}
	cfg.Logger.Info("error tracking enabled", "provider", "newrelic", "app", name)
	return &NewRelic{app: app, log: cfg.Logger}, nil
}

// NewRelic reports errors as New Relic error events.
type NewRelic struct {
	app *newrelic.Application
	log *slog.Logger
}

// Report implements Reporter. The error is attached to the transaction in
// ctx when one is active, otherwise to a short-lived one.
func (r *NewRelic) Report(ctx context.Context, err error, attrs map[string]any) {
	txn := newrelic.FromContext(ctx)
	if txn == nil {
		txn = r.app.StartTransaction("pipeline-error")
		defer txn.End()
	}
	for k, v := range attrs {
		txn.AddAttribute(k, v)
	}
	txn.NoticeError(err)
}

// Shutdown flushes pending events.
func (r *NewRelic) Shutdown(timeout time.Duration) {
	r.app.Shutdown(timeout)
}
