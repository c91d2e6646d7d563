// Package pipeline runs every API request through an ordered list of stages
// followed by its handler.
//
// A stage either passes the request on or rejects it with an error. The
// driver renders whichever happens: the success envelope, or the error
// envelope produced by apierr. Response headers set by stages, such as the
// rate-limit headers, are written in both cases.
package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/google/uuid"

	"procodus.dev/iot-dashboard/internal/apierr"
	"procodus.dev/iot-dashboard/internal/errtrack"
	"procodus.dev/iot-dashboard/pkg/logger"
	"procodus.dev/iot-dashboard/pkg/metrics"
)

// HeaderRequestID carries the trace id in and out.
const HeaderRequestID = "X-Request-ID"

const maxTraceIDLen = 128

// Result is a handler's successful outcome.
type Result struct {
	Status     int
	Data       any
	Pagination any
}

// OK returns a 200 result.
func OK(data any) *Result {
	return &Result{Status: http.StatusOK, Data: data}
}

// Created returns a 201 result.
func Created(data any) *Result {
	return &Result{Status: http.StatusCreated, Data: data}
}

// Paged returns a 200 result with pagination.
func Paged(data, pagination any) *Result {
	return &Result{Status: http.StatusOK, Data: data, Pagination: pagination}
}

// Handler is the business logic of one route.
type Handler func(rc *RequestContext) (*Result, error)

// Config configures a Driver.
type Config struct {
	Logger   *slog.Logger
	Metrics  *metrics.APIMetrics
	Reporter errtrack.Reporter
	// TrustedProxies are the peers whose forwarding headers are believed.
	TrustedProxies []netip.Prefix
}

// Driver turns handlers and stages into http.Handlers.
type Driver struct {
	log      *slog.Logger
	metrics  *metrics.APIMetrics
	reporter errtrack.Reporter
	trusted  []netip.Prefix
}

// NewDriver validates cfg and creates a Driver.
func NewDriver(cfg Config) (*Driver, error) {
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	reporter := cfg.Reporter
	if reporter == nil {
		reporter = errtrack.Noop{}
	}
	return &Driver{
		log:      cfg.Logger,
		metrics:  cfg.Metrics,
		reporter: reporter,
		trusted:  cfg.TrustedProxies,
	}, nil
}

// Handle returns an http.Handler running stages in order and then h. route
// labels metrics and logs.
func (d *Driver) Handle(route string, h Handler, stages ...Stage) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc := d.newContext(route, r)
		w.Header().Set(HeaderRequestID, rc.TraceID)

		if d.metrics != nil {
			d.metrics.HTTPRequestsInFlight.Inc()
			defer d.metrics.HTTPRequestsInFlight.Dec()
		}

		res, err := d.run(rc, h, stages)

		for k, vs := range rc.header {
			for _, v := range vs {
				w.Header().Add(k, v)
			}
		}

		var status int
		if err != nil {
			status = d.fail(w, rc, err)
		} else {
			status = writeSuccess(w, res)
		}
		d.observe(rc, status)
	})
}

func (d *Driver) newContext(route string, r *http.Request) *RequestContext {
	traceID := r.Header.Get(HeaderRequestID)
	if traceID == "" || len(traceID) > maxTraceIDLen {
		traceID = uuid.NewString()
	}
	l := logger.WithContext(d.log,
		slog.String("trace_id", traceID),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
	)
	r = r.WithContext(logger.IntoContext(r.Context(), l))

	return &RequestContext{
		TraceID:  traceID,
		Method:   r.Method,
		Path:     r.URL.Path,
		Route:    route,
		Start:    time.Now(),
		Request:  r,
		Logger:   l,
		header:   make(http.Header),
		clientIP: ClientIP(r, d.trusted),
	}
}

// run executes stages and the handler, converting panics into errors.
func (d *Driver) run(rc *RequestContext, h Handler, stages []Stage) (res *Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			rc.Logger.Error("panic in request handler",
				"panic", fmt.Sprint(p),
				"stack", string(debug.Stack()),
			)
			res, err = nil, apierr.Internal(fmt.Errorf("panic: %v", p))
		}
	}()

	for _, s := range stages {
		if err := s.Process(rc); err != nil {
			d.rejected(rc, s.Name(), err)
			return nil, err
		}
	}
	res, err = h(rc)
	if err == nil && res == nil {
		res = OK(nil)
	}
	return res, err
}

func (d *Driver) rejected(rc *RequestContext, stage string, err error) {
	appErr := apierr.From(err)
	rc.Logger.Debug("request rejected", "stage", stage, "code", appErr.Code)
	if d.metrics == nil {
		return
	}
	d.metrics.StageRejections.WithLabelValues(stage, string(appErr.Code)).Inc()
	switch appErr.Code {
	case apierr.CodeUnauthorized:
		d.metrics.AuthFailures.WithLabelValues("unauthenticated").Inc()
	case apierr.CodeForbidden:
		d.metrics.AuthFailures.WithLabelValues("forbidden").Inc()
	}
}

func (d *Driver) fail(w http.ResponseWriter, rc *RequestContext, err error) int {
	appErr := apierr.From(err)
	if appErr.Status >= http.StatusInternalServerError {
		rc.Logger.Error("request failed", "route", rc.Route, "error", err)
		d.reporter.Report(rc.Context(), err, map[string]any{
			"trace_id": rc.TraceID,
			"route":    rc.Route,
			"method":   rc.Method,
		})
	}
	apierr.Write(w, appErr)
	return appErr.Status
}

func (d *Driver) observe(rc *RequestContext, status int) {
	elapsed := time.Since(rc.Start)
	rc.Logger.Info("request completed", "route", rc.Route, "status", status, "duration", elapsed)
	if d.metrics == nil {
		return
	}
	d.metrics.HTTPRequestsTotal.WithLabelValues(rc.Method, rc.Route, strconv.Itoa(status)).Inc()
	d.metrics.HTTPRequestDuration.WithLabelValues(rc.Method, rc.Route).Observe(elapsed.Seconds())
}
