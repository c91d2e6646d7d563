package api

import (
	"net/http"

	"procodus.dev/iot-dashboard/internal/auth"
	"procodus.dev/iot-dashboard/internal/pipeline"
	"procodus.dev/iot-dashboard/internal/ratelimit"
)

// Query keys accepted by the read endpoints.
var (
	deviceListQuery   = []string{"type", "status", "location", "device_id", "device_ids", "page", "limit"}
	readingQuery      = []string{"device_id", "device_ids", "type", "start", "end", "limit"}
	scheduleListQuery = []string{"device_id", "status", "page", "limit"}
	rateLimitQuery    = []string{"identifier", "rule"}
	noQuery           = []string{}
)

// setupRoutes configures the HTTP routes.
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Outside the pipeline
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", s.config.MetricsHandler)

	s.handle(mux, "GET /api/status", s.status, pipeline.Authenticate(s.auth, false))

	// Devices
	s.handle(mux, "GET /api/devices", s.listDevices, s.read(deviceListQuery)...)
	s.handle(mux, "POST /api/devices", s.createDevice, s.mutate(s.apiLimit())...)
	s.handle(mux, "GET /api/devices/metadata", s.deviceMetadata, s.read(noQuery)...)
	s.handle(mux, "GET /api/devices/health", s.deviceHealth, s.read(noQuery)...)
	s.handle(mux, "GET /api/devices/{id}", s.getDevice, s.read(noQuery)...)
	s.handle(mux, "PUT /api/devices/{id}", s.updateDevice, s.mutate(s.apiLimit())...)
	s.handle(mux, "PATCH /api/devices/{id}", s.updateDevice, s.mutate(s.apiLimit())...)
	s.handle(mux, "DELETE /api/devices/{id}", s.deleteDevice, s.mutate(s.apiLimit())...)

	// Readings
	s.handle(mux, "GET /api/readings", s.queryReadings, s.read(readingQuery)...)
	s.handle(mux, "POST /api/readings", s.ingestReadings, s.mutate(
		pipeline.LimitSpec{Rule: s.rules.Get(ratelimit.RuleIngestion), Identify: pipeline.ByDevice},
		pipeline.LimitSpec{Rule: s.rules.Get(ratelimit.RuleIngestionIP), Identify: pipeline.ByClientIP},
	)...)
	s.handle(mux, "POST /api/readings/bulk", s.bulkIngestReadings, s.mutate(
		pipeline.LimitSpec{Rule: s.rules.Get(ratelimit.RuleBulk), Identify: pipeline.ByClientIP},
	)...)

	// Schedules
	s.handle(mux, "GET /api/schedules", s.listSchedules, s.read(scheduleListQuery)...)
	s.handle(mux, "POST /api/schedules", s.createSchedule, s.mutate(s.apiLimit())...)
	s.handle(mux, "GET /api/schedules/{id}", s.getSchedule, s.read(noQuery)...)
	s.handle(mux, "PUT /api/schedules/{id}", s.updateSchedule, s.mutate(s.apiLimit())...)
	s.handle(mux, "DELETE /api/schedules/{id}", s.deleteSchedule, s.mutate(s.apiLimit())...)
	s.handle(mux, "POST /api/schedules/{id}/status", s.transitionSchedule, s.mutate(s.apiLimit())...)

	// Admin
	s.handle(mux, "DELETE /api/admin/rate-limits", s.resetRateLimit,
		pipeline.RequestValidation(pipeline.RequestOptions{AllowedQuery: rateLimitQuery}),
		pipeline.Authenticate(s.auth, true),
		pipeline.Authorize(s.policy),
		pipeline.Require(auth.PermAdminDelete),
	)

	return mux
}

func (s *Server) handle(mux *http.ServeMux, pattern string, h pipeline.Handler, stages ...pipeline.Stage) {
	mux.Handle(pattern, s.driver.Handle(pattern, h, stages...))
}

// read is the stage list of a read endpoint.
func (s *Server) read(query []string) []pipeline.Stage {
	return []pipeline.Stage{
		pipeline.RequestValidation(pipeline.RequestOptions{AllowedQuery: query}),
		pipeline.Authenticate(s.auth, true),
		pipeline.Authorize(s.policy),
		pipeline.RateLimit(s.limiter, s.apiLimit()),
	}
}

// mutate is the stage list of a write endpoint.
func (s *Server) mutate(limits ...pipeline.LimitSpec) []pipeline.Stage {
	return []pipeline.Stage{
		pipeline.RequestValidation(pipeline.RequestOptions{}),
		pipeline.Authenticate(s.auth, true),
		pipeline.Authorize(s.policy),
		pipeline.RateLimit(s.limiter, limits...),
	}
}

func (s *Server) apiLimit() pipeline.LimitSpec {
	return pipeline.LimitSpec{Rule: s.rules.Get(ratelimit.RuleAPI), Identify: pipeline.ByCaller}
}
