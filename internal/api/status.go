package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"procodus.dev/iot-dashboard/internal/auth"
	"procodus.dev/iot-dashboard/internal/kvstore"
	"procodus.dev/iot-dashboard/internal/pipeline"
)

const healthTimeout = 2 * time.Second

// status reports liveness. Authenticated callers also see who they are,
// what they may do and which optional layers are active; admins get the
// rate limit table.
func (s *Server) status(rc *pipeline.RequestContext) (*pipeline.Result, error) {
	out := map[string]any{
		"status": "ok",
		"time":   time.Now().UTC(),
	}
	if ac := rc.Auth; ac != nil && ac.Authenticated {
		out["caller"] = ac.Name
		out["role"] = ac.Role
		out["org"] = ac.OrgID
		out["auth_mode"] = s.auth.Mode()
		out["cache_enabled"] = s.cache.Enabled()
		out["ratelimit_enabled"] = s.limiter.Enabled()
		out["events_enabled"] = s.events.Enabled()
		out["permissions"] = auth.PermissionsForRole(ac.Role)
		if ac.IsAdmin() {
			out["rate_limits"] = s.ruleSummary()
		}
	}
	return pipeline.OK(out), nil
}

// ruleSummary lists the configured rate limits by name.
func (s *Server) ruleSummary() map[string]any {
	out := make(map[string]any, len(s.rules))
	for name, r := range s.rules {
		out[name] = map[string]int{"max": r.Max, "window_seconds": r.WindowSeconds()}
	}
	return out
}

// handleHealth probes the database and, when configured, Redis. Only the
// database is fatal; Redis outages degrade caching and rate limiting.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	checks := map[string]string{"database": "ok"}
	status := http.StatusOK
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("database health check failed", "error", err)
		checks["database"] = "unavailable"
		status = http.StatusServiceUnavailable
	}
	if s.config.Redis != nil {
		checks["redis"] = "ok"
		if !kvstore.Healthy(ctx, s.config.Redis, healthTimeout) {
			checks["redis"] = "degraded"
		}
	}

	overall := "healthy"
	if status != http.StatusOK {
		overall = "unhealthy"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck // Best-effort write to response; connection may be closed
	json.NewEncoder(w).Encode(map[string]any{"status": overall, "checks": checks})
}
