package api

import (
	"fmt"
	"sort"

	"procodus.dev/iot-dashboard/internal/apierr"
	"procodus.dev/iot-dashboard/internal/pipeline"
	"procodus.dev/iot-dashboard/internal/validation"
)

// resetRateLimit clears one rate limit counter. Unknown rule names are
// rejected rather than silently deleting nothing.
func (s *Server) resetRateLimit(rc *pipeline.RequestContext) (*pipeline.Result, error) {
	q, err := pipeline.Query[validation.RateLimitResetQuery](rc, s.val)
	if err != nil {
		return nil, err
	}

	if _, ok := s.rules[q.Rule]; !ok {
		names := make([]string, 0, len(s.rules))
		for name := range s.rules {
			names = append(names, name)
		}
		sort.Strings(names)
		return nil, apierr.Validation([]apierr.FieldError{{
			Path:     "rule",
			Message:  fmt.Sprintf("must be one of %v", names),
			Code:     "oneof",
			Received: q.Rule,
		}})
	}

	if err := s.limiter.Reset(rc.Context(), q.Identifier, q.Rule); err != nil {
		return nil, fmt.Errorf("failed to reset rate limit: %w", err)
	}

	s.logger.Info("rate limit reset",
		"rule", q.Rule,
		"identifier", q.Identifier,
		"by", rc.Auth.Name,
		"trace_id", rc.TraceID,
	)
	return pipeline.OK(map[string]any{"rule": q.Rule, "identifier": q.Identifier, "reset": true}), nil
}
