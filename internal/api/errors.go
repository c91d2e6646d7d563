package api

import (
	"errors"
	"strconv"
	"strings"

	"procodus.dev/iot-dashboard/internal/apierr"
	"procodus.dev/iot-dashboard/internal/pipeline"
	"procodus.dev/iot-dashboard/internal/store"
)

const headerCache = "X-Cache"

// storeError maps repository sentinels onto API errors. Anything else passes
// through and becomes INTERNAL_ERROR.
func storeError(err error, resource, id string) error {
	var unknown *store.UnknownDevicesError
	switch {
	case errors.As(err, &unknown):
		return apierr.NotFound("device", strings.Join(unknown.DeviceIDs, ", ")).
			WithMeta("device_ids", unknown.DeviceIDs).Wrap(err)
	case errors.Is(err, store.ErrNotFound):
		return apierr.NotFound(resource, id).Wrap(err)
	case errors.Is(err, store.ErrConflict):
		return apierr.Conflict(resource + " " + strconv.Quote(id) + " conflicts with its current state").Wrap(err)
	case errors.Is(err, store.ErrInvalidTransition):
		return apierr.Unprocessable(err.Error()).Wrap(err)
	}
	return err
}

// markCache reports whether a read was served from the cache.
func (s *Server) markCache(rc *pipeline.RequestContext, hit bool) {
	if !s.cache.Enabled() {
		return
	}
	if hit {
		rc.Header().Set(headerCache, "HIT")
	} else {
		rc.Header().Set(headerCache, "MISS")
	}
}

func (s *Server) pathID(rc *pipeline.RequestContext) (string, error) {
	id := rc.PathValue("id")
	if err := s.val.ValueOrThrow(id, "required,max=64,identifier", "id"); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Server) scheduleID(rc *pipeline.RequestContext) (uint, error) {
	raw := rc.PathValue("id")
	n, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || n == 0 {
		return 0, apierr.Validation([]apierr.FieldError{{
			Path:     "id",
			Message:  "must be a positive integer",
			Code:     "invalid_type",
			Expected: "integer",
			Received: raw,
		}})
	}
	return uint(n), nil
}
