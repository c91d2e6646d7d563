package api

import (
	"context"
	"sort"

	"procodus.dev/iot-dashboard/internal/cache"
	"procodus.dev/iot-dashboard/internal/events"
	"procodus.dev/iot-dashboard/internal/pipeline"
	"procodus.dev/iot-dashboard/internal/store"
	"procodus.dev/iot-dashboard/internal/validation"
)

func toReading(deviceID string, in validation.ReadingInput) store.Reading {
	return store.Reading{
		DeviceID:  deviceID,
		Type:      in.Type,
		Value:     *in.Value,
		Unit:      in.Unit,
		Timestamp: in.Timestamp,
	}
}

func (s *Server) ingestReadings(rc *pipeline.RequestContext) (*pipeline.Result, error) {
	req, err := pipeline.Decode[validation.IngestRequest](rc, s.val)
	if err != nil {
		return nil, err
	}

	readings := make([]store.Reading, len(req.Readings))
	for i, in := range req.Readings {
		readings[i] = toReading(req.DeviceID, in)
	}

	n, err := s.ingest(rc, readings)
	if err != nil {
		return nil, err
	}
	s.events.Emit(rc.Auth, events.ReadingsIngested, req.DeviceID, map[string]any{"count": n})
	return pipeline.Created(map[string]any{"device_id": req.DeviceID, "ingested": n}), nil
}

func (s *Server) bulkIngestReadings(rc *pipeline.RequestContext) (*pipeline.Result, error) {
	req, err := pipeline.Decode[validation.BulkIngestRequest](rc, s.val)
	if err != nil {
		return nil, err
	}

	readings := make([]store.Reading, len(req.Readings))
	seen := make(map[string]struct{})
	for i, in := range req.Readings {
		readings[i] = toReading(in.DeviceID, in.Input())
		seen[in.DeviceID] = struct{}{}
	}
	devices := make([]string, 0, len(seen))
	for id := range seen {
		devices = append(devices, id)
	}
	sort.Strings(devices)

	n, err := s.ingest(rc, readings)
	if err != nil {
		return nil, err
	}
	s.events.Emit(rc.Auth, events.ReadingsIngested, "", map[string]any{"count": n, "device_ids": devices})
	return pipeline.Created(map[string]any{"devices": devices, "ingested": n}), nil
}

func (s *Server) ingest(rc *pipeline.RequestContext, readings []store.Reading) (int, error) {
	org := rc.Org()
	n, err := s.store.IngestReadings(rc.Context(), rc.Auth, org, readings)
	if err != nil {
		return 0, storeError(err, "device", "")
	}
	s.cache.InvalidateReadings(rc.Context(), org)
	if s.metrics != nil {
		s.metrics.ReadingsIngested.Add(float64(n))
	}
	return n, nil
}

func (s *Server) queryReadings(rc *pipeline.RequestContext) (*pipeline.Result, error) {
	q, err := pipeline.Query[validation.ReadingQuery](rc, s.val)
	if err != nil {
		return nil, err
	}

	ids := q.DeviceIDs
	if q.DeviceID != "" {
		ids = []string{q.DeviceID}
	}
	limit := q.Limit
	if limit <= 0 {
		limit = store.DefaultReadingLimit
	}
	filter := store.ReadingFilter{DeviceIDs: ids, Type: q.Type, Start: q.Start, End: q.End, Limit: limit}

	org := rc.Org()
	key := cache.ReadingsKey(org, cache.Params{
		"device_ids": ids,
		"type":       q.Type,
		"start":      q.Start,
		"end":        q.End,
		"limit":      limit,
	})
	readings, hit, err := cache.GetOrSet(rc.Context(), s.cache, key, s.cache.TTLs().Readings,
		func(ctx context.Context) ([]store.Reading, error) {
			return s.store.QueryReadings(ctx, org, filter)
		})
	if err != nil {
		return nil, err
	}
	s.markCache(rc, hit)
	return pipeline.OK(readings), nil
}
