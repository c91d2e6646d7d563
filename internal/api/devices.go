package api

import (
	"context"

	"procodus.dev/iot-dashboard/internal/cache"
	"procodus.dev/iot-dashboard/internal/events"
	"procodus.dev/iot-dashboard/internal/pipeline"
	"procodus.dev/iot-dashboard/internal/store"
	"procodus.dev/iot-dashboard/internal/validation"
)

type devicePage struct {
	Items      []store.Device   `json:"items"`
	Pagination store.Pagination `json:"pagination"`
}

func (s *Server) listDevices(rc *pipeline.RequestContext) (*pipeline.Result, error) {
	q, err := pipeline.Query[validation.DeviceListQuery](rc, s.val)
	if err != nil {
		return nil, err
	}

	ids := q.DeviceIDs
	if q.DeviceID != "" {
		ids = []string{q.DeviceID}
	}
	page := pageOf(q.Page, q.Limit)
	filter := store.DeviceFilter{Type: q.Type, Status: q.Status, Location: q.Location, DeviceIDs: ids, Page: page}

	org := rc.Org()
	key := cache.DeviceListKey(org, cache.Params{
		"type":       q.Type,
		"status":     q.Status,
		"location":   q.Location,
		"device_ids": ids,
		"page":       page.Page,
		"limit":      page.Limit,
	})
	out, hit, err := cache.GetOrSet(rc.Context(), s.cache, key, s.cache.TTLs().DeviceList,
		func(ctx context.Context) (devicePage, error) {
			items, p, err := s.store.ListDevices(ctx, org, filter)
			return devicePage{Items: items, Pagination: p}, err
		})
	if err != nil {
		return nil, err
	}
	s.markCache(rc, hit)
	return pipeline.Paged(out.Items, out.Pagination), nil
}

func (s *Server) createDevice(rc *pipeline.RequestContext) (*pipeline.Result, error) {
	req, err := pipeline.Decode[validation.CreateDeviceRequest](rc, s.val)
	if err != nil {
		return nil, err
	}

	d := &store.Device{
		DeviceID: req.DeviceID,
		Name:     req.Name,
		Type:     req.Type,
		Location: req.Location,
		Status:   req.Status,
		Firmware: req.Firmware,
	}
	org := rc.Org()
	if err := s.store.CreateDevice(rc.Context(), rc.Auth, org, d); err != nil {
		return nil, storeError(err, "device", req.DeviceID)
	}

	s.cache.InvalidateDeviceCreated(rc.Context(), org)
	s.events.Emit(rc.Auth, events.DeviceCreated, d.DeviceID, d)
	return pipeline.Created(d), nil
}

func (s *Server) getDevice(rc *pipeline.RequestContext) (*pipeline.Result, error) {
	id, err := s.pathID(rc)
	if err != nil {
		return nil, err
	}

	org := rc.Org()
	d, hit, err := cache.GetOrSet(rc.Context(), s.cache, cache.DeviceKey(org, id), s.cache.TTLs().Device,
		func(ctx context.Context) (*store.Device, error) {
			return s.store.GetDevice(ctx, org, id)
		})
	if err != nil {
		return nil, storeError(err, "device", id)
	}
	s.markCache(rc, hit)
	return pipeline.OK(d), nil
}

func (s *Server) updateDevice(rc *pipeline.RequestContext) (*pipeline.Result, error) {
	id, err := s.pathID(rc)
	if err != nil {
		return nil, err
	}
	req, err := pipeline.Decode[validation.UpdateDeviceRequest](rc, s.val)
	if err != nil {
		return nil, err
	}

	changes := map[string]any{}
	setIf(changes, "name", req.Name)
	setIf(changes, "type", req.Type)
	setIf(changes, "location", req.Location)
	setIf(changes, "status", req.Status)
	setIf(changes, "firmware", req.Firmware)

	org := rc.Org()
	d, err := s.store.UpdateDevice(rc.Context(), rc.Auth, org, id, changes)
	if err != nil {
		return nil, storeError(err, "device", id)
	}

	s.cache.InvalidateDevice(rc.Context(), org, id)
	s.events.Emit(rc.Auth, events.DeviceUpdated, id, changes)
	return pipeline.OK(d), nil
}

func (s *Server) deleteDevice(rc *pipeline.RequestContext) (*pipeline.Result, error) {
	id, err := s.pathID(rc)
	if err != nil {
		return nil, err
	}

	org := rc.Org()
	if err := s.store.DeleteDevice(rc.Context(), rc.Auth, org, id); err != nil {
		return nil, storeError(err, "device", id)
	}

	s.cache.InvalidateDevice(rc.Context(), org, id)
	s.events.Emit(rc.Auth, events.DeviceDeleted, id, nil)
	return pipeline.OK(map[string]any{"device_id": id, "deleted": true}), nil
}

func (s *Server) deviceMetadata(rc *pipeline.RequestContext) (*pipeline.Result, error) {
	org := rc.Org()
	m, hit, err := cache.GetOrSet(rc.Context(), s.cache, cache.MetadataKey(org), s.cache.TTLs().Metadata,
		func(ctx context.Context) (*store.DeviceMetadata, error) {
			return s.store.DeviceMetadata(ctx, org)
		})
	if err != nil {
		return nil, err
	}
	s.markCache(rc, hit)
	return pipeline.OK(m), nil
}

func (s *Server) deviceHealth(rc *pipeline.RequestContext) (*pipeline.Result, error) {
	org := rc.Org()
	window := s.config.OfflineAfter
	key := cache.HealthKey(org, cache.Params{"offline_after": window.String()})
	h, hit, err := cache.GetOrSet(rc.Context(), s.cache, key, s.cache.TTLs().Health,
		func(ctx context.Context) (*store.FleetHealth, error) {
			return s.store.DeviceHealth(ctx, org, window)
		})
	if err != nil {
		return nil, err
	}
	s.markCache(rc, hit)
	return pipeline.OK(h), nil
}

func pageOf(page, limit int) store.Page {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = store.DefaultPageSize
	}
	return store.Page{Page: page, Limit: limit}
}

func setIf[T any](m map[string]any, column string, v *T) {
	if v != nil {
		m[column] = *v
	}
}
