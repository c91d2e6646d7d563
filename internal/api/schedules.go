package api

import (
	"context"
	"strconv"

	"procodus.dev/iot-dashboard/internal/cache"
	"procodus.dev/iot-dashboard/internal/events"
	"procodus.dev/iot-dashboard/internal/pipeline"
	"procodus.dev/iot-dashboard/internal/store"
	"procodus.dev/iot-dashboard/internal/validation"
)

type schedulePage struct {
	Items      []store.Schedule `json:"items"`
	Pagination store.Pagination `json:"pagination"`
}

func (s *Server) listSchedules(rc *pipeline.RequestContext) (*pipeline.Result, error) {
	q, err := pipeline.Query[validation.ScheduleListQuery](rc, s.val)
	if err != nil {
		return nil, err
	}

	page := pageOf(q.Page, q.Limit)
	filter := store.ScheduleFilter{DeviceID: q.DeviceID, Status: q.Status, Page: page}

	org := rc.Org()
	key := cache.ScheduleListKey(org, cache.Params{
		"device_id": q.DeviceID,
		"status":    q.Status,
		"page":      page.Page,
		"limit":     page.Limit,
	})
	out, hit, err := cache.GetOrSet(rc.Context(), s.cache, key, s.cache.TTLs().Schedules,
		func(ctx context.Context) (schedulePage, error) {
			items, p, err := s.store.ListSchedules(ctx, org, filter)
			return schedulePage{Items: items, Pagination: p}, err
		})
	if err != nil {
		return nil, err
	}
	s.markCache(rc, hit)
	return pipeline.Paged(out.Items, out.Pagination), nil
}

func (s *Server) createSchedule(rc *pipeline.RequestContext) (*pipeline.Result, error) {
	req, err := pipeline.Decode[validation.CreateScheduleRequest](rc, s.val)
	if err != nil {
		return nil, err
	}

	sc := &store.Schedule{
		DeviceID:     req.DeviceID,
		Title:        req.Title,
		Kind:         req.Kind,
		ScheduledFor: req.ScheduledFor,
		Notes:        req.Notes,
	}
	org := rc.Org()
	if err := s.store.CreateSchedule(rc.Context(), rc.Auth, org, sc); err != nil {
		return nil, storeError(err, "device", req.DeviceID)
	}

	s.cache.InvalidateSchedules(rc.Context(), org)
	s.events.Emit(rc.Auth, events.ScheduleCreated, scheduleResource(sc.ID), sc)
	return pipeline.Created(sc), nil
}

func (s *Server) getSchedule(rc *pipeline.RequestContext) (*pipeline.Result, error) {
	id, err := s.scheduleID(rc)
	if err != nil {
		return nil, err
	}
	sc, err := s.store.GetSchedule(rc.Context(), rc.Org(), id)
	if err != nil {
		return nil, storeError(err, "schedule", scheduleResource(id))
	}
	return pipeline.OK(sc), nil
}

func (s *Server) updateSchedule(rc *pipeline.RequestContext) (*pipeline.Result, error) {
	id, err := s.scheduleID(rc)
	if err != nil {
		return nil, err
	}
	req, err := pipeline.Decode[validation.UpdateScheduleRequest](rc, s.val)
	if err != nil {
		return nil, err
	}

	changes := map[string]any{}
	setIf(changes, "title", req.Title)
	setIf(changes, "kind", req.Kind)
	setIf(changes, "notes", req.Notes)
	if req.ScheduledFor != nil {
		changes["scheduled_for"] = req.ScheduledFor.UTC()
	}

	org := rc.Org()
	sc, err := s.store.UpdateSchedule(rc.Context(), rc.Auth, org, id, changes)
	if err != nil {
		return nil, storeError(err, "schedule", scheduleResource(id))
	}

	s.cache.InvalidateSchedules(rc.Context(), org)
	s.events.Emit(rc.Auth, events.ScheduleUpdated, scheduleResource(id), changes)
	return pipeline.OK(sc), nil
}

func (s *Server) transitionSchedule(rc *pipeline.RequestContext) (*pipeline.Result, error) {
	id, err := s.scheduleID(rc)
	if err != nil {
		return nil, err
	}
	req, err := pipeline.Decode[validation.ScheduleStatusRequest](rc, s.val)
	if err != nil {
		return nil, err
	}

	org := rc.Org()
	sc, err := s.store.TransitionSchedule(rc.Context(), rc.Auth, org, id, req.Status)
	if err != nil {
		return nil, storeError(err, "schedule", scheduleResource(id))
	}

	s.cache.InvalidateSchedules(rc.Context(), org)
	typ := events.ScheduleUpdated
	if sc.Status == store.ScheduleCompleted {
		typ = events.ScheduleCompleted
	}
	s.events.Emit(rc.Auth, typ, scheduleResource(id), map[string]any{"status": sc.Status})
	return pipeline.OK(sc), nil
}

func (s *Server) deleteSchedule(rc *pipeline.RequestContext) (*pipeline.Result, error) {
	id, err := s.scheduleID(rc)
	if err != nil {
		return nil, err
	}

	org := rc.Org()
	if err := s.store.DeleteSchedule(rc.Context(), rc.Auth, org, id); err != nil {
		return nil, storeError(err, "schedule", scheduleResource(id))
	}

	s.cache.InvalidateSchedules(rc.Context(), org)
	s.events.Emit(rc.Auth, events.ScheduleDeleted, scheduleResource(id), nil)
	return pipeline.OK(map[string]any{"id": id, "deleted": true}), nil
}

func scheduleResource(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
