package validation

import (
	"time"

	"procodus.dev/iot-dashboard/internal/apierr"
)

// Device schemas.

// CreateDeviceRequest is the body of POST /api/devices.
type CreateDeviceRequest struct {
	DeviceID string `json:"device_id" validate:"required,min=3,max=64,identifier"`
	Name     string `json:"name" validate:"required,min=1,max=128"`
	Type     string `json:"type" validate:"required,oneof=sensor meter gateway actuator controller"`
	Location string `json:"location" validate:"omitempty,max=256"`
	Status   string `json:"status" validate:"omitempty,oneof=active inactive maintenance"`
	Firmware string `json:"firmware" validate:"omitempty,max=64"`
}

// UpdateDeviceRequest is the body of PUT/PATCH /api/devices/{id}. Absent
// fields are left unchanged.
type UpdateDeviceRequest struct {
	Name     *string `json:"name" validate:"omitempty,min=1,max=128"`
	Type     *string `json:"type" validate:"omitempty,oneof=sensor meter gateway actuator controller"`
	Location *string `json:"location" validate:"omitempty,max=256"`
	Status   *string `json:"status" validate:"omitempty,oneof=active inactive maintenance"`
	Firmware *string `json:"firmware" validate:"omitempty,max=64"`
}

// Refine rejects empty updates.
func (r *UpdateDeviceRequest) Refine() []apierr.FieldError {
	if r.Name == nil && r.Type == nil && r.Location == nil && r.Status == nil && r.Firmware == nil {
		return []apierr.FieldError{{Message: "at least one field must be provided", Code: "empty_update"}}
	}
	return nil
}

// DeviceListQuery filters GET /api/devices.
type DeviceListQuery struct {
	Type      string   `query:"type" validate:"omitempty,oneof=sensor meter gateway actuator controller"`
	Status    string   `query:"status" validate:"omitempty,oneof=active inactive maintenance"`
	Location  string   `query:"location" validate:"omitempty,max=256"`
	DeviceID  string   `query:"device_id" validate:"omitempty,identifier"`
	DeviceIDs []string `query:"device_ids" validate:"omitempty,max=100,dive,identifier"`
	Page      int      `query:"page" validate:"omitempty,gte=1"`
	Limit     int      `query:"limit" validate:"omitempty,gte=1,lte=100"`
}

// Refine enforces device_id / device_ids exclusivity.
func (q *DeviceListQuery) Refine() []apierr.FieldError {
	return exclusiveIDs(q.DeviceID, q.DeviceIDs)
}

// Reading schemas.

// ReadingInput is one measurement.
type ReadingInput struct {
	Type      string    `json:"type" validate:"required,oneof=temperature humidity pressure power energy voltage current battery"`
	Value     *float64  `json:"value" validate:"required"`
	Unit      string    `json:"unit" validate:"omitempty,max=16"`
	Timestamp time.Time `json:"timestamp" validate:"required"`
}

// IngestRequest is the body of POST /api/readings.
type IngestRequest struct {
	DeviceID string         `json:"device_id" validate:"required,identifier"`
	Readings []ReadingInput `json:"readings" validate:"required,min=1,max=1000,dive"`
}

// BulkReadingInput is one measurement with its device.
type BulkReadingInput struct {
	DeviceID  string    `json:"device_id" validate:"required,identifier"`
	Type      string    `json:"type" validate:"required,oneof=temperature humidity pressure power energy voltage current battery"`
	Value     *float64  `json:"value" validate:"required"`
	Unit      string    `json:"unit" validate:"omitempty,max=16"`
	Timestamp time.Time `json:"timestamp" validate:"required"`
}

// Input drops the device identifier.
func (b BulkReadingInput) Input() ReadingInput {
	return ReadingInput{Type: b.Type, Value: b.Value, Unit: b.Unit, Timestamp: b.Timestamp}
}

// BulkIngestRequest is the body of POST /api/readings/bulk.
type BulkIngestRequest struct {
	Readings []BulkReadingInput `json:"readings" validate:"required,min=1,max=50000,dive"`
}

// ReadingQuery filters GET /api/readings.
type ReadingQuery struct {
	DeviceID  string    `query:"device_id" validate:"omitempty,identifier"`
	DeviceIDs []string  `query:"device_ids" validate:"omitempty,max=100,dive,identifier"`
	Type      string    `query:"type" validate:"omitempty,oneof=temperature humidity pressure power energy voltage current battery"`
	Start     time.Time `query:"start"`
	End       time.Time `query:"end"`
	Limit     int       `query:"limit" validate:"omitempty,gte=1,lte=5000"`
}

// Refine enforces identifier exclusivity and range ordering.
func (q *ReadingQuery) Refine() []apierr.FieldError {
	errs := exclusiveIDs(q.DeviceID, q.DeviceIDs)
	if !q.Start.IsZero() && !q.End.IsZero() && q.End.Before(q.Start) {
		errs = append(errs, apierr.FieldError{
			Path:    "end",
			Message: "must not be before start",
			Code:    "invalid_range",
		})
	}
	return errs
}

// Schedule schemas.

// CreateScheduleRequest is the body of POST /api/schedules.
type CreateScheduleRequest struct {
	DeviceID     string    `json:"device_id" validate:"required,identifier"`
	Title        string    `json:"title" validate:"required,min=1,max=200"`
	Kind         string    `json:"kind" validate:"required,oneof=maintenance calibration inspection replacement"`
	ScheduledFor time.Time `json:"scheduled_for" validate:"required"`
	Notes        string    `json:"notes" validate:"omitempty,max=2000"`
}

// UpdateScheduleRequest is the body of PUT /api/schedules/{id}.
type UpdateScheduleRequest struct {
	Title        *string    `json:"title" validate:"omitempty,min=1,max=200"`
	Kind         *string    `json:"kind" validate:"omitempty,oneof=maintenance calibration inspection replacement"`
	ScheduledFor *time.Time `json:"scheduled_for"`
	Notes        *string    `json:"notes" validate:"omitempty,max=2000"`
}

// Refine rejects empty updates.
func (r *UpdateScheduleRequest) Refine() []apierr.FieldError {
	if r.Title == nil && r.Kind == nil && r.ScheduledFor == nil && r.Notes == nil {
		return []apierr.FieldError{{Message: "at least one field must be provided", Code: "empty_update"}}
	}
	return nil
}

// ScheduleStatusRequest is the body of POST /api/schedules/{id}/status.
type ScheduleStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=scheduled in_progress completed cancelled"`
}

// ScheduleListQuery filters GET /api/schedules.
type ScheduleListQuery struct {
	DeviceID string `query:"device_id" validate:"omitempty,identifier"`
	Status   string `query:"status" validate:"omitempty,oneof=scheduled in_progress completed cancelled"`
	Page     int    `query:"page" validate:"omitempty,gte=1"`
	Limit    int    `query:"limit" validate:"omitempty,gte=1,lte=100"`
}

// RateLimitResetQuery is the query of DELETE /api/admin/rate-limits.
type RateLimitResetQuery struct {
	Identifier string `query:"identifier" validate:"required,max=256"`
	Rule       string `query:"rule" validate:"required,max=64"`
}

func exclusiveIDs(single string, many []string) []apierr.FieldError {
	if single != "" && len(many) > 0 {
		return []apierr.FieldError{{
			Path:    "device_ids",
			Message: "cannot supply both device_id and device_ids",
			Code:    "mutually_exclusive",
		}}
	}
	return nil
}
