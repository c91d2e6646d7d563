package store

import (
	"time"

	"procodus.dev/iot-dashboard/internal/audit"
)

// Device is a registered device. DeviceID is unique per organization.
type Device struct {
	ID       uint       `json:"-" gorm:"primaryKey"`
	OrgID    string     `json:"org_id" gorm:"uniqueIndex:idx_devices_org_device;not null"`
	DeviceID string     `json:"device_id" gorm:"uniqueIndex:idx_devices_org_device;not null"`
	Name     string     `json:"name" gorm:"not null"`
	Type     string     `json:"type" gorm:"index;not null"`
	Location string     `json:"location"`
	Status   string     `json:"status" gorm:"index;not null"`
	Firmware string     `json:"firmware"`
	LastSeen *time.Time `json:"last_seen,omitempty" gorm:"index"`
	audit.Metadata
}

// TableName specifies the table name for Device.
func (Device) TableName() string {
	return "devices"
}

// Reading is one measurement. A reading is identified by organization,
// device, type and timestamp; ingesting the same point again overwrites it.
type Reading struct {
	ID         uint      `json:"-" gorm:"primaryKey"`
	OrgID      string    `json:"-" gorm:"uniqueIndex:idx_readings_point;not null"`
	DeviceID   string    `json:"device_id" gorm:"uniqueIndex:idx_readings_point;index:idx_readings_device_time;not null"`
	Type       string    `json:"type" gorm:"uniqueIndex:idx_readings_point;not null"`
	Timestamp  time.Time `json:"timestamp" gorm:"column:recorded_at;uniqueIndex:idx_readings_point;index:idx_readings_device_time;not null"`
	Value      float64   `json:"value" gorm:"not null"`
	Unit       string    `json:"unit"`
	IngestedBy string    `json:"ingested_by"`
	IngestedAt time.Time `json:"ingested_at"`
}

// TableName specifies the table name for Reading.
func (Reading) TableName() string {
	return "readings"
}

// Schedule is a maintenance task for a device.
type Schedule struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	OrgID        string    `json:"org_id" gorm:"index;not null"`
	DeviceID     string    `json:"device_id" gorm:"index;not null"`
	Title        string    `json:"title" gorm:"not null"`
	Kind         string    `json:"kind" gorm:"not null"`
	Status       string    `json:"status" gorm:"index;not null"`
	ScheduledFor time.Time `json:"scheduled_for" gorm:"not null"`
	Notes        string    `json:"notes"`
	audit.Metadata
	audit.Completion
}

// TableName specifies the table name for Schedule.
func (Schedule) TableName() string {
	return "schedules"
}

// Device statuses.
const (
	DeviceActive      = "active"
	DeviceInactive    = "inactive"
	DeviceMaintenance = "maintenance"
)

// Schedule statuses.
const (
	ScheduleScheduled  = "scheduled"
	ScheduleInProgress = "in_progress"
	ScheduleCompleted  = "completed"
	ScheduleCancelled  = "cancelled"
)

var transitions = map[string][]string{
	ScheduleScheduled:  {ScheduleInProgress, ScheduleCancelled},
	ScheduleInProgress: {ScheduleCompleted, ScheduleCancelled},
}

// CanTransition reports whether a schedule may move from one status to
// another. Completed and cancelled schedules are final.
func CanTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
