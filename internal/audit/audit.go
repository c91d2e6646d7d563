// Package audit stamps who changed a business entity and when.
package audit

import (
	"time"

	"gorm.io/gorm"

	"procodus.dev/iot-dashboard/internal/auth"
)

// SystemUser is recorded for writes without an authenticated caller, such
// as seeding and background jobs.
const SystemUser = "system"

// Action is a kind of audited change.
type Action string

const (
	ActionCreate   Action = "create"
	ActionUpdate   Action = "update"
	ActionDelete   Action = "delete"
	ActionComplete Action = "complete"
)

// Metadata is embedded in every mutable entity. Its fields are written only
// through Stamp and Fields.
type Metadata struct {
	CreatedBy string         `json:"created_by" gorm:"not null"`
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime:false;not null"`
	UpdatedBy string         `json:"updated_by" gorm:"not null"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime:false;not null"`
	DeletedBy string         `json:"deleted_by,omitempty"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// Completion is embedded in workflow entities that can be completed.
type Completion struct {
	CompletedBy string     `json:"completed_by,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Fields is a column set ready for a gorm Updates call.
type Fields map[string]any

// User returns the name recorded for writes made by ac.
func User(ac *auth.Context) string {
	if ac == nil || !ac.Authenticated || ac.Name == "" {
		return SystemUser
	}
	return ac.Name
}

// Stamp returns the metadata of a newly created entity. Created and updated
// fields share one timestamp.
func Stamp(ac *auth.Context, at time.Time) Metadata {
	user := User(ac)
	at = at.UTC()
	return Metadata{
		CreatedBy: user,
		CreatedAt: at,
		UpdatedBy: user,
		UpdatedAt: at,
	}
}

// For returns the columns an action writes. Every action except create also
// bumps the updated pair. Create fields are never produced for other
// actions, so created_by and created_at stay fixed after insert.
func For(ac *auth.Context, action Action, at time.Time) Fields {
	user := User(ac)
	at = at.UTC()

	f := Fields{"updated_by": user, "updated_at": at}
	switch action {
	case ActionCreate:
		f["created_by"] = user
		f["created_at"] = at
	case ActionDelete:
		f["deleted_by"] = user
		f["deleted_at"] = at
	case ActionComplete:
		f["completed_by"] = user
		f["completed_at"] = at
	}
	return f
}

// Next returns the timestamp for an update of an entity last updated at
// prev, never earlier than prev.
func Next(prev, now time.Time) time.Time {
	now = now.UTC()
	if now.Before(prev) {
		return prev.UTC()
	}
	return now
}

// Merge copies audit fields into an update set. Caller columns with the
// same name are overwritten.
func (f Fields) Merge(into map[string]any) map[string]any {
	if into == nil {
		into = make(map[string]any, len(f))
	}
	for k, v := range f {
		into[k] = v
	}
	return into
}
