package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"procodus.dev/iot-dashboard/internal/audit"
	"procodus.dev/iot-dashboard/internal/auth"
)

// ScheduleFilter narrows ListSchedules.
type ScheduleFilter struct {
	DeviceID string
	Status   string
	Page     Page
}

// CreateSchedule inserts a schedule for an existing device.
func (s *Store) CreateSchedule(ctx context.Context, ac *auth.Context, org string, sc *Schedule) error {
	sc.OrgID = org
	sc.Status = ScheduleScheduled
	sc.ScheduledFor = sc.ScheduledFor.UTC()
	sc.Metadata = audit.Stamp(ac, s.now())

	db, cancel := s.conn(ctx)
	defer cancel()
	return db.Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&Device{}).
			Where("org_id = ? AND device_id = ?", org, sc.DeviceID).
			Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return &UnknownDevicesError{DeviceIDs: []string{sc.DeviceID}}
		}
		return tx.Create(sc).Error
	})
}

// GetSchedule loads one live schedule.
func (s *Store) GetSchedule(ctx context.Context, org string, id uint) (*Schedule, error) {
	var sc Schedule
	db, cancel := s.conn(ctx)
	defer cancel()
	if err := db.Where("org_id = ? AND id = ?", org, id).First(&sc).Error; err != nil {
		return nil, notFound(err)
	}
	return &sc, nil
}

// ListSchedules returns one page of schedules, soonest first.
func (s *Store) ListSchedules(ctx context.Context, org string, f ScheduleFilter) ([]Schedule, Pagination, error) {
	db, cancel := s.conn(ctx)
	defer cancel()
	q := db.Model(&Schedule{}).Where("org_id = ?", org)
	if f.DeviceID != "" {
		q = q.Where("device_id = ?", f.DeviceID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}

	page := f.Page.normalize()
	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, Pagination{}, err
	}

	schedules := []Schedule{}
	if err := q.Order("scheduled_for").Order("id").
		Limit(page.Limit).Offset(page.offset()).Find(&schedules).Error; err != nil {
		return nil, Pagination{}, err
	}
	return schedules, paginate(page, total), nil
}

// UpdateSchedule edits an open schedule. Final schedules cannot be edited.
func (s *Store) UpdateSchedule(ctx context.Context, ac *auth.Context, org string, id uint, changes map[string]any) (*Schedule, error) {
	var sc Schedule
	db, cancel := s.conn(ctx)
	defer cancel()
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("org_id = ? AND id = ?", org, id).First(&sc).Error; err != nil {
			return notFound(err)
		}
		if isFinal(sc.Status) {
			return fmt.Errorf("schedule is %s: %w", sc.Status, ErrInvalidTransition)
		}
		at := audit.Next(sc.UpdatedAt, s.now())
		if err := tx.Model(&sc).Updates(audit.For(ac, audit.ActionUpdate, at).Merge(changes)).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", sc.ID).First(&sc).Error
	})
	if err != nil {
		return nil, err
	}
	return &sc, nil
}

// TransitionSchedule moves a schedule to status to. The update is
// conditional on the status read, so concurrent transitions cannot both
// succeed.
func (s *Store) TransitionSchedule(ctx context.Context, ac *auth.Context, org string, id uint, to string) (*Schedule, error) {
	var sc Schedule
	db, cancel := s.conn(ctx)
	defer cancel()
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("org_id = ? AND id = ?", org, id).First(&sc).Error; err != nil {
			return notFound(err)
		}
		from := sc.Status
		if !CanTransition(from, to) {
			return fmt.Errorf("cannot move schedule from %s to %s: %w", from, to, ErrInvalidTransition)
		}

		action := audit.ActionUpdate
		if to == ScheduleCompleted {
			action = audit.ActionComplete
		}
		at := audit.Next(sc.UpdatedAt, s.now())
		cols := audit.For(ac, action, at).Merge(map[string]any{"status": to})

		res := tx.Model(&Schedule{}).Where("id = ? AND status = ?", sc.ID, from).Updates(cols)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("schedule changed concurrently: %w", ErrConflict)
		}
		return tx.Where("id = ?", sc.ID).First(&sc).Error
	})
	if err != nil {
		return nil, err
	}
	return &sc, nil
}

// DeleteSchedule soft-deletes a schedule.
func (s *Store) DeleteSchedule(ctx context.Context, ac *auth.Context, org string, id uint) error {
	db, cancel := s.conn(ctx)
	defer cancel()
	return db.Transaction(func(tx *gorm.DB) error {
		var sc Schedule
		if err := tx.Where("org_id = ? AND id = ?", org, id).First(&sc).Error; err != nil {
			return notFound(err)
		}
		at := audit.Next(sc.UpdatedAt, s.now())
		return tx.Model(&sc).Updates(map[string]any(audit.For(ac, audit.ActionDelete, at))).Error
	})
}

func isFinal(status string) bool {
	return status == ScheduleCompleted || status == ScheduleCancelled
}
