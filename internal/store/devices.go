package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"

	"procodus.dev/iot-dashboard/internal/audit"
	"procodus.dev/iot-dashboard/internal/auth"
)

// DeviceFilter narrows ListDevices. Empty fields match everything.
type DeviceFilter struct {
	Type      string
	Status    string
	Location  string
	DeviceIDs []string
	Page      Page
}

// CreateDevice inserts d for org. A live device with the same identifier is
// a conflict; a soft-deleted one is purged first so identifiers can be
// reused.
func (s *Store) CreateDevice(ctx context.Context, ac *auth.Context, org string, d *Device) error {
	d.OrgID = org
	if d.Status == "" {
		d.Status = DeviceActive
	}
	d.Metadata = audit.Stamp(ac, s.now())

	db, cancel := s.conn(ctx)
	defer cancel()
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().
			Where("org_id = ? AND device_id = ? AND deleted_at IS NOT NULL", org, d.DeviceID).
			Delete(&Device{}).Error; err != nil {
			return err
		}
		return tx.Create(d).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("device %q: %w", d.DeviceID, ErrConflict)
	}
	return err
}

// GetDevice loads one live device.
func (s *Store) GetDevice(ctx context.Context, org, deviceID string) (*Device, error) {
	var d Device
	db, cancel := s.conn(ctx)
	defer cancel()
	err := db.
		Where("org_id = ? AND device_id = ?", org, deviceID).
		First(&d).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

// ListDevices returns one page of devices ordered by identifier.
func (s *Store) ListDevices(ctx context.Context, org string, f DeviceFilter) ([]Device, Pagination, error) {
	db, cancel := s.conn(ctx)
	defer cancel()
	q := db.Model(&Device{}).Where("org_id = ?", org)
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Location != "" {
		q = q.Where("location = ?", f.Location)
	}
	if len(f.DeviceIDs) > 0 {
		q = q.Where("device_id IN ?", f.DeviceIDs)
	}

	page := f.Page.normalize()
	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, Pagination{}, err
	}

	var devices []Device
	if err := q.Order("device_id").Limit(page.Limit).Offset(page.offset()).Find(&devices).Error; err != nil {
		return nil, Pagination{}, err
	}
	return devices, paginate(page, total), nil
}

// UpdateDevice applies column changes to a live device and returns the
// updated row.
func (s *Store) UpdateDevice(ctx context.Context, ac *auth.Context, org, deviceID string, changes map[string]any) (*Device, error) {
	var d Device
	db, cancel := s.conn(ctx)
	defer cancel()
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("org_id = ? AND device_id = ?", org, deviceID).First(&d).Error; err != nil {
			return notFound(err)
		}
		at := audit.Next(d.UpdatedAt, s.now())
		cols := audit.For(ac, audit.ActionUpdate, at).Merge(changes)
		if err := tx.Model(&d).Updates(cols).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", d.ID).First(&d).Error
	})
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// DeleteDevice soft-deletes a device, recording who deleted it.
func (s *Store) DeleteDevice(ctx context.Context, ac *auth.Context, org, deviceID string) error {
	db, cancel := s.conn(ctx)
	defer cancel()
	return db.Transaction(func(tx *gorm.DB) error {
		var d Device
		if err := tx.Where("org_id = ? AND device_id = ?", org, deviceID).First(&d).Error; err != nil {
			return notFound(err)
		}
		at := audit.Next(d.UpdatedAt, s.now())
		return tx.Model(&d).Updates(map[string]any(audit.For(ac, audit.ActionDelete, at))).Error
	})
}

// DeviceMetadata summarizes the fleet of an organization.
type DeviceMetadata struct {
	Total     int64            `json:"total"`
	Types     []string         `json:"types"`
	Locations []string         `json:"locations"`
	Statuses  map[string]int64 `json:"statuses"`
}

// DeviceMetadata returns distinct types and locations and device counts by
// status.
func (s *Store) DeviceMetadata(ctx context.Context, org string) (*DeviceMetadata, error) {
	db, cancel := s.conn(ctx)
	defer cancel()
	m := &DeviceMetadata{Types: []string{}, Locations: []string{}, Statuses: map[string]int64{}}

	if err := db.Model(&Device{}).Where("org_id = ?", org).
		Distinct().Order("type").Pluck("type", &m.Types).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&Device{}).Where("org_id = ? AND location <> ''", org).
		Distinct().Order("location").Pluck("location", &m.Locations).Error; err != nil {
		return nil, err
	}

	var counts []struct {
		Status string
		Count  int64
	}
	if err := db.Model(&Device{}).Where("org_id = ?", org).
		Select("status, count(*) AS count").Group("status").Scan(&counts).Error; err != nil {
		return nil, err
	}
	for _, c := range counts {
		m.Statuses[c.Status] = c.Count
		m.Total += c.Count
	}
	return m, nil
}

// Connectivity states reported by DeviceHealth.
const (
	HealthOnline    = "online"
	HealthOffline   = "offline"
	HealthNeverSeen = "never_seen"
)

// DeviceHealthEntry is the connectivity of one device.
type DeviceHealthEntry struct {
	DeviceID string     `json:"device_id"`
	State    string     `json:"state"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

// FleetHealth counts devices by connectivity state.
type FleetHealth struct {
	Online    int                 `json:"online"`
	Offline   int                 `json:"offline"`
	NeverSeen int                 `json:"never_seen"`
	Devices   []DeviceHealthEntry `json:"devices"`
}

// DeviceHealth classifies every device by how recently it reported. A device
// is online when its last reading is at most offlineAfter old.
func (s *Store) DeviceHealth(ctx context.Context, org string, offlineAfter time.Duration) (*FleetHealth, error) {
	var devices []Device
	db, cancel := s.conn(ctx)
	defer cancel()
	if err := db.
		Select("device_id", "last_seen").
		Where("org_id = ?", org).
		Find(&devices).Error; err != nil {
		return nil, err
	}

	cutoff := s.now().UTC().Add(-offlineAfter)
	h := &FleetHealth{Devices: make([]DeviceHealthEntry, 0, len(devices))}
	for _, d := range devices {
		e := DeviceHealthEntry{DeviceID: d.DeviceID, LastSeen: d.LastSeen}
		switch {
		case d.LastSeen == nil:
			e.State = HealthNeverSeen
			h.NeverSeen++
		case d.LastSeen.Before(cutoff):
			e.State = HealthOffline
			h.Offline++
		default:
			e.State = HealthOnline
			h.Online++
		}
		h.Devices = append(h.Devices, e)
	}
	sort.Slice(h.Devices, func(i, j int) bool { return h.Devices[i].DeviceID < h.Devices[j].DeviceID })
	return h, nil
}
