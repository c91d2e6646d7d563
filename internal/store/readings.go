package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"procodus.dev/iot-dashboard/internal/audit"
	"procodus.dev/iot-dashboard/internal/auth"
)

const (
	ingestBatchSize     = 500
	DefaultReadingLimit = 500
	MaxReadingLimit     = 5000
)

// UnknownDevicesError lists devices that readings referred to but that do
// not exist in the organization.
type UnknownDevicesError struct {
	DeviceIDs []string
}

func (e *UnknownDevicesError) Error() string {
	return "unknown devices: " + strings.Join(e.DeviceIDs, ", ")
}

// Is makes errors.Is(err, ErrNotFound) hold.
func (e *UnknownDevicesError) Is(target error) bool {
	return target == ErrNotFound
}

// ReadingFilter narrows QueryReadings.
type ReadingFilter struct {
	DeviceIDs []string
	Type      string
	Start     time.Time
	End       time.Time
	Limit     int
}

// IngestReadings upserts readings and advances each device's last_seen to
// its newest reading. All referenced devices must exist; otherwise nothing
// is written.
func (s *Store) IngestReadings(ctx context.Context, ac *auth.Context, org string, readings []Reading) (int, error) {
	if len(readings) == 0 {
		return 0, nil
	}

	user := audit.User(ac)
	now := s.now().UTC()
	readings = dedupe(readings)
	newest := make(map[string]time.Time)
	for i := range readings {
		r := &readings[i]
		r.OrgID = org
		r.IngestedBy = user
		r.IngestedAt = now
		if r.Timestamp.After(newest[r.DeviceID]) {
			newest[r.DeviceID] = r.Timestamp
		}
	}

	ids := make([]string, 0, len(newest))
	for id := range newest {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	db, cancel := s.conn(ctx)
	defer cancel()
	err := db.Transaction(func(tx *gorm.DB) error {
		var known []string
		if err := tx.Model(&Device{}).
			Where("org_id = ? AND device_id IN ?", org, ids).
			Pluck("device_id", &known).Error; err != nil {
			return err
		}
		if missing := difference(ids, known); len(missing) > 0 {
			return &UnknownDevicesError{DeviceIDs: missing}
		}

		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "org_id"}, {Name: "device_id"}, {Name: "type"}, {Name: "recorded_at"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "unit", "ingested_by", "ingested_at"}),
		}).CreateInBatches(readings, ingestBatchSize).Error; err != nil {
			return fmt.Errorf("failed to upsert readings: %w", err)
		}

		for _, id := range ids {
			ts := newest[id]
			if err := tx.Model(&Device{}).
				Where("org_id = ? AND device_id = ? AND (last_seen IS NULL OR last_seen < ?)", org, id, ts).
				Update("last_seen", ts).Error; err != nil {
				return fmt.Errorf("failed to update last_seen for %s: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(readings), nil
}

// QueryReadings returns readings newest first.
func (s *Store) QueryReadings(ctx context.Context, org string, f ReadingFilter) ([]Reading, error) {
	db, cancel := s.conn(ctx)
	defer cancel()
	q := db.Where("org_id = ?", org)
	if len(f.DeviceIDs) > 0 {
		q = q.Where("device_id IN ?", f.DeviceIDs)
	}
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if !f.Start.IsZero() {
		q = q.Where("recorded_at >= ?", f.Start.UTC())
	}
	if !f.End.IsZero() {
		q = q.Where("recorded_at <= ?", f.End.UTC())
	}

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultReadingLimit
	}
	if limit > MaxReadingLimit {
		limit = MaxReadingLimit
	}

	readings := []Reading{}
	if err := q.Order("recorded_at DESC").Order("device_id").Order("type").
		Limit(limit).Find(&readings).Error; err != nil {
		return nil, err
	}
	return readings, nil
}

// dedupe keeps the last reading for each point so one upsert statement never
// touches a row twice.
func dedupe(readings []Reading) []Reading {
	type point struct {
		device, kind string
		at           int64
	}
	index := make(map[point]int, len(readings))
	out := make([]Reading, 0, len(readings))
	for _, r := range readings {
		r.Timestamp = r.Timestamp.UTC()
		k := point{r.DeviceID, r.Type, r.Timestamp.UnixNano()}
		if i, ok := index[k]; ok {
			out[i] = r
			continue
		}
		index[k] = len(out)
		out = append(out, r)
	}
	return out
}

func difference(want, have []string) []string {
	set := make(map[string]struct{}, len(have))
	for _, h := range have {
		set[h] = struct{}{}
	}
	var out []string
	for _, w := range want {
		if _, ok := set[w]; !ok {
			out = append(out, w)
		}
	}
	return out
}
