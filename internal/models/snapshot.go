package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// SnapshotLine is one category's captured position.
type SnapshotLine struct {
	Baseline int64 `json:"baseline"`
	Current  int64 `json:"current"`
}

// SnapshotLines maps account category -> captured position. Stored as JSONB.
type SnapshotLines map[string]SnapshotLine

// Value implements driver.Valuer for SnapshotLines
func (s SnapshotLines) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	return json.Marshal(s)
}

// Scan implements sql.Scanner for SnapshotLines
func (s *SnapshotLines) Scan(value any) error {
	if value == nil {
		*s = nil
		return nil
	}

	b, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}

	return json.Unmarshal(b, s)
}

// DailySnapshot is the immutable point-in-time capture of one holder's
// positions for one calendar day, taken just before that day's rollover.
// Keyed by (UserID, SnapshotDate); upserted only to heal a missed run.
type DailySnapshot struct {
	ID            string        `json:"id" db:"id"`
	UserID        string        `json:"user_id" db:"user_id"`
	SnapshotDate  time.Time     `json:"snapshot_date" db:"snapshot_date"`
	Lines         SnapshotLines `json:"lines" db:"lines"`
	TotalBaseline int64         `json:"total_baseline" db:"total_baseline"`
	TotalCurrent  int64         `json:"total_current" db:"total_current"`
	CreatedAt     time.Time     `json:"created_at" db:"created_at"`
}
