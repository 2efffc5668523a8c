package services

import (
	"database/sql"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/sayfoulaye/backend/internal/models"
)

// ErrSnapshotUnavailable is returned when a historical day has no snapshot and
// cannot be approximated. Reconstruction via previous_baseline only reaches
// one business day back; anything older is reported unavailable instead of
// fabricated.
var ErrSnapshotUnavailable = NewNotFoundError("no snapshot available for the requested day")

// SnapshotService captures and serves the immutable per-holder, per-day
// position snapshots the dashboards read for past dates.
type SnapshotService struct {
	db *sql.DB
}

func NewSnapshotService(db *sql.DB) *SnapshotService {
	return &SnapshotService{db: db}
}

const dateFormat = "2006-01-02"

// CaptureSnapshotTx records the holder's per-category baseline/current values
// for date, derived totals included. Upsert keyed by (holder, date): safe to
// re-run for the same day. Callers must run this before rollover mutates the
// live rows.
func (s *SnapshotService) CaptureSnapshotTx(tx *sql.Tx, userID string, date time.Time) (*models.DailySnapshot, error) {
	rows, err := tx.Query(`
		SELECT category, current_balance, baseline
		FROM accounts
		WHERE user_id = $1
		ORDER BY category`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := models.SnapshotLines{}
	var totalBaseline, totalCurrent int64
	for rows.Next() {
		var category string
		var current, baseline int64
		if err := rows.Scan(&category, &current, &baseline); err != nil {
			return nil, err
		}
		lines[category] = models.SnapshotLine{Baseline: baseline, Current: current}
		totalBaseline += baseline
		totalCurrent += current
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	snapshot := &models.DailySnapshot{
		ID:            uuid.NewString(),
		UserID:        userID,
		SnapshotDate:  date,
		Lines:         lines,
		TotalBaseline: totalBaseline,
		TotalCurrent:  totalCurrent,
		CreatedAt:     time.Now(),
	}

	_, err = tx.Exec(`
		INSERT INTO daily_snapshots (id, user_id, snapshot_date, lines, total_baseline, total_current, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, snapshot_date)
		DO UPDATE SET lines = EXCLUDED.lines,
		              total_baseline = EXCLUDED.total_baseline,
		              total_current = EXCLUDED.total_current`,
		snapshot.ID, userID, date.Format(dateFormat), snapshot.Lines,
		totalBaseline, totalCurrent, snapshot.CreatedAt)
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// CaptureAllTx snapshots every active supervisor for date and returns the
// number of snapshots written.
func (s *SnapshotService) CaptureAllTx(tx *sql.Tx, date time.Time) (int, error) {
	rows, err := tx.Query(`
		SELECT id FROM users
		WHERE role = $1 AND status = $2
		ORDER BY full_name`, models.RoleSupervisor, models.StatusActive)
	if err != nil {
		return 0, err
	}

	var supervisorIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		supervisorIDs = append(supervisorIDs, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	count := 0
	for _, id := range supervisorIDs {
		if _, err := s.CaptureSnapshotTx(tx, id, date); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// ReadSnapshot loads the snapshot for (holder, date), or a NotFound error.
func (s *SnapshotService) ReadSnapshot(userID string, date time.Time) (*models.DailySnapshot, error) {
	var snapshot models.DailySnapshot
	err := s.db.QueryRow(`
		SELECT id, user_id, snapshot_date, lines, total_baseline, total_current, created_at
		FROM daily_snapshots
		WHERE user_id = $1 AND snapshot_date = $2`,
		userID, date.Format(dateFormat)).Scan(
		&snapshot.ID, &snapshot.UserID, &snapshot.SnapshotDate, &snapshot.Lines,
		&snapshot.TotalBaseline, &snapshot.TotalCurrent, &snapshot.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, NewNotFoundError("no snapshot for holder %s on %s", userID, date.Format(dateFormat))
	}
	if err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// ReadOrReconstruct serves a historical day. Exact snapshot recall works for
// any captured day; when the snapshot is missing, the live rows' baseline and
// previous_baseline approximate the single most recent prior business day
// only. Anything further back is ErrSnapshotUnavailable.
func (s *SnapshotService) ReadOrReconstruct(accounts *AccountService, userID string, date, businessToday time.Time) (*models.DailySnapshot, error) {
	snapshot, err := s.ReadSnapshot(userID, date)
	if err == nil {
		return snapshot, nil
	}
	if !IsKind(err, KindNotFound) {
		return nil, err
	}

	if date.Format(dateFormat) != businessToday.AddDate(0, 0, -1).Format(dateFormat) {
		return nil, ErrSnapshotUnavailable
	}

	log.Printf("[SNAPSHOT] No snapshot for %s on %s, approximating from live rows", userID, date.Format(dateFormat))
	accts, err := accounts.ListByUser(userID)
	if err != nil {
		return nil, err
	}

	lines := models.SnapshotLines{}
	var totalBaseline, totalCurrent int64
	for _, a := range accts {
		// Yesterday opened at previous_baseline and closed at today's baseline.
		lines[a.Category] = models.SnapshotLine{Baseline: a.PreviousBaseline, Current: a.Baseline}
		totalBaseline += a.PreviousBaseline
		totalCurrent += a.Baseline
	}

	return &models.DailySnapshot{
		UserID:        userID,
		SnapshotDate:  date,
		Lines:         lines,
		TotalBaseline: totalBaseline,
		TotalCurrent:  totalCurrent,
	}, nil
}

// PruneBefore drops snapshots older than cutoff. Reconciliation beyond 60
// days is out of contract, so the cleanup stage retires them.
func (s *SnapshotService) PruneBeforeTx(tx *sql.Tx, cutoff time.Time) (int64, error) {
	result, err := tx.Exec(`DELETE FROM daily_snapshots WHERE snapshot_date < $1`, cutoff.Format(dateFormat))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
