package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sayfoulaye/backend/internal/config"
	"github.com/sayfoulaye/backend/internal/models"
)

// Marker statuses recorded in system_config.
const (
	MarkerRunning = "RUNNING"
	MarkerSuccess = "SUCCESS"
	MarkerError   = "ERROR"
)

const (
	markerKey = "last_reset_marker"

	// A RUNNING claim older than this is treated as a crashed run and may
	// be taken over.
	staleClaimAfter = 15 * time.Minute

	// Snapshots beyond this horizon are outside the reconciliation contract.
	snapshotRetention = 60 * 24 * time.Hour
)

// ResetMarker is the persisted record of the latest daily reset, stored as a
// single pipe-delimited config value: date|status|time|triggerId.
type ResetMarker struct {
	Date      string `json:"date"`
	Status    string `json:"status"`
	Time      string `json:"time"`
	TriggerID string `json:"triggerId"`
}

func (m ResetMarker) encode() string {
	return strings.Join([]string{m.Date, m.Status, m.Time, m.TriggerID}, "|")
}

func parseMarker(value string) (ResetMarker, error) {
	parts := strings.Split(value, "|")
	if len(parts) != 4 {
		return ResetMarker{}, fmt.Errorf("malformed reset marker %q", value)
	}
	return ResetMarker{Date: parts[0], Status: parts[1], Time: parts[2], TriggerID: parts[3]}, nil
}

// ResetResult summarizes one completed daily reset.
type ResetResult struct {
	Date                string `json:"date"`
	TriggerID           string `json:"triggerId"`
	SnapshotCount       int    `json:"snapshotCount"`
	ArchivedCount       int64  `json:"archivedCount"`
	TransferredAccounts int64  `json:"transferredAccounts"`
	AlreadyDone         bool   `json:"alreadyDone"`
}

// ResetService orchestrates the daily close: snapshot the ending business
// day, archive its counterparty entries, roll balances forward, prune old
// snapshots and record the outcome marker. All balance mutations share one
// database transaction; the claim marker is written before any of them so a
// crashed run leaves evidence instead of a half-applied day.
type ResetService struct {
	db        *sql.DB
	reset     config.ResetConfig
	snapshots *SnapshotService
	archives  *ArchiveService
	rollovers *RolloverService
	notifier  *NotificationService
}

func NewResetService(db *sql.DB, rc config.ResetConfig, snapshots *SnapshotService, archives *ArchiveService, rollovers *RolloverService, notifier *NotificationService) *ResetService {
	return &ResetService{
		db:        db,
		reset:     rc,
		snapshots: snapshots,
		archives:  archives,
		rollovers: rollovers,
		notifier:  notifier,
	}
}

// RunDailyReset performs the close for the business day ending at now. It is
// idempotent per calendar day: a second trigger on a day already marked
// SUCCESS returns AlreadyDone without touching any balance.
func (s *ResetService) RunDailyReset(ctx context.Context, now time.Time) (*ResetResult, error) {
	anchor := s.reset.ResetInstant(now)
	if anchor.After(now) {
		anchor = anchor.AddDate(0, 0, -1)
	}
	runDate := anchor.Format(dateFormat)
	closingDay := anchor.AddDate(0, 0, -1)
	triggerID := uuid.New().String()

	claimed, err := s.claimMarker(runDate, triggerID, now)
	if err != nil {
		return nil, NewOrchestrationError("CLAIM", err)
	}
	if !claimed {
		log.Printf("[RESET] Reset for %s already claimed or completed, skipping (trigger %s)", runDate, triggerID)
		return &ResetResult{Date: runDate, TriggerID: triggerID, AlreadyDone: true}, nil
	}

	log.Printf("[RESET] Starting daily reset for %s (trigger %s)", runDate, triggerID)

	result, err := s.runStages(runDate, closingDay, anchor, triggerID, now)
	if err != nil {
		s.recordMarker(runDate, MarkerError, triggerID, time.Now())
		return nil, err
	}

	s.notify(ctx, result)
	log.Printf("[RESET] Daily reset for %s complete: %d snapshots, %d archived, %d accounts rolled over",
		runDate, result.SnapshotCount, result.ArchivedCount, result.TransferredAccounts)
	return result, nil
}

func (s *ResetService) runStages(runDate string, closingDay, anchor time.Time, triggerID string, now time.Time) (*ResetResult, error) {
	dbTx, err := s.db.Begin()
	if err != nil {
		return nil, NewOrchestrationError("BEGIN", err)
	}
	defer dbTx.Rollback()

	result := &ResetResult{Date: runDate, TriggerID: triggerID}

	// SNAPSHOT runs before any balance moves so the captured figures are
	// the closing day's final state. Upsert semantics make a retried run
	// overwrite, not duplicate.
	result.SnapshotCount, err = s.snapshots.CaptureAllTx(dbTx, closingDay)
	if err != nil {
		return nil, NewOrchestrationError("SNAPSHOT", err)
	}

	closedWindow := Window{Start: anchor.AddDate(0, 0, -1), End: anchor.Add(-time.Second)}
	result.ArchivedCount, err = s.archives.ArchiveCounterpartyTransactionsTx(dbTx, closedWindow)
	if err != nil {
		return nil, NewOrchestrationError("ARCHIVE", err)
	}

	result.TransferredAccounts, err = s.rollovers.RolloverAllActiveHoldersTx(dbTx)
	if err != nil {
		return nil, NewOrchestrationError("TRANSFER", err)
	}

	if _, err := s.snapshots.PruneBeforeTx(dbTx, now.Add(-snapshotRetention)); err != nil {
		return nil, NewOrchestrationError("CLEANUP", err)
	}

	// RECORD_MARKER commits with the mutations: either the day closed and
	// is marked SUCCESS, or neither happened.
	marker := ResetMarker{Date: runDate, Status: MarkerSuccess, Time: time.Now().Format(time.RFC3339), TriggerID: triggerID}
	if _, err := dbTx.Exec(`
		UPDATE system_config SET value = $1, updated_at = $2 WHERE key = $3
	`, marker.encode(), time.Now(), markerKey); err != nil {
		return nil, NewOrchestrationError("RECORD_MARKER", err)
	}

	if err := dbTx.Commit(); err != nil {
		return nil, NewOrchestrationError("COMMIT", err)
	}
	return result, nil
}

// claimMarker writes a RUNNING marker for runDate as the run's first durable
// action. The conditional upsert loses, and reports false, when the day is
// already marked SUCCESS or another run holds a fresh RUNNING claim.
func (s *ResetService) claimMarker(runDate, triggerID string, now time.Time) (bool, error) {
	marker := ResetMarker{Date: runDate, Status: MarkerRunning, Time: now.Format(time.RFC3339), TriggerID: triggerID}

	result, err := s.db.Exec(`
		INSERT INTO system_config (key, value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
		WHERE NOT (
			split_part(system_config.value, '|', 1) = $4
			AND (
				split_part(system_config.value, '|', 2) = $5
				OR (split_part(system_config.value, '|', 2) = $6 AND system_config.updated_at > $7)
			)
		)
	`, markerKey, marker.encode(), now, runDate, MarkerSuccess, MarkerRunning, now.Add(-staleClaimAfter))
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// recordMarker overwrites the marker outside any transaction. Used for the
// ERROR terminal state after a rollback.
func (s *ResetService) recordMarker(runDate, status, triggerID string, at time.Time) {
	marker := ResetMarker{Date: runDate, Status: status, Time: at.Format(time.RFC3339), TriggerID: triggerID}
	if _, err := s.db.Exec(`
		UPDATE system_config SET value = $1, updated_at = $2 WHERE key = $3
	`, marker.encode(), at, markerKey); err != nil {
		log.Printf("[RESET] Failed to record %s marker for %s: %v", status, runDate, err)
	}
}

// LastMarker reads and parses the current reset marker.
func (s *ResetService) LastMarker() (*ResetMarker, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM system_config WHERE key = $1`, markerKey).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, NewNotFoundError("no reset has been recorded yet")
	}
	if err != nil {
		return nil, NewOrchestrationError("MARKER_READ", err)
	}
	marker, err := parseMarker(value)
	if err != nil {
		return nil, NewConsistencyError("%v", err)
	}
	return &marker, nil
}

func (s *ResetService) notify(ctx context.Context, result *ResetResult) {
	rows, err := s.db.Query(`
		SELECT id FROM users WHERE role = $1 AND status = $2
	`, models.RoleSupervisor, models.StatusActive)
	if err != nil {
		log.Printf("[RESET] Failed to list holders for notification: %v", err)
		return
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			log.Printf("[RESET] Failed to scan holder for notification: %v", err)
			return
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		log.Printf("[RESET] Holder scan for notification ended early: %v", err)
		return
	}

	s.notifier.NotifyAll(ctx, ids,
		"Daily reset complete",
		fmt.Sprintf("Balances for %s have been carried over.", result.Date),
		"RESET")
}
