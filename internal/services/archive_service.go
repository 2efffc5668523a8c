package services

import (
	"database/sql"
	"log"
	"strconv"
	"time"

	"github.com/lib/pq"
	"github.com/sayfoulaye/backend/internal/models"
)

// Correction window bounds. Below the minimum a deletion is refused to deter
// accidental double-submission; above the maximum the entry is considered
// settled for the day.
const (
	OwnershipWindowMin = 1 * time.Minute
	OwnershipWindowMax = 30 * time.Minute
)

// ArchiveService closes out counterparty transactions at end of day and keeps
// logically-deleted records out of every read path.
type ArchiveService struct {
	db *sql.DB
}

func NewArchiveService(db *sql.DB) *ArchiveService {
	return &ArchiveService{db: db}
}

// ArchiveCounterpartyTransactionsTx marks every not-yet-archived deposit or
// withdrawal referencing a counterparty inside the window as archived.
// Archived is monotonic; scoping to archived = false makes re-runs no-ops.
func (s *ArchiveService) ArchiveCounterpartyTransactionsTx(tx *sql.Tx, window Window) (int64, error) {
	kinds := make([]string, len(models.CounterpartyKinds))
	for i, k := range models.CounterpartyKinds {
		kinds[i] = string(k)
	}

	result, err := tx.Exec(`
		UPDATE transactions
		SET archived = true, archived_at = $1, updated_at = $1
		WHERE kind = ANY($2)
		  AND (partner_id IS NOT NULL OR partner_name <> '')
		  AND archived = false
		  AND created_at >= $3 AND created_at <= $4`,
		time.Now(), pq.Array(kinds), window.Start, window.End)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// FilterDeleted drops tombstoned transactions. The structured DeletedAt field
// is authoritative; the legacy metadata flag is honored as a fallback. A
// metadata blob that cannot be interpreted FAILS OPEN: the record is kept and
// logged, never silently hidden.
func FilterDeleted(transactions []models.Transaction) []models.Transaction {
	active := make([]models.Transaction, 0, len(transactions))
	for _, t := range transactions {
		deleted, err := isDeleted(&t)
		if err != nil {
			log.Printf("[ARCHIVE] Unreadable deletion metadata on transaction %s, keeping record: %v", t.ID, err)
			active = append(active, t)
			continue
		}
		if !deleted {
			active = append(active, t)
		}
	}
	return active
}

func isDeleted(t *models.Transaction) (bool, error) {
	if t.DeletedAt != nil {
		return true, nil
	}
	raw, ok := t.Metadata["deleted"]
	if !ok {
		return false, nil
	}
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return false, err
		}
		return parsed, nil
	default:
		return false, NewValidationError("deleted flag has unexpected type %T", raw)
	}
}

// WindowDecision reports whether a correction is currently allowed and why
// not when it isn't.
type WindowDecision struct {
	Blocked bool   `json:"blocked"`
	Reason  string `json:"reason,omitempty"`
	AgeMin  int    `json:"ageMinutes"`
}

// OwnershipWindow evaluates the post-creation correction window for a single
// transaction. The window is per-transaction, never per-session.
func OwnershipWindow(t *models.Transaction, now time.Time) WindowDecision {
	age := t.Age(now)
	ageMin := int(age / time.Minute)

	if age < OwnershipWindowMin {
		return WindowDecision{
			Blocked: true,
			Reason:  "transaction created less than a minute ago, wait before correcting it",
			AgeMin:  ageMin,
		}
	}
	if age > OwnershipWindowMax {
		return WindowDecision{
			Blocked: true,
			Reason:  "transaction is older than 30 minutes, corrections are closed",
			AgeMin:  ageMin,
		}
	}
	return WindowDecision{AgeMin: ageMin}
}
