package services

import (
	"database/sql"
	"time"

	"github.com/sayfoulaye/backend/internal/models"
)

// RolloverService moves live balances into opening baselines at the daily
// reset. This is the only writer of previous_baseline in the whole codebase.
type RolloverService struct {
	db *sql.DB
}

func NewRolloverService(db *sql.DB) *RolloverService {
	return &RolloverService{db: db}
}

// RolloverAllActiveHoldersTx rolls every account of every active supervisor:
// previous_baseline takes the old baseline, baseline takes the live balance,
// the live balance restarts at zero.
//
// One statement covers the whole holder set, so the store's transaction makes
// it all-or-nothing: a crash mid-stage cannot leave one holder half-rolled.
// Accounts with a zero live balance are rolled like any other; skipping them
// would drop their lines from the next day's dashboards.
//
// Re-running is only safe when the snapshot stage already captured the
// pre-rollover state, which the orchestrator's stage ordering guarantees.
func (s *RolloverService) RolloverAllActiveHoldersTx(tx *sql.Tx) (int64, error) {
	result, err := tx.Exec(`
		UPDATE accounts
		SET previous_baseline = baseline,
		    baseline = current_balance,
		    current_balance = 0,
		    version = version + 1,
		    updated_at = $1
		FROM users
		WHERE accounts.user_id = users.id
		  AND users.role = $2 AND users.status = $3`,
		time.Now(), models.RoleSupervisor, models.StatusActive)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
