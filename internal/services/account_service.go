package services

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/sayfoulaye/backend/internal/models"
)

// AccountService is the transactional wrapper around balance mutation. All
// amounts are integer minor units.
//
// The UPDATE statements here deliberately never name previous_baseline: only
// the rollover engine may write that column.
type AccountService struct {
	db *sql.DB
}

func NewAccountService(db *sql.DB) *AccountService {
	return &AccountService{db: db}
}

// GetOrCreateTx returns the (holder, category) account, locking it for the
// duration of tx. Accounts are created lazily on first use and never deleted.
func (s *AccountService) GetOrCreateTx(tx *sql.Tx, userID, category string) (*models.Account, error) {
	if !models.IsValidCategory(category) {
		return nil, NewValidationError("unknown account category %q", category)
	}

	account, err := s.lockAccount(tx, userID, category)
	if err == nil {
		return account, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	now := time.Now()
	account = &models.Account{
		ID:        uuid.NewString(),
		UserID:    userID,
		Category:  category,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err = tx.Exec(`
		INSERT INTO accounts (id, user_id, category, current_balance, baseline, previous_baseline, version, created_at, updated_at)
		VALUES ($1, $2, $3, 0, 0, 0, 1, $4, $5)`,
		account.ID, userID, category, now, now)
	if err != nil {
		return nil, err
	}
	return account, nil
}

func (s *AccountService) lockAccount(tx *sql.Tx, userID, category string) (*models.Account, error) {
	var account models.Account
	err := tx.QueryRow(`
		SELECT id, user_id, category, current_balance, baseline, previous_baseline, version, created_at, updated_at
		FROM accounts
		WHERE user_id = $1 AND category = $2
		FOR UPDATE`, userID, category).Scan(
		&account.ID, &account.UserID, &account.Category,
		&account.CurrentBalance, &account.Baseline, &account.PreviousBaseline,
		&account.Version, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// AdjustCurrentTx moves the live balance by delta (negative for withdrawals).
// A result below zero is rejected as a ConsistencyError with no mutation.
func (s *AccountService) AdjustCurrentTx(tx *sql.Tx, account *models.Account, delta int64) error {
	newBalance := account.CurrentBalance + delta
	if newBalance < 0 {
		return NewConsistencyError("insufficient balance on %s: have %d, need %d",
			account.Category, account.CurrentBalance, -delta)
	}
	if err := s.writeBalances(tx, account, newBalance, account.Baseline); err != nil {
		return err
	}
	account.CurrentBalance = newBalance
	return nil
}

// AdjustBaselineTx moves the opening balance by delta.
func (s *AccountService) AdjustBaselineTx(tx *sql.Tx, account *models.Account, delta int64) error {
	newBaseline := account.Baseline + delta
	if newBaseline < 0 {
		return NewConsistencyError("baseline on %s cannot go negative", account.Category)
	}
	if err := s.writeBalances(tx, account, account.CurrentBalance, newBaseline); err != nil {
		return err
	}
	account.Baseline = newBaseline
	return nil
}

// ReplaceCurrentTx overwrites the live balance outright (closing-balance entry,
// dashboard line reset).
func (s *AccountService) ReplaceCurrentTx(tx *sql.Tx, account *models.Account, value int64) error {
	if value < 0 {
		return NewValidationError("balance cannot be negative")
	}
	if err := s.writeBalances(tx, account, value, account.Baseline); err != nil {
		return err
	}
	account.CurrentBalance = value
	return nil
}

// ReplaceBaselineTx overwrites the opening balance outright.
func (s *AccountService) ReplaceBaselineTx(tx *sql.Tx, account *models.Account, value int64) error {
	if value < 0 {
		return NewValidationError("baseline cannot be negative")
	}
	if err := s.writeBalances(tx, account, account.CurrentBalance, value); err != nil {
		return err
	}
	account.Baseline = value
	return nil
}

func (s *AccountService) writeBalances(tx *sql.Tx, account *models.Account, current, baseline int64) error {
	result, err := tx.Exec(`
		UPDATE accounts
		SET current_balance = $1, baseline = $2, version = version + 1, updated_at = $3
		WHERE id = $4 AND version = $5`,
		current, baseline, time.Now(), account.ID, account.Version)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return NewConsistencyError("optimistic lock failed for account %s", account.ID)
	}

	account.Version++
	return nil
}

// ListByUser returns every account of a holder, ordered by category.
func (s *AccountService) ListByUser(userID string) ([]models.Account, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, category, current_balance, baseline, previous_baseline, version, created_at, updated_at
		FROM accounts
		WHERE user_id = $1
		ORDER BY category`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanAccounts(rows)
}

// ListBySupervisors returns the accounts of every active supervisor.
func (s *AccountService) ListBySupervisors() ([]models.Account, error) {
	rows, err := s.db.Query(`
		SELECT a.id, a.user_id, a.category, a.current_balance, a.baseline, a.previous_baseline, a.version, a.created_at, a.updated_at
		FROM accounts a
		INNER JOIN users u ON a.user_id = u.id
		WHERE u.role = $1 AND u.status = $2
		ORDER BY a.user_id, a.category`, models.RoleSupervisor, models.StatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanAccounts(rows)
}

func scanAccounts(rows *sql.Rows) ([]models.Account, error) {
	accounts := []models.Account{}
	for rows.Next() {
		var a models.Account
		err := rows.Scan(&a.ID, &a.UserID, &a.Category,
			&a.CurrentBalance, &a.Baseline, &a.PreviousBaseline,
			&a.Version, &a.CreatedAt, &a.UpdatedAt)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}
