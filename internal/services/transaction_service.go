package services

import (
	"database/sql"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sayfoulaye/backend/internal/config"
	"github.com/sayfoulaye/backend/internal/middleware"
	"github.com/sayfoulaye/backend/internal/models"
)

type TransactionService struct {
	db          *sql.DB
	reset       config.ResetConfig
	accounts    *AccountService
	permissions *PermissionService
	notifier    *NotificationService
	validator   *ValidationHelper
}

func NewTransactionService(db *sql.DB, rc config.ResetConfig, accounts *AccountService, notifier *NotificationService) *TransactionService {
	return &TransactionService{
		db:          db,
		reset:       rc,
		accounts:    accounts,
		permissions: NewPermissionService(),
		notifier:    notifier,
		validator:   NewValidationHelper(),
	}
}

type createTransactionRequest struct {
	Amount      int64                  `json:"amount" validate:"required,gt=0"`
	Kind        models.TransactionKind `json:"kind" validate:"required"`
	Category    string                 `json:"category" validate:"required"`
	Description string                 `json:"description"`
	ReceiverID  string                 `json:"receiverId,omitempty"`
	PartnerID   *string                `json:"partnerId,omitempty"`
	PartnerName string                 `json:"partnerName,omitempty"`
}

type updateTransactionRequest struct {
	Amount int64 `json:"amount" validate:"required,gt=0"`
	// Pointer so an explicit empty string clears the description while an
	// omitted field leaves it alone.
	Description *string `json:"description"`
}

// withdrawalEffect gives the current-balance movement of a withdrawal. A
// counterparty RETRAIT is cash the partner hands over and credits the holder;
// a withdrawal on the holder's own till debits it.
func withdrawalEffect(hasCounterparty bool, amount int64) int64 {
	if hasCounterparty {
		return amount
	}
	return -amount
}

const transactionColumns = `id, reference, amount, kind, description, sender_id, receiver_id,
	partner_id, partner_name, account_id, archived, archived_at, deleted_at, metadata, created_at, updated_at`

// CreateTransaction records a cash movement and applies its balance effect.
// @Summary Create a transaction
// @Tags transactions
// @Accept json
// @Produce json
// @Param transaction body createTransactionRequest true "Transaction data"
// @Success 201 {object} models.Transaction
// @Failure 400 {object} map[string]string
// @Failure 403 {object} map[string]string
// @Router /transactions [post]
func (ts *TransactionService) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	caller, err := ts.currentUser(r)
	if err != nil {
		SendServiceError(w, err)
		return
	}

	var req createTransactionRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := ts.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	txn, err := ts.create(caller, &req)
	if err != nil {
		log.Printf("[TRANSACTION] Create failed for %s: %v", caller.ID, err)
		SendServiceError(w, err)
		return
	}

	go ts.notifier.Notify(r.Context(), Notification{
		UserID:  txn.ReceiverID,
		Title:   "Transaction recorded",
		Message: txn.Reference,
		Type:    "TRANSACTION",
	})

	WriteJSON(w, http.StatusCreated, txn)
}

func (ts *TransactionService) create(caller *models.User, req *createTransactionRequest) (*models.Transaction, error) {
	if !models.IsValidKind(req.Kind) {
		return nil, NewValidationError("unknown transaction kind %q", req.Kind)
	}
	if !req.Kind.IsMutable() {
		return nil, NewValidationError("%s records are written by the system, not through this endpoint", req.Kind)
	}
	if !models.IsValidCategory(req.Category) {
		return nil, NewValidationError("unknown account category %q", req.Category)
	}
	partnerName := strings.TrimSpace(req.PartnerName)
	hasPartnerID := req.PartnerID != nil && *req.PartnerID != ""
	if hasPartnerID && partnerName != "" {
		return nil, NewValidationError("partnerId and partnerName are mutually exclusive")
	}
	hasCounterparty := hasPartnerID || partnerName != ""

	receiverID := req.ReceiverID
	switch caller.Role {
	case models.RoleAdmin:
		if receiverID == "" {
			return nil, NewValidationError("receiverId is required for administrator entries")
		}
	case models.RoleSupervisor:
		// Supervisors always book on their own account.
		if receiverID != "" && receiverID != caller.ID {
			return nil, NewPermissionError("supervisors may only record transactions on their own account")
		}
		receiverID = caller.ID
		if req.Kind == models.KindOpeningBalance || req.Kind == models.KindClosingBalance {
			return nil, NewPermissionError("only administrators may set opening and closing balances")
		}
	default:
		return nil, NewPermissionError("role %s may not record transactions", caller.Role)
	}

	dbTx, err := ts.db.Begin()
	if err != nil {
		return nil, NewOrchestrationError("BEGIN", err)
	}
	defer dbTx.Rollback()

	account, err := ts.accounts.GetOrCreateTx(dbTx, receiverID, req.Category)
	if err != nil {
		return nil, err
	}

	switch req.Kind {
	case models.KindOpeningBalance:
		err = ts.accounts.AdjustBaselineTx(dbTx, account, req.Amount)
	case models.KindClosingBalance:
		err = ts.accounts.ReplaceCurrentTx(dbTx, account, req.Amount)
	case models.KindDeposit:
		err = ts.accounts.AdjustCurrentTx(dbTx, account, req.Amount)
	case models.KindWithdrawal:
		err = ts.accounts.AdjustCurrentTx(dbTx, account, withdrawalEffect(hasCounterparty, req.Amount))
	}
	if err != nil {
		return nil, err
	}

	now := time.Now()
	txn := &models.Transaction{
		ID:          uuid.New().String(),
		Reference:   uuid.New().String(),
		Amount:      req.Amount,
		Kind:        req.Kind,
		Description: req.Description,
		SenderID:    caller.ID,
		ReceiverID:  receiverID,
		PartnerID:   req.PartnerID,
		PartnerName: partnerName,
		AccountID:   &account.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := ts.insertTx(dbTx, txn); err != nil {
		return nil, NewOrchestrationError("INSERT", err)
	}

	if err := dbTx.Commit(); err != nil {
		return nil, NewOrchestrationError("COMMIT", err)
	}

	log.Printf("[TRANSACTION] %s recorded %s %s of %d on account %s", caller.ID, txn.Kind, txn.Reference, txn.Amount, account.ID)
	return txn, nil
}

// UpdateTransaction corrects the amount or description of a mutable record.
// The balance delta lands on the current balance only; baselines are history
// and stay untouched. An audit record preserves the original figures.
// @Summary Update a transaction
// @Tags transactions
// @Accept json
// @Produce json
// @Param id path string true "Transaction ID"
// @Param transaction body updateTransactionRequest true "New values"
// @Success 200 {object} models.Transaction
// @Failure 403 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /transactions/{id} [put]
func (ts *TransactionService) UpdateTransaction(w http.ResponseWriter, r *http.Request) {
	caller, err := ts.currentUser(r)
	if err != nil {
		SendServiceError(w, err)
		return
	}

	var req updateTransactionRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := ts.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	txnID := chi.URLParam(r, "id")
	txn, err := ts.update(caller, txnID, &req)
	if err != nil {
		log.Printf("[TRANSACTION] Update of %s by %s failed: %v", txnID, caller.ID, err)
		SendServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, txn)
}

func (ts *TransactionService) update(caller *models.User, txnID string, req *updateTransactionRequest) (*models.Transaction, error) {
	dbTx, err := ts.db.Begin()
	if err != nil {
		return nil, NewOrchestrationError("BEGIN", err)
	}
	defer dbTx.Rollback()

	txn, err := ts.lockTransaction(dbTx, txnID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if err := ts.permissions.CanModify(caller, txn, now); err != nil {
		return nil, err
	}

	delta := req.Amount - txn.Amount
	if delta != 0 {
		account, err := ts.lockedAccountFor(dbTx, txn)
		if err != nil {
			return nil, err
		}
		effect := delta
		if txn.Kind == models.KindWithdrawal {
			effect = withdrawalEffect(txn.HasCounterparty(), delta)
		}
		if err := ts.accounts.AdjustCurrentTx(dbTx, account, effect); err != nil {
			return nil, err
		}
	}

	previousAmount := txn.Amount
	txn.Amount = req.Amount
	if req.Description != nil {
		txn.Description = *req.Description
	}
	txn.UpdatedAt = now

	_, err = dbTx.Exec(`
		UPDATE transactions SET amount = $1, description = $2, updated_at = $3 WHERE id = $4
	`, txn.Amount, txn.Description, txn.UpdatedAt, txn.ID)
	if err != nil {
		return nil, NewOrchestrationError("UPDATE", err)
	}

	audit := &models.Transaction{
		ID:          uuid.New().String(),
		Reference:   uuid.New().String(),
		Amount:      req.Amount,
		Kind:        models.KindAuditModification,
		Description: "Correction of " + txn.Reference,
		SenderID:    caller.ID,
		ReceiverID:  txn.ReceiverID,
		AccountID:   txn.AccountID,
		Metadata: models.Metadata{
			"original_reference": txn.Reference,
			"previous_amount":    previousAmount,
			"new_amount":         req.Amount,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := ts.insertTx(dbTx, audit); err != nil {
		return nil, NewOrchestrationError("AUDIT", err)
	}

	if err := dbTx.Commit(); err != nil {
		return nil, NewOrchestrationError("COMMIT", err)
	}

	log.Printf("[TRANSACTION] %s corrected %s: %d -> %d", caller.ID, txn.Reference, previousAmount, req.Amount)
	return txn, nil
}

// DeleteTransaction soft-deletes a record, reversing its balance effect. The
// row stays in place as a tombstone so history and audits keep their shape.
// @Summary Delete a transaction
// @Tags transactions
// @Produce json
// @Param id path string true "Transaction ID"
// @Success 200 {object} map[string]string
// @Failure 403 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /transactions/{id} [delete]
func (ts *TransactionService) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	caller, err := ts.currentUser(r)
	if err != nil {
		SendServiceError(w, err)
		return
	}

	txnID := chi.URLParam(r, "id")
	if err := ts.softDelete(caller, txnID); err != nil {
		log.Printf("[TRANSACTION] Delete of %s by %s failed: %v", txnID, caller.ID, err)
		SendServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": txnID})
}

func (ts *TransactionService) softDelete(caller *models.User, txnID string) error {
	dbTx, err := ts.db.Begin()
	if err != nil {
		return NewOrchestrationError("BEGIN", err)
	}
	defer dbTx.Rollback()

	txn, err := ts.lockTransaction(dbTx, txnID)
	if err != nil {
		return err
	}

	now := time.Now()
	if err := ts.permissions.CanDelete(caller, txn, now); err != nil {
		return err
	}

	// Reverse the balance effect before tombstoning.
	account, err := ts.lockedAccountFor(dbTx, txn)
	if err != nil {
		return err
	}
	switch txn.Kind {
	case models.KindDeposit:
		err = ts.accounts.AdjustCurrentTx(dbTx, account, -txn.Amount)
	case models.KindWithdrawal:
		err = ts.accounts.AdjustCurrentTx(dbTx, account, -withdrawalEffect(txn.HasCounterparty(), txn.Amount))
	case models.KindOpeningBalance:
		err = ts.accounts.AdjustBaselineTx(dbTx, account, -txn.Amount)
	case models.KindClosingBalance:
		// A closing balance replaced the current value outright; removing it
		// cannot restore what it overwrote, so the balance is left as is.
	}
	if err != nil {
		return err
	}

	if txn.Metadata == nil {
		txn.Metadata = models.Metadata{}
	}
	txn.Metadata["deleted"] = true
	txn.Metadata["deleted_by"] = caller.ID

	_, err = dbTx.Exec(`
		UPDATE transactions SET deleted_at = $1, metadata = $2, updated_at = $1 WHERE id = $3
	`, now, txn.Metadata, txn.ID)
	if err != nil {
		return NewOrchestrationError("DELETE", err)
	}

	audit := &models.Transaction{
		ID:          uuid.New().String(),
		Reference:   uuid.New().String(),
		Amount:      txn.Amount,
		Kind:        models.KindAuditDeletion,
		Description: "Deletion of " + txn.Reference,
		SenderID:    caller.ID,
		ReceiverID:  txn.ReceiverID,
		AccountID:   txn.AccountID,
		Metadata: models.Metadata{
			"original_reference": txn.Reference,
			"original_kind":      string(txn.Kind),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := ts.insertTx(dbTx, audit); err != nil {
		return NewOrchestrationError("AUDIT", err)
	}

	if err := dbTx.Commit(); err != nil {
		return NewOrchestrationError("COMMIT", err)
	}

	log.Printf("[TRANSACTION] %s deleted %s (%s of %d)", caller.ID, txn.Reference, txn.Kind, txn.Amount)
	return nil
}

// ListTransactions returns the caller's transactions for a period. Deleted
// rows are filtered out, archived rows only appear with includeArchived=true.
// @Summary List transactions
// @Tags transactions
// @Produce json
// @Param period query string false "today|yesterday|week|month|year|all|custom"
// @Param date query string false "Calendar day for period=custom (YYYY-MM-DD)"
// @Param includeArchived query bool false "Include archived rows"
// @Success 200 {object} object{transactions=[]models.Transaction,count=int}
// @Router /transactions [get]
func (ts *TransactionService) ListTransactions(w http.ResponseWriter, r *http.Request) {
	caller, err := ts.currentUser(r)
	if err != nil {
		SendServiceError(w, err)
		return
	}

	window, err := ts.windowFromQuery(r)
	if err != nil {
		SendServiceError(w, err)
		return
	}

	includeArchived := r.URL.Query().Get("includeArchived") == "true"

	userID := caller.ID
	if caller.Role == models.RoleAdmin {
		if q := r.URL.Query().Get("userId"); q != "" {
			userID = q
		}
	}

	transactions, err := ts.fetchForUser(userID, window, includeArchived)
	if err != nil {
		log.Printf("[TRANSACTION] List for %s failed: %v", userID, err)
		SendServiceError(w, NewOrchestrationError("LIST", err))
		return
	}

	transactions = FilterDeleted(transactions)
	WriteJSON(w, http.StatusOK, map[string]any{
		"transactions": transactions,
		"count":        len(transactions),
	})
}

// GetTransaction returns one transaction by ID.
// @Summary Get transaction by ID
// @Tags transactions
// @Produce json
// @Param id path string true "Transaction ID"
// @Success 200 {object} models.Transaction
// @Failure 404 {object} map[string]string
// @Router /transactions/{id} [get]
func (ts *TransactionService) GetTransaction(w http.ResponseWriter, r *http.Request) {
	caller, err := ts.currentUser(r)
	if err != nil {
		SendServiceError(w, err)
		return
	}

	txn, err := ts.fetchTransaction(chi.URLParam(r, "id"))
	if err != nil {
		SendServiceError(w, err)
		return
	}
	if txn.DeletedAt != nil {
		SendServiceError(w, NewNotFoundError("transaction not found"))
		return
	}
	if caller.Role != models.RoleAdmin && txn.SenderID != caller.ID && txn.ReceiverID != caller.ID {
		SendServiceError(w, NewPermissionError("transaction belongs to another account"))
		return
	}

	WriteJSON(w, http.StatusOK, txn)
}

func (ts *TransactionService) windowFromQuery(r *http.Request) (Window, error) {
	period := r.URL.Query().Get("period")
	var customDate *time.Time
	if d := r.URL.Query().Get("date"); d != "" {
		parsed, err := time.ParseInLocation("2006-01-02", d, ts.reset.Location)
		if err != nil {
			return Window{}, NewValidationError("invalid date %q, expected YYYY-MM-DD", d)
		}
		customDate = &parsed
		if period == "" {
			period = PeriodCustom
		}
	}
	return ResolveWindow(period, time.Now(), ts.reset, customDate)
}

func (ts *TransactionService) currentUser(r *http.Request) (*models.User, error) {
	userID, ok := r.Context().Value(middleware.UserIDKey).(string)
	if !ok || userID == "" {
		return nil, NewPermissionError("authentication required")
	}
	return ts.loadUser(userID)
}

func (ts *TransactionService) loadUser(userID string) (*models.User, error) {
	u := &models.User{}
	err := ts.db.QueryRow(`
		SELECT id, full_name, phone, role, status FROM users WHERE id = $1
	`, userID).Scan(&u.ID, &u.FullName, &u.Phone, &u.Role, &u.Status)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, NewNotFoundError("user %s not found", userID)
		}
		return nil, NewOrchestrationError("USER_LOOKUP", err)
	}
	if u.Status != models.StatusActive {
		return nil, NewPermissionError("account is inactive")
	}
	return u, nil
}

func (ts *TransactionService) lockedAccountFor(dbTx *sql.Tx, txn *models.Transaction) (*models.Account, error) {
	if txn.AccountID == nil {
		return nil, NewConsistencyError("transaction %s has no account attached", txn.Reference)
	}
	account := &models.Account{}
	err := dbTx.QueryRow(`
		SELECT id, user_id, category, current_balance, baseline, previous_baseline, version
		FROM accounts WHERE id = $1 FOR UPDATE
	`, *txn.AccountID).Scan(
		&account.ID, &account.UserID, &account.Category,
		&account.CurrentBalance, &account.Baseline, &account.PreviousBaseline, &account.Version,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, NewConsistencyError("account %s for transaction %s no longer exists", *txn.AccountID, txn.Reference)
		}
		return nil, NewOrchestrationError("ACCOUNT_LOCK", err)
	}
	return account, nil
}

func (ts *TransactionService) lockTransaction(dbTx *sql.Tx, txnID string) (*models.Transaction, error) {
	row := dbTx.QueryRow(`
		SELECT `+transactionColumns+`
		FROM transactions WHERE id = $1 FOR UPDATE
	`, txnID)
	txn, err := scanTransactionRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, NewNotFoundError("transaction %s not found", txnID)
		}
		return nil, NewOrchestrationError("LOCK", err)
	}
	return txn, nil
}

func (ts *TransactionService) fetchTransaction(txnID string) (*models.Transaction, error) {
	row := ts.db.QueryRow(`
		SELECT `+transactionColumns+`
		FROM transactions WHERE id = $1
	`, txnID)
	txn, err := scanTransactionRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, NewNotFoundError("transaction %s not found", txnID)
		}
		return nil, NewOrchestrationError("FETCH", err)
	}
	return txn, nil
}

func (ts *TransactionService) fetchForUser(userID string, window Window, includeArchived bool) ([]models.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE (sender_id = $1 OR receiver_id = $1)
	`
	args := []any{userID}

	if !includeArchived {
		query += " AND archived = false"
	}
	if !window.Unbounded {
		query += " AND created_at >= $2 AND created_at <= $3"
		args = append(args, window.Start, window.End)
	}
	query += " ORDER BY created_at DESC"

	rows, err := ts.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTransactions(rows)
}

func (ts *TransactionService) insertTx(dbTx *sql.Tx, txn *models.Transaction) error {
	_, err := dbTx.Exec(`
		INSERT INTO transactions
		(id, reference, amount, kind, description, sender_id, receiver_id,
		 partner_id, partner_name, account_id, archived, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, false, $11, $12, $13)
	`, txn.ID, txn.Reference, txn.Amount, txn.Kind, txn.Description,
		txn.SenderID, txn.ReceiverID, txn.PartnerID, txn.PartnerName,
		txn.AccountID, txn.Metadata, txn.CreatedAt, txn.UpdatedAt)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransactionRow(row rowScanner) (*models.Transaction, error) {
	txn := &models.Transaction{}
	err := row.Scan(
		&txn.ID, &txn.Reference, &txn.Amount, &txn.Kind, &txn.Description,
		&txn.SenderID, &txn.ReceiverID, &txn.PartnerID, &txn.PartnerName,
		&txn.AccountID, &txn.Archived, &txn.ArchivedAt, &txn.DeletedAt,
		&txn.Metadata, &txn.CreatedAt, &txn.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return txn, nil
}

func scanTransactions(rows *sql.Rows) ([]models.Transaction, error) {
	transactions := []models.Transaction{}
	for rows.Next() {
		txn, err := scanTransactionRow(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, *txn)
	}
	return transactions, rows.Err()
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}
	return true
}
