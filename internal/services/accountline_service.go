package services

import (
	"database/sql"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sayfoulaye/backend/internal/models"
)

// AccountLineService clears and removes individual dashboard lines. The
// UV_MASTER line is the float that funds every other category and is never
// clearable; previous_baseline is rollover history and is never touched here.
type AccountLineService struct {
	db           *sql.DB
	accounts     *AccountService
	transactions *TransactionService
	validator    *ValidationHelper
}

func NewAccountLineService(db *sql.DB, accounts *AccountService, transactions *TransactionService) *AccountLineService {
	return &AccountLineService{
		db:           db,
		accounts:     accounts,
		transactions: transactions,
		validator:    NewValidationHelper(),
	}
}

type resetLineRequest struct {
	UserID   string `json:"userId,omitempty"`
	Category string `json:"category" validate:"required"`
	Field    string `json:"field" validate:"required,oneof=debut sortie"`
}

// ResetLine zeroes the debut (baseline) or sortie (current) figure of one
// category line and leaves an audit record carrying the cleared value.
// @Summary Reset a dashboard line
// @Tags accounts
// @Accept json
// @Produce json
// @Param line body resetLineRequest true "Line to reset"
// @Success 200 {object} map[string]string
// @Failure 403 {object} map[string]string
// @Router /accounts/lines/reset [put]
func (ls *AccountLineService) ResetLine(w http.ResponseWriter, r *http.Request) {
	caller, err := ls.transactions.currentUser(r)
	if err != nil {
		SendServiceError(w, err)
		return
	}

	var req resetLineRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := ls.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if err := ls.resetLine(caller, &req); err != nil {
		log.Printf("[ACCOUNT_LINE] Reset of %s/%s by %s failed: %v", req.Category, req.Field, caller.ID, err)
		SendServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{"status": "reset", "category": req.Category, "field": req.Field})
}

func (ls *AccountLineService) resetLine(caller *models.User, req *resetLineRequest) error {
	if !models.IsValidCategory(req.Category) {
		return NewValidationError("unknown account category %q", req.Category)
	}
	if req.Category == models.CategoryUVMaster {
		return NewPermissionError("the %s line cannot be reset", models.CategoryUVMaster)
	}

	userID, err := lineOwner(caller, req.UserID)
	if err != nil {
		return err
	}

	dbTx, err := ls.db.Begin()
	if err != nil {
		return NewOrchestrationError("BEGIN", err)
	}
	defer dbTx.Rollback()

	account, err := ls.accounts.GetOrCreateTx(dbTx, userID, req.Category)
	if err != nil {
		return err
	}

	var cleared int64
	switch req.Field {
	case "debut":
		cleared = account.Baseline
		err = ls.accounts.ReplaceBaselineTx(dbTx, account, 0)
	case "sortie":
		cleared = account.CurrentBalance
		err = ls.accounts.ReplaceCurrentTx(dbTx, account, 0)
	}
	if err != nil {
		return err
	}

	now := time.Now()
	audit := &models.Transaction{
		ID:          uuid.New().String(),
		Reference:   uuid.New().String(),
		Amount:      cleared,
		Kind:        models.KindAuditModification,
		Description: "Line reset: " + req.Category + "/" + req.Field,
		SenderID:    caller.ID,
		ReceiverID:  userID,
		AccountID:   &account.ID,
		Metadata: models.Metadata{
			"line_reset":    req.Field,
			"category":      req.Category,
			"cleared_value": cleared,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := ls.transactions.insertTx(dbTx, audit); err != nil {
		return NewOrchestrationError("AUDIT", err)
	}

	if err := dbTx.Commit(); err != nil {
		return NewOrchestrationError("COMMIT", err)
	}

	log.Printf("[ACCOUNT_LINE] %s reset %s/%s for %s (was %d)", caller.ID, req.Category, req.Field, userID, cleared)
	return nil
}

// DeletePartnerLine takes a counterparty line off the board by archiving and
// tombstoning its unarchived movements. Balances are left alone: the line is
// presentation, its movements already settled into the running figures.
// @Summary Remove a counterparty line
// @Tags accounts
// @Produce json
// @Param name path string true "Counterparty name"
// @Param userId query string false "Holder owning the line (administrators only)"
// @Success 200 {object} map[string]any
// @Failure 403 {object} map[string]string
// @Router /accounts/lines/partner/{name} [delete]
func (ls *AccountLineService) DeletePartnerLine(w http.ResponseWriter, r *http.Request) {
	caller, err := ls.transactions.currentUser(r)
	if err != nil {
		SendServiceError(w, err)
		return
	}

	name := chi.URLParam(r, "name")
	if name == "" {
		SendServiceError(w, NewValidationError("counterparty name is required"))
		return
	}

	userID, err := lineOwner(caller, r.URL.Query().Get("userId"))
	if err != nil {
		SendServiceError(w, err)
		return
	}

	removed, err := ls.deletePartnerLine(caller, userID, name)
	if err != nil {
		log.Printf("[ACCOUNT_LINE] Partner line %q removal by %s failed: %v", name, caller.ID, err)
		SendServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{"status": "deleted", "partner": name, "removed": removed})
}

func (ls *AccountLineService) deletePartnerLine(caller *models.User, userID, name string) (int64, error) {
	dbTx, err := ls.db.Begin()
	if err != nil {
		return 0, NewOrchestrationError("BEGIN", err)
	}
	defer dbTx.Rollback()

	now := time.Now()
	kinds := make([]string, len(models.CounterpartyKinds))
	for i, k := range models.CounterpartyKinds {
		kinds[i] = string(k)
	}

	result, err := dbTx.Exec(`
		UPDATE transactions
		SET archived = true, archived_at = $1, deleted_at = $1,
		    metadata = COALESCE(metadata, '{}'::jsonb) || jsonb_build_object('deleted', true, 'deleted_by', $2::text),
		    updated_at = $1
		WHERE receiver_id = $3
		  AND (partner_name = $4 OR partner_id = $4)
		  AND kind = ANY($5)
		  AND archived = false
		  AND deleted_at IS NULL
	`, now, caller.ID, userID, name, pq.Array(kinds))
	if err != nil {
		return 0, NewOrchestrationError("PARTNER_LINE", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, NewOrchestrationError("PARTNER_LINE", err)
	}
	if removed == 0 {
		return 0, NewNotFoundError("no open line for counterparty %q", name)
	}

	audit := &models.Transaction{
		ID:          uuid.New().String(),
		Reference:   uuid.New().String(),
		Kind:        models.KindAuditDeletion,
		Description: "Counterparty line removed: " + name,
		SenderID:    caller.ID,
		ReceiverID:  userID,
		PartnerName: name,
		Metadata: models.Metadata{
			"partner_line": name,
			"removed_rows": removed,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := ls.transactions.insertTx(dbTx, audit); err != nil {
		return 0, NewOrchestrationError("AUDIT", err)
	}

	if err := dbTx.Commit(); err != nil {
		return 0, NewOrchestrationError("COMMIT", err)
	}

	log.Printf("[ACCOUNT_LINE] %s removed counterparty line %q for %s (%d rows)", caller.ID, name, userID, removed)
	return removed, nil
}

// lineOwner resolves which holder's line is being edited. Administrators may
// name any holder; supervisors only edit their own board.
func lineOwner(caller *models.User, requestedID string) (string, error) {
	switch caller.Role {
	case models.RoleAdmin:
		if requestedID == "" {
			return "", NewValidationError("userId is required for administrator line edits")
		}
		return requestedID, nil
	case models.RoleSupervisor:
		if requestedID != "" && requestedID != caller.ID {
			return "", NewPermissionError("supervisors may only edit their own lines")
		}
		return caller.ID, nil
	default:
		return "", NewPermissionError("role %s may not edit dashboard lines", caller.Role)
	}
}
