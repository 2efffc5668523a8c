package services

import (
	"time"

	"github.com/sayfoulaye/backend/internal/models"
)

const (
	// AdminModificationLimit bounds how far back an admin may correct records.
	AdminModificationLimit = 7 * 24 * time.Hour
	// SupervisorModificationLimit bounds supervisors to the current business day.
	SupervisorModificationLimit = 24 * time.Hour
)

// PermissionService decides who may correct or remove a transaction. Decisions
// are pure functions of the caller, the record and the clock so they can be
// evaluated identically at the HTTP boundary and inside the services.
type PermissionService struct{}

func NewPermissionService() *PermissionService {
	return &PermissionService{}
}

// CanModify returns nil when user may edit the transaction, or a permission
// error naming the first rule that blocks it.
func (s *PermissionService) CanModify(user *models.User, t *models.Transaction, now time.Time) error {
	return s.authorize(user, t, now, "modify")
}

// CanDelete returns nil when user may soft-delete the transaction. Deletion
// follows the same rules as modification; a record too old to edit is also
// too old to remove.
func (s *PermissionService) CanDelete(user *models.User, t *models.Transaction, now time.Time) error {
	return s.authorize(user, t, now, "delete")
}

func (s *PermissionService) authorize(user *models.User, t *models.Transaction, now time.Time, verb string) error {
	if user == nil {
		return NewPermissionError("authentication required to %s a transaction", verb)
	}
	if t == nil {
		return NewNotFoundError("transaction not found")
	}
	if t.DeletedAt != nil {
		return NewNotFoundError("transaction %s no longer exists", t.Reference)
	}
	if t.Archived {
		return NewPermissionError("transaction %s is archived and can no longer be changed", t.Reference)
	}
	if !t.Kind.IsMutable() {
		return NewPermissionError("%s records are part of the audit trail and cannot be changed", t.Kind)
	}

	age := t.Age(now)

	switch user.Role {
	case models.RoleAdmin:
		if age > AdminModificationLimit {
			return NewPermissionError("transaction %s is older than 7 days, corrections are closed", t.Reference)
		}
		return nil

	case models.RoleSupervisor:
		if t.ReceiverID != user.ID {
			return NewPermissionError("supervisors may only %s transactions on their own account", verb)
		}
		if t.Kind != models.KindDeposit && t.Kind != models.KindWithdrawal {
			return NewPermissionError("supervisors may only %s deposits and withdrawals", verb)
		}
		if age > SupervisorModificationLimit {
			return NewPermissionError("transaction %s is older than a day, ask an administrator", t.Reference)
		}
		if decision := OwnershipWindow(t, now); decision.Blocked {
			return NewPermissionError("%s", decision.Reason)
		}
		return nil

	default:
		return NewPermissionError("role %s may not %s transactions", user.Role, verb)
	}
}
