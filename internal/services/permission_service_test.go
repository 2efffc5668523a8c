package services

import (
	"testing"
	"time"

	"github.com/sayfoulaye/backend/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestPermissionService_CanModify(t *testing.T) {
	svc := NewPermissionService()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	admin := &models.User{ID: "admin1", Role: models.RoleAdmin, Status: models.StatusActive}
	supervisor := &models.User{ID: "sup1", Role: models.RoleSupervisor, Status: models.StatusActive}
	partner := &models.User{ID: "part1", Role: models.RolePartner, Status: models.StatusActive}

	deposit := func(age time.Duration, receiverID string) *models.Transaction {
		return &models.Transaction{
			ID:         "t1",
			Reference:  "ref-1",
			Kind:       models.KindDeposit,
			ReceiverID: receiverID,
			CreatedAt:  now.Add(-age),
		}
	}

	t.Run("admin edits any mutable record within seven days", func(t *testing.T) {
		assert.NoError(t, svc.CanModify(admin, deposit(6*24*time.Hour, "sup1"), now))
	})

	t.Run("admin blocked past seven days", func(t *testing.T) {
		err := svc.CanModify(admin, deposit(8*24*time.Hour, "sup1"), now)
		assert.True(t, IsKind(err, KindPermission))
	})

	t.Run("audit records are immutable for everyone", func(t *testing.T) {
		audit := &models.Transaction{Kind: models.KindAuditModification, ReceiverID: "sup1", CreatedAt: now.Add(-time.Hour)}
		assert.True(t, IsKind(svc.CanModify(admin, audit, now), KindPermission))
	})

	t.Run("archived records are frozen", func(t *testing.T) {
		txn := deposit(2*time.Hour, "sup1")
		txn.Archived = true
		assert.True(t, IsKind(svc.CanModify(admin, txn, now), KindPermission))
	})

	t.Run("deleted records read as not found", func(t *testing.T) {
		txn := deposit(2*time.Hour, "sup1")
		deleted := now.Add(-time.Hour)
		txn.DeletedAt = &deleted
		assert.True(t, IsKind(svc.CanModify(admin, txn, now), KindNotFound))
	})

	t.Run("supervisor edits own deposit inside the window", func(t *testing.T) {
		assert.NoError(t, svc.CanModify(supervisor, deposit(10*time.Minute, "sup1"), now))
	})

	t.Run("supervisor blocked on other holders' records", func(t *testing.T) {
		err := svc.CanModify(supervisor, deposit(10*time.Minute, "sup2"), now)
		assert.True(t, IsKind(err, KindPermission))
	})

	t.Run("supervisor blocked on opening balances", func(t *testing.T) {
		txn := deposit(10*time.Minute, "sup1")
		txn.Kind = models.KindOpeningBalance
		err := svc.CanModify(supervisor, txn, now)
		assert.True(t, IsKind(err, KindPermission))
	})

	t.Run("supervisor blocked when the correction window has closed", func(t *testing.T) {
		err := svc.CanModify(supervisor, deposit(45*time.Minute, "sup1"), now)
		assert.True(t, IsKind(err, KindPermission))
		assert.Contains(t, err.Error(), "30 minutes")
	})

	t.Run("supervisor blocked on records younger than a minute", func(t *testing.T) {
		err := svc.CanModify(supervisor, deposit(20*time.Second, "sup1"), now)
		assert.True(t, IsKind(err, KindPermission))
	})

	t.Run("supervisor blocked past one day regardless of window", func(t *testing.T) {
		err := svc.CanModify(supervisor, deposit(25*time.Hour, "sup1"), now)
		assert.True(t, IsKind(err, KindPermission))
	})

	t.Run("partner never edits", func(t *testing.T) {
		err := svc.CanModify(partner, deposit(10*time.Minute, "part1"), now)
		assert.True(t, IsKind(err, KindPermission))
	})

	t.Run("nil user requires authentication", func(t *testing.T) {
		err := svc.CanModify(nil, deposit(10*time.Minute, "sup1"), now)
		assert.True(t, IsKind(err, KindPermission))
	})
}

func TestPermissionService_CanDelete(t *testing.T) {
	svc := NewPermissionService()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	supervisor := &models.User{ID: "sup1", Role: models.RoleSupervisor, Status: models.StatusActive}

	txn := &models.Transaction{
		ID:         "t1",
		Reference:  "ref-1",
		Kind:       models.KindWithdrawal,
		ReceiverID: "sup1",
		CreatedAt:  now.Add(-5 * time.Minute),
	}

	assert.NoError(t, svc.CanDelete(supervisor, txn, now))

	txn.CreatedAt = now.Add(-2 * time.Hour)
	assert.True(t, IsKind(svc.CanDelete(supervisor, txn, now), KindPermission))
}

func TestOwnershipWindow(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name    string
		age     time.Duration
		blocked bool
	}{
		{"too fresh", 30 * time.Second, true},
		{"just open", 1 * time.Minute, false},
		{"mid window", 15 * time.Minute, false},
		{"just closed", 31 * time.Minute, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			txn := &models.Transaction{CreatedAt: now.Add(-tc.age)}
			decision := OwnershipWindow(txn, now)
			assert.Equal(t, tc.blocked, decision.Blocked)
			if tc.blocked {
				assert.NotEmpty(t, decision.Reason)
			}
		})
	}
}
