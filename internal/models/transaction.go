package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// TransactionKind is the closed set of transaction kinds. Rollover, archival
// and permission logic switch exhaustively on these values; unknown strings
// are rejected at the validation boundary.
type TransactionKind string

const (
	KindOpeningBalance    TransactionKind = "OPENING_BALANCE"
	KindClosingBalance    TransactionKind = "CLOSING_BALANCE"
	KindDeposit           TransactionKind = "DEPOSIT"
	KindWithdrawal        TransactionKind = "WITHDRAWAL"
	KindAuditModification TransactionKind = "AUDIT_MODIFICATION"
	KindAuditDeletion     TransactionKind = "AUDIT_DELETION"
)

// MutableKinds are the kinds a correction may target at all. Audit records are
// immutable by construction.
var MutableKinds = []TransactionKind{KindOpeningBalance, KindClosingBalance, KindDeposit, KindWithdrawal}

// CounterpartyKinds are the kinds the daily archival pass closes out.
var CounterpartyKinds = []TransactionKind{KindDeposit, KindWithdrawal}

// IsValidKind reports whether k is a member of the closed kind set.
func IsValidKind(k TransactionKind) bool {
	switch k {
	case KindOpeningBalance, KindClosingBalance, KindDeposit, KindWithdrawal,
		KindAuditModification, KindAuditDeletion:
		return true
	}
	return false
}

// IsMutable reports whether k may be the target of a correction.
func (k TransactionKind) IsMutable() bool {
	for _, m := range MutableKinds {
		if k == m {
			return true
		}
	}
	return false
}

// Transaction is an immutable movement record. Deletion is a logical
// tombstone (DeletedAt), never a physical delete; Archived is monotonic
// false -> true.
type Transaction struct {
	ID          string          `json:"id" db:"id"`
	Reference   string          `json:"reference" db:"reference"`
	Amount      int64           `json:"amount" db:"amount"` // minor units
	Kind        TransactionKind `json:"kind" db:"kind"`
	Description string          `json:"description" db:"description"`
	SenderID    string          `json:"sender_id" db:"sender_id"`
	ReceiverID  string          `json:"receiver_id" db:"receiver_id"`
	// PartnerID references a registered partner; PartnerName carries a
	// free-text counterparty. The two are mutually exclusive.
	PartnerID   *string    `json:"partner_id,omitempty" db:"partner_id"`
	PartnerName string     `json:"partner_name,omitempty" db:"partner_name"`
	AccountID   *string    `json:"account_id,omitempty" db:"account_id"`
	Archived    bool       `json:"archived" db:"archived"`
	ArchivedAt  *time.Time `json:"archived_at,omitempty" db:"archived_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
	Metadata    Metadata   `json:"metadata,omitempty" db:"metadata"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
}

// HasCounterparty reports whether the transaction references a partner, either
// registered or free-text.
func (t *Transaction) HasCounterparty() bool {
	return (t.PartnerID != nil && *t.PartnerID != "") || t.PartnerName != ""
}

// Age returns the transaction age at now.
func (t *Transaction) Age(now time.Time) time.Duration {
	return now.Sub(t.CreatedAt)
}

// Metadata is the free-form JSONB audit blob.
type Metadata map[string]any

// Value implements driver.Valuer for Metadata
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner for Metadata
func (m *Metadata) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}

	b, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}

	return json.Unmarshal(b, m)
}
