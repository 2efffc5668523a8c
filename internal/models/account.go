package models

import "time"

// Account categories. UV_MASTER is the shared float account and cannot be
// deleted from a dashboard.
const (
	CategoryCash        = "CASH"
	CategoryOrangeMoney = "ORANGE_MONEY"
	CategoryWave        = "WAVE"
	CategoryUVMaster    = "UV_MASTER"
)

// ValidCategories lists every account category accepted on transaction creation.
var ValidCategories = []string{CategoryCash, CategoryOrangeMoney, CategoryWave, CategoryUVMaster}

// IsValidCategory reports whether category names a known account category.
func IsValidCategory(category string) bool {
	for _, c := range ValidCategories {
		if c == category {
			return true
		}
	}
	return false
}

// Account holds one supervisor's position for one category. All amounts are
// integer minor units.
//
// PreviousBaseline is written exclusively by the daily rollover; every
// user-facing mutation is confined to CurrentBalance and Baseline. That is the
// historical-integrity guarantee the snapshot fallback depends on.
type Account struct {
	ID               string    `json:"id" db:"id"`
	UserID           string    `json:"user_id" db:"user_id"`
	Category         string    `json:"category" db:"category"`
	CurrentBalance   int64     `json:"current_balance" db:"current_balance"`
	Baseline         int64     `json:"baseline" db:"baseline"`
	PreviousBaseline int64     `json:"previous_baseline" db:"previous_baseline"`
	Version          int       `json:"version" db:"version"` // optimistic locking
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}
