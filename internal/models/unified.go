package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// UnifiedRow is the common projection every transaction-like source is
// mapped into by the audit feed. Fields a source cannot provide are
// coalesced to safe defaults in the query, never left NULL.
type UnifiedRow struct {
	Source            string          `json:"source"`
	ID                int32           `json:"id"`
	RefNo             string          `json:"ref_no"`
	Type              string          `json:"type"`
	Status            string          `json:"status"`
	CreatedAt         time.Time       `json:"created_at"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	Description       string          `json:"description"`
	UserName          string          `json:"user_name"`
	UserAccountNumber string          `json:"user_account_number"`
}

// UnifiedFilter narrows the audit feed. Zero values mean "no filter".
type UnifiedFilter struct {
	From   time.Time
	To     time.Time
	Search string
	Limit  int
	Offset int
}
