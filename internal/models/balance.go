package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Balance is a per-user, per-currency amount. Rows are created lazily on
// first credit and never deleted; the stored amount is never negative after
// a committed operation.
type Balance struct {
	UserID    int32           `json:"user_id"`
	Currency  string          `json:"currency"`
	Amount    decimal.Decimal `json:"amount"`
	UpdatedAt time.Time       `json:"updated_at"`
}
