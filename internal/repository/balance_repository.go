package repository

import (
	"context"
	"database/sql"

	"github.com/shopspring/decimal"
)

type BalanceRepository interface {
	// GetBalance returns the stored amount and whether a row exists.
	GetBalance(ctx context.Context, userID int32, currency string) (decimal.Decimal, bool, error)
	// SetBalance upserts the (userID, currency) row in a single round trip.
	SetBalance(ctx context.Context, userID int32, currency string, amount decimal.Decimal) error
	// AdjustBalance applies a delta inside the caller's transaction, locking
	// the balance row. It must only be called from within the settlement
	// engine's transaction boundary.
	AdjustBalance(ctx context.Context, tx *sql.Tx, userID int32, currency string, delta decimal.Decimal) (decimal.Decimal, error)
}
