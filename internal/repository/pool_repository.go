package repository

import (
	"context"
	"database/sql"

	"github.com/shopspring/decimal"
	"github.com/tahwil/tahwil-ledger/internal/models"
)

type PoolRepository interface {
	// Append writes one journal row. Rows are never updated or deleted.
	Append(ctx context.Context, tx *sql.Tx, entry *models.PoolTransaction) (int32, error)
	// Balance derives the pool balance for one currency by summation. When
	// tx is non-nil the sum is computed inside that transaction so a
	// withdrawal check cannot race a concurrent credit's visibility.
	Balance(ctx context.Context, tx *sql.Tx, currency string) (decimal.Decimal, error)
	// Balances derives all per-currency balances.
	Balances(ctx context.Context) (map[string]decimal.Decimal, error)
	ListByCurrency(ctx context.Context, currency string, limit int) ([]models.PoolTransaction, error)
}
