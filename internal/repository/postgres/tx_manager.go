package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
)

type TxManager struct {
	db *sql.DB
}

func NewTxManager(db *sql.DB) *TxManager {
	return &TxManager{db: db}
}

// WithinTx begins a transaction, runs fn, and commits. Any error from fn or
// from commit rolls the whole unit back so a settlement is never half
// applied.
func (m *TxManager) WithinTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.Error("rollback failed", "error", rbErr, "cause", err)
			return fmt.Errorf("rollback failed: %v; original error: %w", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// scanDecimal parses a numeric column scanned as text. Invalid stored values
// are coerced to zero rather than propagated; callers must not rely on this
// coercion, it only keeps a corrupt row from poisoning arithmetic.
func scanDecimal(raw sql.NullString) decimal.Decimal {
	if !raw.Valid {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(raw.String)
	if err != nil {
		slog.Warn("non-numeric amount in storage, coerced to zero", "raw", raw.String)
		return decimal.Zero
	}
	return d
}
