package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tahwil/tahwil-ledger/internal/infrastructure/observability"
	pkgerrors "github.com/tahwil/tahwil-ledger/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type PostgresBalanceRepository struct {
	db *sql.DB
}

func NewPostgresBalanceRepository(db *sql.DB) *PostgresBalanceRepository {
	return &PostgresBalanceRepository{db: db}
}

func (r *PostgresBalanceRepository) GetBalance(ctx context.Context, userID int32, currency string) (decimal.Decimal, bool, error) {
	var err error
	tracer := otel.Tracer("balance-repository")
	ctx, span := tracer.Start(ctx, "GetBalance")
	span.SetAttributes(attribute.Int("user_id", int(userID)), attribute.String("currency", currency))
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("GetBalance", status).Inc()
		observability.RepositoryDuration.WithLabelValues("GetBalance").Observe(time.Since(start).Seconds())
	}()

	var raw sql.NullString
	query := `SELECT amount::text FROM balances WHERE user_id = $1 AND currency = $2`
	err = r.db.QueryRowContext(ctx, query, userID, currency).Scan(&raw)
	if stderrors.Is(err, sql.ErrNoRows) {
		err = nil
		return decimal.Zero, false, nil
	}
	if err != nil {
		slog.Error("failed to get balance", "method", "GetBalance", "user_id", userID, "currency", currency, "error", err)
		return decimal.Zero, false, fmt.Errorf("%w: failed to get balance: %v", pkgerrors.ErrPersistence, err)
	}

	return scanDecimal(raw), true, nil
}

func (r *PostgresBalanceRepository) SetBalance(ctx context.Context, userID int32, currency string, amount decimal.Decimal) error {
	var err error
	tracer := otel.Tracer("balance-repository")
	ctx, span := tracer.Start(ctx, "SetBalance")
	span.SetAttributes(attribute.Int("user_id", int(userID)), attribute.String("currency", currency))
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("SetBalance", status).Inc()
		observability.RepositoryDuration.WithLabelValues("SetBalance").Observe(time.Since(start).Seconds())
	}()

	if amount.IsNegative() {
		err = pkgerrors.ErrInvalidAmount
		return err
	}

	query := `
		INSERT INTO balances (user_id, currency, amount, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id, currency)
		DO UPDATE SET amount = EXCLUDED.amount, updated_at = NOW()
	`
	if _, err = r.db.ExecContext(ctx, query, userID, currency, amount.String()); err != nil {
		slog.Error("failed to set balance", "method", "SetBalance", "user_id", userID, "currency", currency, "error", err)
		return fmt.Errorf("%w: failed to set balance: %v", pkgerrors.ErrPersistence, err)
	}
	return nil
}

// AdjustBalance applies delta inside the caller's transaction. The guarded
// UPDATE takes the row lock, so concurrent debits from the same sender
// serialize on the balance row and the non-negative invariant holds without
// any in-process locking.
func (r *PostgresBalanceRepository) AdjustBalance(ctx context.Context, tx *sql.Tx, userID int32, currency string, delta decimal.Decimal) (decimal.Decimal, error) {
	var err error
	tracer := otel.Tracer("balance-repository")
	ctx, span := tracer.Start(ctx, "AdjustBalance")
	span.SetAttributes(attribute.Int("user_id", int(userID)), attribute.String("currency", currency), attribute.String("delta", delta.String()))
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("AdjustBalance", status).Inc()
		observability.RepositoryDuration.WithLabelValues("AdjustBalance").Observe(time.Since(start).Seconds())
	}()

	if tx == nil {
		err = fmt.Errorf("AdjustBalance requires an open transaction")
		return decimal.Zero, err
	}

	query := `
		UPDATE balances
		SET amount = amount + $1, updated_at = NOW()
		WHERE user_id = $2 AND currency = $3
		AND (amount + $1) >= 0
		RETURNING amount::text
	`
	var raw sql.NullString
	err = tx.QueryRowContext(ctx, query, delta.String(), userID, currency).Scan(&raw)
	if stderrors.Is(err, sql.ErrNoRows) {
		if delta.IsNegative() {
			// Either no balance row or the guard rejected the debit; both
			// mean the sender cannot cover it.
			err = pkgerrors.ErrInsufficientFunds
			return decimal.Zero, err
		}
		// Credits create the balance row lazily.
		upsert := `
			INSERT INTO balances (user_id, currency, amount, updated_at)
			VALUES ($1, $2, $3, NOW())
			ON CONFLICT (user_id, currency)
			DO UPDATE SET amount = balances.amount + EXCLUDED.amount, updated_at = NOW()
			RETURNING amount::text
		`
		err = tx.QueryRowContext(ctx, upsert, userID, currency, delta.String()).Scan(&raw)
		if err != nil {
			slog.Error("failed to create balance row", "method", "AdjustBalance", "user_id", userID, "currency", currency, "error", err)
			return decimal.Zero, fmt.Errorf("%w: failed to create balance row: %v", pkgerrors.ErrPersistence, err)
		}
		return scanDecimal(raw), nil
	}
	if err != nil {
		slog.Error("failed to adjust balance", "method", "AdjustBalance", "user_id", userID, "currency", currency, "error", err)
		return decimal.Zero, fmt.Errorf("%w: failed to adjust balance: %v", pkgerrors.ErrPersistence, err)
	}

	return scanDecimal(raw), nil
}
