package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tahwil/tahwil-ledger/internal/infrastructure/observability"
	"github.com/tahwil/tahwil-ledger/internal/models"
	pkgerrors "github.com/tahwil/tahwil-ledger/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type PostgresPoolRepository struct {
	db *sql.DB
}

func NewPostgresPoolRepository(db *sql.DB) *PostgresPoolRepository {
	return &PostgresPoolRepository{db: db}
}

func (r *PostgresPoolRepository) Append(ctx context.Context, tx *sql.Tx, entry *models.PoolTransaction) (int32, error) {
	var err error
	tracer := otel.Tracer("pool-repository")
	ctx, span := tracer.Start(ctx, "AppendPoolTransaction")
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("AppendPoolTransaction", status).Inc()
		observability.RepositoryDuration.WithLabelValues("AppendPoolTransaction").Observe(time.Since(start).Seconds())
	}()

	if entry == nil {
		err = fmt.Errorf("pool entry is nil")
		return 0, err
	}
	if entry.Type != models.PoolCredit && entry.Type != models.PoolWithdrawal {
		err = fmt.Errorf("invalid pool entry type: %s", entry.Type)
		return 0, err
	}
	if !entry.Amount.IsPositive() {
		err = pkgerrors.ErrInvalidAmount
		return 0, err
	}

	span.SetAttributes(
		attribute.String("currency", entry.Currency),
		attribute.String("amount", entry.Amount.String()),
		attribute.String("type", string(entry.Type)),
	)

	query := `
		INSERT INTO commission_pool_transactions (source_type, source_id, currency, amount, type, related_transaction_id, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`
	err = tx.QueryRowContext(ctx, query,
		entry.SourceType, entry.SourceID, entry.Currency, entry.Amount.String(),
		entry.Type, entry.RelatedTransactionID, entry.Description,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		slog.Error("failed to append pool transaction", "method", "Append", "currency", entry.Currency, "type", entry.Type, "error", err)
		return 0, fmt.Errorf("%w: failed to append pool transaction: %v", pkgerrors.ErrPersistence, err)
	}

	slog.Info("pool transaction appended", "method", "Append", "id", entry.ID, "currency", entry.Currency, "amount", entry.Amount.String(), "type", entry.Type)
	return entry.ID, nil
}

const poolBalanceQuery = `
	SELECT COALESCE(SUM(
		CASE
			WHEN type = 'credit' THEN amount
			WHEN type = 'withdrawal' THEN -amount
			ELSE 0
		END
	), 0)::text AS balance
	FROM commission_pool_transactions
	WHERE currency = $1
`

// Balance recomputes the pool balance from the journal on every call. There
// is no cached counter to drift from the append-only log. Pass the open
// settlement transaction when the result gates a withdrawal.
func (r *PostgresPoolRepository) Balance(ctx context.Context, tx *sql.Tx, currency string) (decimal.Decimal, error) {
	var raw sql.NullString
	var err error
	if tx != nil {
		err = tx.QueryRowContext(ctx, poolBalanceQuery, currency).Scan(&raw)
	} else {
		err = r.db.QueryRowContext(ctx, poolBalanceQuery, currency).Scan(&raw)
	}
	if err != nil {
		slog.Error("failed to derive pool balance", "method", "Balance", "currency", currency, "error", err)
		return decimal.Zero, fmt.Errorf("%w: failed to derive pool balance: %v", pkgerrors.ErrPersistence, err)
	}
	return scanDecimal(raw), nil
}

func (r *PostgresPoolRepository) Balances(ctx context.Context) (map[string]decimal.Decimal, error) {
	query := `
		SELECT currency, COALESCE(SUM(
			CASE
				WHEN type = 'credit' THEN amount
				WHEN type = 'withdrawal' THEN -amount
				ELSE 0
			END
		), 0)::text
		FROM commission_pool_transactions
		GROUP BY currency
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to derive pool balances: %v", pkgerrors.ErrPersistence, err)
	}
	defer rows.Close()

	balances := make(map[string]decimal.Decimal)
	for rows.Next() {
		var currency string
		var raw sql.NullString
		if err := rows.Scan(&currency, &raw); err != nil {
			return nil, fmt.Errorf("%w: failed to scan pool balance: %v", pkgerrors.ErrPersistence, err)
		}
		balances[currency] = scanDecimal(raw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to iterate pool balances: %v", pkgerrors.ErrPersistence, err)
	}
	return balances, nil
}

func (r *PostgresPoolRepository) ListByCurrency(ctx context.Context, currency string, limit int) ([]models.PoolTransaction, error) {
	query := `
		SELECT id, source_type, source_id, currency, amount::text, type, related_transaction_id, description, created_at
		FROM commission_pool_transactions
		WHERE currency = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, currency, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list pool transactions: %v", pkgerrors.ErrPersistence, err)
	}
	defer rows.Close()

	var entries []models.PoolTransaction
	for rows.Next() {
		var e models.PoolTransaction
		var amount sql.NullString
		if err := rows.Scan(&e.ID, &e.SourceType, &e.SourceID, &e.Currency, &amount, &e.Type, &e.RelatedTransactionID, &e.Description, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: failed to scan pool transaction: %v", pkgerrors.ErrPersistence, err)
		}
		e.Amount = scanDecimal(amount)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
