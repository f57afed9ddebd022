package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/tahwil/tahwil-ledger/internal/infrastructure/observability"
	"github.com/tahwil/tahwil-ledger/internal/models"
	pkgerrors "github.com/tahwil/tahwil-ledger/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// PostgresTransactionRepository writes the legacy per-user activity log.
// Newer settlement paths also record an admin transaction; both tables feed
// the unified audit feed.
type PostgresTransactionRepository struct {
	db *sql.DB
}

func NewPostgresTransactionRepository(db *sql.DB) *PostgresTransactionRepository {
	return &PostgresTransactionRepository{db: db}
}

func (r *PostgresTransactionRepository) Create(ctx context.Context, tx *sql.Tx, t *models.Transaction) (int32, error) {
	var err error
	tracer := otel.Tracer("transaction-repository")
	ctx, span := tracer.Start(ctx, "CreateTransaction")
	defer span.End()

	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RepositoryCalls.WithLabelValues("CreateTransaction", status).Inc()
		observability.RepositoryDuration.WithLabelValues("CreateTransaction").Observe(time.Since(start).Seconds())
	}()

	if t == nil {
		err = fmt.Errorf("transaction is nil")
		return 0, err
	}
	if t.Amount.IsZero() {
		err = pkgerrors.ErrInvalidAmount
		slog.Error("zero-amount transaction rejected", "method", "Create", "user_id", t.UserID, "error", err)
		return 0, err
	}

	span.SetAttributes(
		attribute.Int("user_id", int(t.UserID)),
		attribute.String("type", string(t.Type)),
		attribute.String("amount", t.Amount.String()),
		attribute.String("currency", t.Currency),
	)

	query := `
		INSERT INTO transactions (user_id, type, amount, currency, description, reference_number)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`
	err = tx.QueryRowContext(ctx, query, t.UserID, t.Type, t.Amount.String(), t.Currency, t.Description, t.ReferenceNumber).
		Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		slog.Error("failed to create transaction", "method", "Create", "user_id", t.UserID, "type", t.Type, "error", err)
		return 0, fmt.Errorf("%w: failed to create transaction: %v", pkgerrors.ErrPersistence, err)
	}

	slog.Info("transaction created", "method", "Create", "id", t.ID, "user_id", t.UserID, "type", t.Type)
	return t.ID, nil
}

func (r *PostgresTransactionRepository) ListByUser(ctx context.Context, userID int32, limit int) ([]models.Transaction, error) {
	query := `
		SELECT id, user_id, type, amount::text, currency, description, reference_number, created_at
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list transactions: %v", pkgerrors.ErrPersistence, err)
	}
	defer rows.Close()

	var transactions []models.Transaction
	for rows.Next() {
		var t models.Transaction
		var amount sql.NullString
		if err := rows.Scan(&t.ID, &t.UserID, &t.Type, &amount, &t.Currency, &t.Description, &t.ReferenceNumber, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: failed to scan transaction: %v", pkgerrors.ErrPersistence, err)
		}
		t.Amount = scanDecimal(amount)
		transactions = append(transactions, t)
	}
	return transactions, rows.Err()
}
