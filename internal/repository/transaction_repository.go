package repository

import (
	"context"
	"database/sql"

	"github.com/tahwil/tahwil-ledger/internal/models"
)

type TransactionRepository interface {
	Create(ctx context.Context, tx *sql.Tx, t *models.Transaction) (int32, error)
	ListByUser(ctx context.Context, userID int32, limit int) ([]models.Transaction, error)
}
