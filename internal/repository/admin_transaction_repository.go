package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/tahwil/tahwil-ledger/internal/models"
)

type AdminTransactionRepository interface {
	Create(ctx context.Context, tx *sql.Tx, t *models.AdminTransaction) (int32, error)
	SetStatus(ctx context.Context, tx *sql.Tx, id int32, status models.AdminTxnStatus) error
	SetStatusByRefNo(ctx context.Context, tx *sql.Tx, refNo string, status models.AdminTxnStatus) error
	GetByID(ctx context.Context, id int32) (*models.AdminTransaction, error)
	// List returns the filtered page, the per-status summary over the whole
	// filtered set, and the total row count for pagination.
	List(ctx context.Context, f models.AdminTxnFilter) ([]models.AdminTransaction, models.AdminTxnSummary, int64, error)
	// Update mutates status, notes and flags only.
	Update(ctx context.Context, id int32, upd models.AdminTxnUpdate) (*models.AdminTransaction, error)
	FindDuplicates(ctx context.Context, window time.Duration) ([]models.DuplicateGroup, error)
	Stats(ctx context.Context, since time.Time) ([]models.StatRow, error)
}
