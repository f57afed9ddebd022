package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/tahwil/tahwil-ledger/internal/models"
)

type TransferRepository interface {
	CreateInternal(ctx context.Context, tx *sql.Tx, t *models.InternalTransfer) (int32, error)

	CreateCity(ctx context.Context, tx *sql.Tx, t *models.CityTransfer) (int32, error)
	GetCityByCode(ctx context.Context, code string) (*models.CityTransfer, error)
	// GetCityByCodeForUpdate locks the transfer row for the remainder of tx.
	GetCityByCodeForUpdate(ctx context.Context, tx *sql.Tx, code string) (*models.CityTransfer, error)
	MarkCityCompleted(ctx context.Context, tx *sql.Tx, id int32, completedAt time.Time) error

	CreateInternational(ctx context.Context, tx *sql.Tx, t *models.InternationalTransfer) (int32, error)
	GetInternationalByCode(ctx context.Context, code string) (*models.InternationalTransfer, error)
	GetInternationalByCodeForUpdate(ctx context.Context, tx *sql.Tx, code string) (*models.InternationalTransfer, error)
	SetInternationalStatus(ctx context.Context, tx *sql.Tx, id int32, status models.TransferStatus, completedAt *time.Time) error

	// TransferCodeExists checks both active transfer tables for a code.
	TransferCodeExists(ctx context.Context, code string) (bool, error)
}
