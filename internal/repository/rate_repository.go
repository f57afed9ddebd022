package repository

import (
	"context"

	"github.com/tahwil/tahwil-ledger/internal/models"
)

type RateRepository interface {
	// GetSystemRate returns the system-wide rate for a transfer type and
	// currency, or pkg/errors.ErrRateNotFound.
	GetSystemRate(ctx context.Context, transferType, currency string) (models.Rate, error)
	ListOfficeTiers(ctx context.Context, officeID int32, currency string) ([]models.OfficeCommissionTier, error)
}
