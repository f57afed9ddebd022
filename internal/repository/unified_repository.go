package repository

import (
	"context"

	"github.com/tahwil/tahwil-ledger/internal/models"
)

type UnifiedRepository interface {
	// Feed unions all transaction-like sources into one page sorted by
	// creation time descending, plus the total count over the same filter.
	Feed(ctx context.Context, f models.UnifiedFilter) ([]models.UnifiedRow, int64, error)
}
