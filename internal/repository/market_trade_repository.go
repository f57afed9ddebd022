package repository

import (
	"context"

	"github.com/tahwil/tahwil-ledger/internal/models"
)

type MarketTradeRepository interface {
	Create(ctx context.Context, t *models.MarketTrade) (int32, error)
}
