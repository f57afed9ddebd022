package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tahwil/tahwil-ledger/internal/models"
	pkgerrors "github.com/tahwil/tahwil-ledger/pkg/errors"
)

type PostgresMarketTradeRepository struct {
	db *sql.DB
}

func NewPostgresMarketTradeRepository(db *sql.DB) *PostgresMarketTradeRepository {
	return &PostgresMarketTradeRepository{db: db}
}

func (r *PostgresMarketTradeRepository) Create(ctx context.Context, t *models.MarketTrade) (int32, error) {
	query := `
		INSERT INTO market_trades (user_id, pair, side, amount, currency, price, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	err := r.db.QueryRowContext(ctx, query, t.UserID, t.Pair, t.Side, t.Amount.String(), t.Currency, t.Price.String(), t.CreatedAt).
		Scan(&t.ID)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to create market trade: %v", pkgerrors.ErrPersistence, err)
	}
	return t.ID, nil
}
