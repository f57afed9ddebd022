package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tahwil/tahwil-ledger/internal/models"
	pkgerrors "github.com/tahwil/tahwil-ledger/pkg/errors"
)

type PostgresRateRepository struct {
	db *sql.DB
}

func NewPostgresRateRepository(db *sql.DB) *PostgresRateRepository {
	return &PostgresRateRepository{db: db}
}

func (r *PostgresRateRepository) GetSystemRate(ctx context.Context, transferType, currency string) (models.Rate, error) {
	var rate models.Rate
	var value sql.NullString
	query := `SELECT kind, value::text FROM system_commission_rates WHERE transfer_type = $1 AND currency = $2`
	err := r.db.QueryRowContext(ctx, query, transferType, currency).Scan(&rate.Kind, &value)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Rate{}, pkgerrors.ErrRateNotFound
	}
	if err != nil {
		return models.Rate{}, fmt.Errorf("%w: failed to get system rate: %v", pkgerrors.ErrPersistence, err)
	}
	rate.Value = scanDecimal(value)
	return rate, nil
}

func (r *PostgresRateRepository) ListOfficeTiers(ctx context.Context, officeID int32, currency string) ([]models.OfficeCommissionTier, error) {
	query := `
		SELECT id, office_id, currency, min_amount::text, max_amount::text,
			COALESCE(origin_city_id, 0), COALESCE(destination_city_id, 0), kind, value::text
		FROM office_commission_tiers
		WHERE office_id = $1 AND currency = $2
		ORDER BY min_amount
	`
	rows, err := r.db.QueryContext(ctx, query, officeID, currency)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list office tiers: %v", pkgerrors.ErrPersistence, err)
	}
	defer rows.Close()

	var tiers []models.OfficeCommissionTier
	for rows.Next() {
		var t models.OfficeCommissionTier
		var minAmount, maxAmount, value sql.NullString
		if err := rows.Scan(&t.ID, &t.OfficeID, &t.Currency, &minAmount, &maxAmount,
			&t.OriginCityID, &t.DestinationCityID, &t.Kind, &value); err != nil {
			return nil, fmt.Errorf("%w: failed to scan office tier: %v", pkgerrors.ErrPersistence, err)
		}
		t.MinAmount = scanDecimal(minAmount)
		t.MaxAmount = scanDecimal(maxAmount)
		t.Value = scanDecimal(value)
		tiers = append(tiers, t)
	}
	return tiers, rows.Err()
}
