package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/tahwil/tahwil-ledger/internal/models"
	pkgerrors "github.com/tahwil/tahwil-ledger/pkg/errors"
)

type PostgresTransferRepository struct {
	db *sql.DB
}

func NewPostgresTransferRepository(db *sql.DB) *PostgresTransferRepository {
	return &PostgresTransferRepository{db: db}
}

func (r *PostgresTransferRepository) CreateInternal(ctx context.Context, tx *sql.Tx, t *models.InternalTransfer) (int32, error) {
	if t == nil {
		return 0, pkgerrors.ErrNilTransfer
	}
	query := `
		INSERT INTO internal_transfers (sender_id, receiver_id, currency, amount, commission, note, reference_number)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`
	err := tx.QueryRowContext(ctx, query,
		t.SenderID, t.ReceiverID, t.Currency,
		t.Amount.String(), t.Commission.String(), t.Note, t.ReferenceNumber,
	).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, pkgerrors.ErrDuplicateReference
		}
		return 0, fmt.Errorf("%w: failed to create internal transfer: %v", pkgerrors.ErrPersistence, err)
	}
	return t.ID, nil
}

func (r *PostgresTransferRepository) CreateCity(ctx context.Context, tx *sql.Tx, t *models.CityTransfer) (int32, error) {
	if t == nil {
		return 0, pkgerrors.ErrNilTransfer
	}
	query := `
		INSERT INTO city_transfers (sender_office_id, destination_office_id, origin_city_id, destination_city_id,
			currency, amount, commission, code, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`
	err := tx.QueryRowContext(ctx, query,
		t.SenderOfficeID, t.DestinationOfficeID, t.OriginCityID, t.DestinationCityID,
		t.Currency, t.Amount.String(), t.Commission.String(), t.Code, t.Status,
	).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, pkgerrors.ErrDuplicateReference
		}
		return 0, fmt.Errorf("%w: failed to create city transfer: %v", pkgerrors.ErrPersistence, err)
	}
	return t.ID, nil
}

const cityTransferColumns = `id, sender_office_id, destination_office_id, origin_city_id, destination_city_id,
	currency, amount::text, commission::text, code, status, created_at, completed_at`

func scanCityTransfer(row *sql.Row) (*models.CityTransfer, error) {
	var t models.CityTransfer
	var amount, commission sql.NullString
	var completedAt sql.NullTime
	err := row.Scan(&t.ID, &t.SenderOfficeID, &t.DestinationOfficeID, &t.OriginCityID, &t.DestinationCityID,
		&t.Currency, &amount, &commission, &t.Code, &t.Status, &t.CreatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	t.Amount = scanDecimal(amount)
	t.Commission = scanDecimal(commission)
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	return &t, nil
}

func (r *PostgresTransferRepository) GetCityByCode(ctx context.Context, code string) (*models.CityTransfer, error) {
	query := fmt.Sprintf(`SELECT %s FROM city_transfers WHERE code = $1`, cityTransferColumns)
	t, err := scanCityTransfer(r.db.QueryRowContext(ctx, query, code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrTransferNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get city transfer: %v", pkgerrors.ErrPersistence, err)
	}
	return t, nil
}

func (r *PostgresTransferRepository) GetCityByCodeForUpdate(ctx context.Context, tx *sql.Tx, code string) (*models.CityTransfer, error) {
	query := fmt.Sprintf(`SELECT %s FROM city_transfers WHERE code = $1 FOR UPDATE`, cityTransferColumns)
	t, err := scanCityTransfer(tx.QueryRowContext(ctx, query, code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrTransferNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to lock city transfer: %v", pkgerrors.ErrPersistence, err)
	}
	return t, nil
}

func (r *PostgresTransferRepository) MarkCityCompleted(ctx context.Context, tx *sql.Tx, id int32, completedAt time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE city_transfers SET status = $1, completed_at = $2 WHERE id = $3 AND status = $4`,
		models.TransferCompleted, completedAt, id, models.TransferPending)
	if err != nil {
		return fmt.Errorf("%w: failed to complete city transfer: %v", pkgerrors.ErrPersistence, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return pkgerrors.NewInvalidState(string(models.TransferPending), "unknown")
	}
	return nil
}

func (r *PostgresTransferRepository) CreateInternational(ctx context.Context, tx *sql.Tx, t *models.InternationalTransfer) (int32, error) {
	if t == nil {
		return 0, pkgerrors.ErrNilTransfer
	}
	query := `
		INSERT INTO international_transfers (sender_id, receiver_office_id, currency, amount_original,
			commission_system, commission_recipient, amount_pending, transfer_code, receiver_code_hash, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at
	`
	err := tx.QueryRowContext(ctx, query,
		t.SenderID, t.ReceiverOfficeID, t.Currency, t.AmountOriginal.String(),
		t.CommissionSystem.String(), t.CommissionRecipient.String(), t.AmountPending.String(),
		t.TransferCode, t.ReceiverCodeHash, t.Status,
	).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, pkgerrors.ErrDuplicateReference
		}
		return 0, fmt.Errorf("%w: failed to create international transfer: %v", pkgerrors.ErrPersistence, err)
	}
	return t.ID, nil
}

const internationalTransferColumns = `id, sender_id, receiver_office_id, currency, amount_original::text,
	commission_system::text, commission_recipient::text, amount_pending::text, transfer_code,
	receiver_code_hash, status, created_at, completed_at`

func scanInternationalTransfer(row *sql.Row) (*models.InternationalTransfer, error) {
	var t models.InternationalTransfer
	var original, commSystem, commRecipient, pending sql.NullString
	var completedAt sql.NullTime
	err := row.Scan(&t.ID, &t.SenderID, &t.ReceiverOfficeID, &t.Currency, &original,
		&commSystem, &commRecipient, &pending, &t.TransferCode,
		&t.ReceiverCodeHash, &t.Status, &t.CreatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	t.AmountOriginal = scanDecimal(original)
	t.CommissionSystem = scanDecimal(commSystem)
	t.CommissionRecipient = scanDecimal(commRecipient)
	t.AmountPending = scanDecimal(pending)
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	return &t, nil
}

func (r *PostgresTransferRepository) GetInternationalByCode(ctx context.Context, code string) (*models.InternationalTransfer, error) {
	query := fmt.Sprintf(`SELECT %s FROM international_transfers WHERE transfer_code = $1`, internationalTransferColumns)
	t, err := scanInternationalTransfer(r.db.QueryRowContext(ctx, query, code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrTransferNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get international transfer: %v", pkgerrors.ErrPersistence, err)
	}
	return t, nil
}

func (r *PostgresTransferRepository) GetInternationalByCodeForUpdate(ctx context.Context, tx *sql.Tx, code string) (*models.InternationalTransfer, error) {
	query := fmt.Sprintf(`SELECT %s FROM international_transfers WHERE transfer_code = $1 FOR UPDATE`, internationalTransferColumns)
	t, err := scanInternationalTransfer(tx.QueryRowContext(ctx, query, code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrTransferNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to lock international transfer: %v", pkgerrors.ErrPersistence, err)
	}
	return t, nil
}

func (r *PostgresTransferRepository) SetInternationalStatus(ctx context.Context, tx *sql.Tx, id int32, status models.TransferStatus, completedAt *time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE international_transfers SET status = $1, completed_at = $2 WHERE id = $3 AND status = $4`,
		status, completedAt, id, models.TransferPending)
	if err != nil {
		return fmt.Errorf("%w: failed to update international transfer status: %v", pkgerrors.ErrPersistence, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return pkgerrors.NewInvalidState(string(models.TransferPending), "unknown")
	}
	return nil
}

func (r *PostgresTransferRepository) TransferCodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	query := `
		SELECT EXISTS (SELECT 1 FROM international_transfers WHERE transfer_code = $1)
		OR EXISTS (SELECT 1 FROM city_transfers WHERE code = $1)
	`
	if err := r.db.QueryRowContext(ctx, query, code).Scan(&exists); err != nil {
		return false, fmt.Errorf("%w: failed to check transfer code: %v", pkgerrors.ErrPersistence, err)
	}
	return exists, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
