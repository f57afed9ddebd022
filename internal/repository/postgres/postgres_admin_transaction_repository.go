package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/tahwil/tahwil-ledger/internal/models"
	pkgerrors "github.com/tahwil/tahwil-ledger/pkg/errors"
)

type PostgresAdminTransactionRepository struct {
	db *sql.DB
}

func NewPostgresAdminTransactionRepository(db *sql.DB) *PostgresAdminTransactionRepository {
	return &PostgresAdminTransactionRepository{db: db}
}

const adminTxnColumns = `id, ref_no, type, status, amount::text, currency, net_amount::text,
	fee_system::text, fee_recipient::text, channel, created_by, COALESCE(approved_by, 0),
	kyc_level, risk_score, flags, COALESCE(notes, ''), COALESCE(parent_txn_id, 0), created_at, updated_at`

func scanAdminTxn(scan func(dest ...any) error) (*models.AdminTransaction, error) {
	var t models.AdminTransaction
	var amount, netAmount, feeSystem, feeRecipient sql.NullString
	err := scan(&t.ID, &t.RefNo, &t.Type, &t.Status, &amount, &t.Currency, &netAmount,
		&feeSystem, &feeRecipient, &t.Channel, &t.CreatedBy, &t.ApprovedBy,
		&t.KYCLevel, &t.RiskScore, pq.Array(&t.Flags), &t.Notes, &t.ParentTxnID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Amount = scanDecimal(amount)
	t.NetAmount = scanDecimal(netAmount)
	t.FeeSystem = scanDecimal(feeSystem)
	t.FeeRecipient = scanDecimal(feeRecipient)
	return &t, nil
}

func (r *PostgresAdminTransactionRepository) Create(ctx context.Context, tx *sql.Tx, t *models.AdminTransaction) (int32, error) {
	if t == nil {
		return 0, fmt.Errorf("admin transaction is nil")
	}
	query := `
		INSERT INTO admin_transactions (ref_no, type, status, amount, currency, net_amount,
			fee_system, fee_recipient, channel, created_by, kyc_level, risk_score, flags, notes, parent_txn_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NULLIF($15, 0))
		RETURNING id, created_at, updated_at
	`
	err := tx.QueryRowContext(ctx, query,
		t.RefNo, t.Type, t.Status, t.Amount.String(), t.Currency, t.NetAmount.String(),
		t.FeeSystem.String(), t.FeeRecipient.String(), t.Channel, t.CreatedBy,
		t.KYCLevel, t.RiskScore, pq.Array(t.Flags), t.Notes, t.ParentTxnID,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, pkgerrors.ErrDuplicateReference
		}
		return 0, fmt.Errorf("%w: failed to create admin transaction: %v", pkgerrors.ErrPersistence, err)
	}
	return t.ID, nil
}

func (r *PostgresAdminTransactionRepository) SetStatus(ctx context.Context, tx *sql.Tx, id int32, status models.AdminTxnStatus) error {
	res, err := tx.ExecContext(ctx, `UPDATE admin_transactions SET status = $1, updated_at = NOW() WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("%w: failed to set admin transaction status: %v", pkgerrors.ErrPersistence, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return pkgerrors.ErrTransactionNotFound
	}
	return nil
}

func (r *PostgresAdminTransactionRepository) SetStatusByRefNo(ctx context.Context, tx *sql.Tx, refNo string, status models.AdminTxnStatus) error {
	res, err := tx.ExecContext(ctx, `UPDATE admin_transactions SET status = $1, updated_at = NOW() WHERE ref_no = $2`, status, refNo)
	if err != nil {
		return fmt.Errorf("%w: failed to set admin transaction status: %v", pkgerrors.ErrPersistence, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return pkgerrors.ErrTransactionNotFound
	}
	return nil
}

func (r *PostgresAdminTransactionRepository) GetByID(ctx context.Context, id int32) (*models.AdminTransaction, error) {
	query := fmt.Sprintf(`SELECT %s FROM admin_transactions WHERE id = $1`, adminTxnColumns)
	row := r.db.QueryRowContext(ctx, query, id)
	t, err := scanAdminTxn(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get admin transaction: %v", pkgerrors.ErrPersistence, err)
	}
	return t, nil
}

// buildAdminFilter renders the WHERE clause shared by the page query, the
// count query and the summary query, so all three always see the same set.
func buildAdminFilter(f models.AdminTxnFilter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if !f.From.IsZero() {
		add("created_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("created_at <= $%d", f.To)
	}
	if f.Type != "" {
		add("type = $%d", f.Type)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.Currency != "" {
		add("currency = $%d", f.Currency)
	}
	if f.CreatedBy != 0 {
		add("created_by = $%d", f.CreatedBy)
	}
	if !f.AmountMin.IsZero() {
		add("amount >= $%d", f.AmountMin.String())
	}
	if !f.AmountMax.IsZero() {
		add("amount <= $%d", f.AmountMax.String())
	}
	if f.RefNo != "" {
		add("ref_no = $%d", f.RefNo)
	}
	if f.Channel != "" {
		add("channel = $%d", f.Channel)
	}
	if f.KYCLevel != 0 {
		add("kyc_level = $%d", f.KYCLevel)
	}
	if f.RiskScoreMin != 0 {
		add("risk_score >= $%d", f.RiskScoreMin)
	}
	if f.RiskScoreMax != 0 {
		add("risk_score <= $%d", f.RiskScoreMax)
	}
	if f.Flag != "" {
		add("$%d = ANY(flags)", f.Flag)
	}
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf("(ref_no ILIKE $%d OR COALESCE(notes, '') ILIKE $%d)", n, n))
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *PostgresAdminTransactionRepository) List(ctx context.Context, f models.AdminTxnFilter) ([]models.AdminTransaction, models.AdminTxnSummary, int64, error) {
	where, args := buildAdminFilter(f)

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	pageArgs := append(append([]any{}, args...), limit, f.Offset)
	query := fmt.Sprintf(`SELECT %s FROM admin_transactions%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		adminTxnColumns, where, len(args)+1, len(args)+2)

	rows, err := r.db.QueryContext(ctx, query, pageArgs...)
	if err != nil {
		return nil, models.AdminTxnSummary{}, 0, fmt.Errorf("%w: failed to list admin transactions: %v", pkgerrors.ErrPersistence, err)
	}
	defer rows.Close()

	var transactions []models.AdminTransaction
	for rows.Next() {
		t, err := scanAdminTxn(rows.Scan)
		if err != nil {
			return nil, models.AdminTxnSummary{}, 0, fmt.Errorf("%w: failed to scan admin transaction: %v", pkgerrors.ErrPersistence, err)
		}
		transactions = append(transactions, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, models.AdminTxnSummary{}, 0, fmt.Errorf("%w: failed to iterate admin transactions: %v", pkgerrors.ErrPersistence, err)
	}

	var count int64
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM admin_transactions%s`, where)
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&count); err != nil {
		return nil, models.AdminTxnSummary{}, 0, fmt.Errorf("%w: failed to count admin transactions: %v", pkgerrors.ErrPersistence, err)
	}

	summary := models.AdminTxnSummary{Count: count, Totals: make(map[string]decimal.Decimal)}
	summaryQuery := fmt.Sprintf(`SELECT status, COALESCE(SUM(amount), 0)::text FROM admin_transactions%s GROUP BY status`, where)
	summaryRows, err := r.db.QueryContext(ctx, summaryQuery, args...)
	if err != nil {
		return nil, models.AdminTxnSummary{}, 0, fmt.Errorf("%w: failed to summarize admin transactions: %v", pkgerrors.ErrPersistence, err)
	}
	defer summaryRows.Close()
	for summaryRows.Next() {
		var status string
		var total sql.NullString
		if err := summaryRows.Scan(&status, &total); err != nil {
			return nil, models.AdminTxnSummary{}, 0, fmt.Errorf("%w: failed to scan summary: %v", pkgerrors.ErrPersistence, err)
		}
		summary.Totals[status] = scanDecimal(total)
	}

	return transactions, summary, count, summaryRows.Err()
}

func (r *PostgresAdminTransactionRepository) Update(ctx context.Context, id int32, upd models.AdminTxnUpdate) (*models.AdminTransaction, error) {
	query := fmt.Sprintf(`
		UPDATE admin_transactions
		SET status = COALESCE($1, status),
			notes = COALESCE($2, notes),
			flags = COALESCE($3, flags),
			updated_at = NOW()
		WHERE id = $4
		RETURNING %s`, adminTxnColumns)

	var status *string
	if upd.Status != nil {
		s := string(*upd.Status)
		status = &s
	}
	var flags any
	if upd.Flags != nil {
		flags = pq.Array(upd.Flags)
	}

	row := r.db.QueryRowContext(ctx, query, status, upd.Notes, flags, id)
	t, err := scanAdminTxn(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to update admin transaction: %v", pkgerrors.ErrPersistence, err)
	}
	return t, nil
}

func (r *PostgresAdminTransactionRepository) FindDuplicates(ctx context.Context, window time.Duration) ([]models.DuplicateGroup, error) {
	query := `
		SELECT amount::text, currency, created_by, COUNT(*), MIN(created_at), MAX(created_at)
		FROM admin_transactions
		WHERE created_at >= NOW() - $1 * INTERVAL '1 second'
		GROUP BY amount, currency, created_by
		HAVING COUNT(*) > 1
		ORDER BY COUNT(*) DESC
	`
	rows, err := r.db.QueryContext(ctx, query, int64(window.Seconds()))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to find duplicates: %v", pkgerrors.ErrPersistence, err)
	}
	defer rows.Close()

	var groups []models.DuplicateGroup
	for rows.Next() {
		var g models.DuplicateGroup
		var amount sql.NullString
		if err := rows.Scan(&amount, &g.Currency, &g.CreatedBy, &g.Count, &g.FirstSeen, &g.LastSeen); err != nil {
			return nil, fmt.Errorf("%w: failed to scan duplicate group: %v", pkgerrors.ErrPersistence, err)
		}
		g.Amount = scanDecimal(amount)
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func (r *PostgresAdminTransactionRepository) Stats(ctx context.Context, since time.Time) ([]models.StatRow, error) {
	query := `
		SELECT status, type, COUNT(*), COALESCE(SUM(amount), 0)::text
		FROM admin_transactions
		WHERE created_at >= $1
		GROUP BY status, type
		ORDER BY status, type
	`
	rows, err := r.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to compute stats: %v", pkgerrors.ErrPersistence, err)
	}
	defer rows.Close()

	var stats []models.StatRow
	for rows.Next() {
		var s models.StatRow
		var total sql.NullString
		if err := rows.Scan(&s.Status, &s.Type, &s.Count, &total); err != nil {
			return nil, fmt.Errorf("%w: failed to scan stat row: %v", pkgerrors.ErrPersistence, err)
		}
		s.Total = scanDecimal(total)
		stats = append(stats, s)
	}
	return stats, rows.Err()
}
