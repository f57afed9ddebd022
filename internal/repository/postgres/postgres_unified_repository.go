package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/tahwil/tahwil-ledger/internal/models"
	pkgerrors "github.com/tahwil/tahwil-ledger/pkg/errors"
)

// PostgresUnifiedRepository unions every transaction-like table into one
// audit feed. Strictly read-only; it runs at the default isolation level and
// tolerates a few seconds of snapshot staleness.
type PostgresUnifiedRepository struct {
	db *sql.DB
}

func NewPostgresUnifiedRepository(db *sql.DB) *PostgresUnifiedRepository {
	return &PostgresUnifiedRepository{db: db}
}

// unifiedUnion projects all six sources into the common shape. Internal
// transfers contribute two synthetic rows, one per side. Fields a source
// lacks are coalesced so the feed never surfaces NULLs.
const unifiedUnion = `
	SELECT 'admin' AS source, a.id, a.ref_no, a.type, a.status::text AS status, a.created_at,
		a.amount::text AS amount, a.currency, COALESCE(a.notes, '') AS description,
		COALESCE(u.name, '') AS user_name, COALESCE(u.account_number, '') AS user_account_number
	FROM admin_transactions a
	LEFT JOIN users u ON u.id = a.created_by
	UNION ALL
	SELECT 'legacy', t.id, t.reference_number, t.type::text, 'completed', t.created_at,
		t.amount::text, t.currency, COALESCE(t.description, ''),
		COALESCE(u.name, ''), COALESCE(u.account_number, '')
	FROM transactions t
	LEFT JOIN users u ON u.id = t.user_id
	UNION ALL
	SELECT 'internal_out', i.id, i.reference_number, 'transfer_out', 'completed', i.created_at,
		('-' || i.amount::text), i.currency, COALESCE(i.note, ''),
		COALESCE(u.name, ''), COALESCE(u.account_number, '')
	FROM internal_transfers i
	LEFT JOIN users u ON u.id = i.sender_id
	UNION ALL
	SELECT 'internal_in', i.id, i.reference_number, 'transfer_in', 'completed', i.created_at,
		i.amount::text, i.currency, COALESCE(i.note, ''),
		COALESCE(u.name, ''), COALESCE(u.account_number, '')
	FROM internal_transfers i
	LEFT JOIN users u ON u.id = i.receiver_id
	UNION ALL
	SELECT 'international', n.id, n.transfer_code, 'international', n.status::text, n.created_at,
		n.amount_original::text, n.currency, '',
		COALESCE(u.name, ''), COALESCE(u.account_number, '')
	FROM international_transfers n
	LEFT JOIN users u ON u.id = n.sender_id
	UNION ALL
	SELECT 'city', c.id, c.code, 'city', c.status::text, c.created_at,
		c.amount::text, c.currency, '', '', ''
	FROM city_transfers c
	UNION ALL
	SELECT 'market', m.id, '', ('trade_' || m.side), 'completed', m.created_at,
		m.amount::text, m.currency, m.pair, '', ''
	FROM market_trades m
`

func buildUnifiedFilter(f models.UnifiedFilter) (string, []any) {
	var conds []string
	var args []any

	if !f.From.IsZero() {
		args = append(args, f.From)
		conds = append(conds, fmt.Sprintf("u.created_at >= $%d", len(args)))
	}
	if !f.To.IsZero() {
		args = append(args, f.To)
		conds = append(conds, fmt.Sprintf("u.created_at <= $%d", len(args)))
	}
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf(
			"(u.ref_no ILIKE $%d OR u.description ILIKE $%d OR u.user_name ILIKE $%d OR u.user_account_number ILIKE $%d)",
			n, n, n, n))
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *PostgresUnifiedRepository) Feed(ctx context.Context, f models.UnifiedFilter) ([]models.UnifiedRow, int64, error) {
	where, args := buildUnifiedFilter(f)

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	pageArgs := append(append([]any{}, args...), limit, f.Offset)
	query := fmt.Sprintf(`
		SELECT u.source, u.id, u.ref_no, u.type, u.status, u.created_at, u.amount, u.currency,
			u.description, u.user_name, u.user_account_number
		FROM (%s) u%s
		ORDER BY u.created_at DESC
		LIMIT $%d OFFSET $%d`, unifiedUnion, where, len(args)+1, len(args)+2)

	rows, err := r.db.QueryContext(ctx, query, pageArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: failed to query unified feed: %v", pkgerrors.ErrPersistence, err)
	}
	defer rows.Close()

	var feed []models.UnifiedRow
	for rows.Next() {
		var row models.UnifiedRow
		var amount sql.NullString
		if err := rows.Scan(&row.Source, &row.ID, &row.RefNo, &row.Type, &row.Status, &row.CreatedAt,
			&amount, &row.Currency, &row.Description, &row.UserName, &row.UserAccountNumber); err != nil {
			return nil, 0, fmt.Errorf("%w: failed to scan unified row: %v", pkgerrors.ErrPersistence, err)
		}
		row.Amount = scanDecimal(amount)
		feed = append(feed, row)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("%w: failed to iterate unified feed: %v", pkgerrors.ErrPersistence, err)
	}

	// The count runs over the identical predicate so pagination and the
	// visible page can never disagree about the filtered set.
	var count int64
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM (%s) u%s`, unifiedUnion, where)
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&count); err != nil {
		return nil, 0, fmt.Errorf("%w: failed to count unified feed: %v", pkgerrors.ErrPersistence, err)
	}

	return feed, count, nil
}
