package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/tahwil/tahwil-ledger/internal/models"
	repository "github.com/tahwil/tahwil-ledger/internal/repository/postgres"
	"github.com/stretchr/testify/assert"
)

var unifiedTestColumns = []string{"source", "id", "ref_no", "type", "status", "created_at",
	"amount", "currency", "description", "user_name", "user_account_number"}

func TestPostgresUnifiedRepository_Feed(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresUnifiedRepository(db)
	ctx := context.Background()

	t.Run("MergesSourcesNewestFirst", func(t *testing.T) {
		now := time.Now()
		mock.ExpectQuery(`ORDER BY u.created_at DESC`).
			WithArgs(50, 0).
			WillReturnRows(sqlmock.NewRows(unifiedTestColumns).
				AddRow("admin", int32(3), "TRF-3", "international_transfer", "PENDING", now, "50", "USD", "", "Amina", "AC-001").
				AddRow("internal_out", int32(2), "ref-2", "transfer_out", "completed", now.Add(-time.Minute), "-20", "USD", "rent", "Omar", "AC-002").
				AddRow("market", int32(1), "", "trade_buy", "completed", now.Add(-time.Hour), "5", "USDT", "BTC/USDT", "", ""))
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM`).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(3)))

		feed, count, err := repo.Feed(ctx, models.UnifiedFilter{})
		assert.NoError(t, err)
		assert.Equal(t, int64(3), count)
		assert.Len(t, feed, 3)
		assert.Equal(t, "admin", feed[0].Source)
		assert.True(t, feed[1].Amount.Equal(decimal.NewFromInt(-20)))
		assert.Equal(t, "trade_buy", feed[2].Type)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("SearchSharedByPageAndCount", func(t *testing.T) {
		mock.ExpectQuery(`ORDER BY u.created_at DESC`).
			WithArgs("%TRF%", 10, 0).
			WillReturnRows(sqlmock.NewRows(unifiedTestColumns))
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM`).
			WithArgs("%TRF%").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(0)))

		feed, count, err := repo.Feed(ctx, models.UnifiedFilter{Search: "TRF", Limit: 10})
		assert.NoError(t, err)
		assert.Empty(t, feed)
		assert.Zero(t, count)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestBuildUnifiedFilterWindow(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresUnifiedRepository(db)

	from := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`WHERE u.created_at >= \$1 AND u.created_at <= \$2`).
		WithArgs(from, to, 50, 0).
		WillReturnRows(sqlmock.NewRows(unifiedTestColumns))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM`).
		WithArgs(from, to).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(0)))

	_, _, err = repo.Feed(context.Background(), models.UnifiedFilter{From: from, To: to})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
