package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/tahwil/tahwil-ledger/internal/infrastructure/redis"
	"github.com/tahwil/tahwil-ledger/internal/models"
	pkgerrors "github.com/tahwil/tahwil-ledger/pkg/errors"
)

// fakeTxManager hands real *sql.Tx values out of a sqlmock connection so the
// service code under test can pass them through unchanged. The fakes below
// ignore the tx entirely; rollback coverage for the SQL layer lives in the
// repository tests.
type fakeTxManager struct {
	mu   sync.Mutex
	db   *sql.DB
	mock sqlmock.Sqlmock
}

func newFakeTxManager(t *testing.T) *fakeTxManager {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &fakeTxManager{db: db, mock: mock}
}

func (m *fakeTxManager) WithinTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	// sqlmock expectations are ordered, so transactions are serialized here
	// the way the real store's row locks would serialize them.
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mock.ExpectBegin()
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		m.mock.ExpectRollback()
		tx.Rollback()
		return err
	}
	m.mock.ExpectCommit()
	return tx.Commit()
}

type fakeBalanceRepo struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
}

func newFakeBalanceRepo() *fakeBalanceRepo {
	return &fakeBalanceRepo{balances: make(map[string]decimal.Decimal)}
}

func balanceKey(userID int32, currency string) string {
	return fmt.Sprintf("%d:%s", userID, currency)
}

func (r *fakeBalanceRepo) set(userID int32, currency string, amount decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.balances[balanceKey(userID, currency)] = amount
}

func (r *fakeBalanceRepo) get(userID int32, currency string) decimal.Decimal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.balances[balanceKey(userID, currency)]
}

func (r *fakeBalanceRepo) GetBalance(_ context.Context, userID int32, currency string) (decimal.Decimal, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	balance, ok := r.balances[balanceKey(userID, currency)]
	return balance, ok, nil
}

func (r *fakeBalanceRepo) SetBalance(_ context.Context, userID int32, currency string, amount decimal.Decimal) error {
	r.set(userID, currency, amount)
	return nil
}

func (r *fakeBalanceRepo) AdjustBalance(_ context.Context, _ *sql.Tx, userID int32, currency string, delta decimal.Decimal) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := balanceKey(userID, currency)
	next := r.balances[key].Add(delta)
	if next.IsNegative() {
		return decimal.Zero, pkgerrors.ErrInsufficientFunds
	}
	r.balances[key] = next
	return next, nil
}

type fakeTransferRepo struct {
	mu     sync.Mutex
	nextID int32

	internal []*models.InternalTransfer
	city     map[string]*models.CityTransfer
	intl     map[string]*models.InternationalTransfer
}

func newFakeTransferRepo() *fakeTransferRepo {
	return &fakeTransferRepo{
		city: make(map[string]*models.CityTransfer),
		intl: make(map[string]*models.InternationalTransfer),
	}
}

func (r *fakeTransferRepo) id() int32 {
	r.nextID++
	return r.nextID
}

func (r *fakeTransferRepo) CreateInternal(_ context.Context, _ *sql.Tx, t *models.InternalTransfer) (int32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t.ID = r.id()
	t.CreatedAt = time.Now()
	r.internal = append(r.internal, t)
	return t.ID, nil
}

func (r *fakeTransferRepo) CreateCity(_ context.Context, _ *sql.Tx, t *models.CityTransfer) (int32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t.ID = r.id()
	t.CreatedAt = time.Now()
	r.city[t.Code] = t
	return t.ID, nil
}

func (r *fakeTransferRepo) GetCityByCode(_ context.Context, code string) (*models.CityTransfer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.city[code]
	if !ok {
		return nil, pkgerrors.ErrTransferNotFound
	}
	copied := *t
	return &copied, nil
}

func (r *fakeTransferRepo) GetCityByCodeForUpdate(ctx context.Context, _ *sql.Tx, code string) (*models.CityTransfer, error) {
	return r.GetCityByCode(ctx, code)
}

func (r *fakeTransferRepo) MarkCityCompleted(_ context.Context, _ *sql.Tx, id int32, completedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.city {
		if t.ID == id {
			if t.Status != models.TransferPending {
				return pkgerrors.NewInvalidState(string(models.TransferPending), string(t.Status))
			}
			t.Status = models.TransferCompleted
			t.CompletedAt = &completedAt
			return nil
		}
	}
	return pkgerrors.ErrTransferNotFound
}

func (r *fakeTransferRepo) CreateInternational(_ context.Context, _ *sql.Tx, t *models.InternationalTransfer) (int32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t.ID = r.id()
	t.CreatedAt = time.Now()
	r.intl[t.TransferCode] = t
	return t.ID, nil
}

func (r *fakeTransferRepo) GetInternationalByCode(_ context.Context, code string) (*models.InternationalTransfer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.intl[code]
	if !ok {
		return nil, pkgerrors.ErrTransferNotFound
	}
	copied := *t
	return &copied, nil
}

func (r *fakeTransferRepo) GetInternationalByCodeForUpdate(ctx context.Context, _ *sql.Tx, code string) (*models.InternationalTransfer, error) {
	return r.GetInternationalByCode(ctx, code)
}

func (r *fakeTransferRepo) SetInternationalStatus(_ context.Context, _ *sql.Tx, id int32, status models.TransferStatus, completedAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.intl {
		if t.ID == id {
			if t.Status != models.TransferPending {
				return pkgerrors.NewInvalidState(string(models.TransferPending), string(t.Status))
			}
			t.Status = status
			t.CompletedAt = completedAt
			return nil
		}
	}
	return pkgerrors.ErrTransferNotFound
}

func (r *fakeTransferRepo) TransferCodeExists(_ context.Context, code string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.city[code]; ok {
		return true, nil
	}
	_, ok := r.intl[code]
	return ok, nil
}

type fakeTxnRepo struct {
	mu      sync.Mutex
	entries []models.Transaction
}

func (r *fakeTxnRepo) Create(_ context.Context, _ *sql.Tx, t *models.Transaction) (int32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t.ID = int32(len(r.entries) + 1)
	r.entries = append(r.entries, *t)
	return t.ID, nil
}

func (r *fakeTxnRepo) ListByUser(_ context.Context, userID int32, limit int) ([]models.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Transaction
	for _, t := range r.entries {
		if t.UserID == userID && len(out) < limit {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *fakeTxnRepo) byType(txnType models.TransactionType) []models.Transaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Transaction
	for _, t := range r.entries {
		if t.Type == txnType {
			out = append(out, t)
		}
	}
	return out
}

type fakeAdminTxnRepo struct {
	mu     sync.Mutex
	byRef  map[string]*models.AdminTransaction
	nextID int32
}

func newFakeAdminTxnRepo() *fakeAdminTxnRepo {
	return &fakeAdminTxnRepo{byRef: make(map[string]*models.AdminTransaction)}
}

func (r *fakeAdminTxnRepo) Create(_ context.Context, _ *sql.Tx, t *models.AdminTransaction) (int32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byRef[t.RefNo]; ok {
		return 0, pkgerrors.ErrDuplicateReference
	}
	r.nextID++
	t.ID = r.nextID
	t.CreatedAt = time.Now()
	r.byRef[t.RefNo] = t
	return t.ID, nil
}

func (r *fakeAdminTxnRepo) SetStatus(_ context.Context, _ *sql.Tx, id int32, status models.AdminTxnStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.byRef {
		if t.ID == id {
			t.Status = status
			return nil
		}
	}
	return pkgerrors.ErrTransactionNotFound
}

func (r *fakeAdminTxnRepo) SetStatusByRefNo(_ context.Context, _ *sql.Tx, refNo string, status models.AdminTxnStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byRef[refNo]
	if !ok {
		return pkgerrors.ErrTransactionNotFound
	}
	t.Status = status
	return nil
}

func (r *fakeAdminTxnRepo) GetByID(_ context.Context, id int32) (*models.AdminTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.byRef {
		if t.ID == id {
			copied := *t
			return &copied, nil
		}
	}
	return nil, pkgerrors.ErrTransactionNotFound
}

func (r *fakeAdminTxnRepo) List(context.Context, models.AdminTxnFilter) ([]models.AdminTransaction, models.AdminTxnSummary, int64, error) {
	return nil, models.AdminTxnSummary{}, 0, nil
}

func (r *fakeAdminTxnRepo) Update(context.Context, int32, models.AdminTxnUpdate) (*models.AdminTransaction, error) {
	return nil, pkgerrors.ErrTransactionNotFound
}

func (r *fakeAdminTxnRepo) FindDuplicates(context.Context, time.Duration) ([]models.DuplicateGroup, error) {
	return nil, nil
}

func (r *fakeAdminTxnRepo) Stats(context.Context, time.Time) ([]models.StatRow, error) {
	return nil, nil
}

func (r *fakeAdminTxnRepo) status(refNo string) models.AdminTxnStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.byRef[refNo]; ok {
		return t.Status
	}
	return ""
}

type fakeUserRepo struct {
	users map[int32]*models.User
}

func (r *fakeUserRepo) GetByID(_ context.Context, id int32) (*models.User, error) {
	u, ok := r.users[id]
	if !ok {
		return nil, pkgerrors.ErrUserNotFound
	}
	return u, nil
}

type fakePoolRepo struct {
	mu      sync.Mutex
	entries []models.PoolTransaction
}

func (r *fakePoolRepo) Append(_ context.Context, _ *sql.Tx, entry *models.PoolTransaction) (int32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !entry.Amount.IsPositive() {
		return 0, pkgerrors.ErrInvalidAmount
	}
	entry.ID = int32(len(r.entries) + 1)
	entry.CreatedAt = time.Now()
	r.entries = append(r.entries, *entry)
	return entry.ID, nil
}

func (r *fakePoolRepo) Balance(_ context.Context, _ *sql.Tx, currency string) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := decimal.Zero
	for _, e := range r.entries {
		if e.Currency != currency {
			continue
		}
		if e.Type == models.PoolWithdrawal {
			total = total.Sub(e.Amount)
		} else {
			total = total.Add(e.Amount)
		}
	}
	return total, nil
}

func (r *fakePoolRepo) Balances(ctx context.Context) (map[string]decimal.Decimal, error) {
	r.mu.Lock()
	currencies := make(map[string]struct{})
	for _, e := range r.entries {
		currencies[e.Currency] = struct{}{}
	}
	r.mu.Unlock()

	out := make(map[string]decimal.Decimal)
	for currency := range currencies {
		balance, err := r.Balance(ctx, nil, currency)
		if err != nil {
			return nil, err
		}
		out[currency] = balance
	}
	return out, nil
}

func (r *fakePoolRepo) ListByCurrency(_ context.Context, currency string, limit int) ([]models.PoolTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.PoolTransaction
	for i := len(r.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if r.entries[i].Currency == currency {
			out = append(out, r.entries[i])
		}
	}
	return out, nil
}

type fakeRateRepo struct {
	rates map[string]models.Rate
	tiers []models.OfficeCommissionTier
}

func (r *fakeRateRepo) GetSystemRate(_ context.Context, transferType, currency string) (models.Rate, error) {
	rate, ok := r.rates[transferType+":"+currency]
	if !ok {
		return models.Rate{}, pkgerrors.ErrRateNotFound
	}
	return rate, nil
}

func (r *fakeRateRepo) ListOfficeTiers(_ context.Context, officeID int32, currency string) ([]models.OfficeCommissionTier, error) {
	var out []models.OfficeCommissionTier
	for _, tier := range r.tiers {
		if tier.OfficeID == officeID && tier.Currency == currency {
			out = append(out, tier)
		}
	}
	return out, nil
}

type fakeRedis struct {
	mu     sync.Mutex
	values map[string]string
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: make(map[string]string)}
}

func (c *fakeRedis) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	if !ok {
		return "", redis.ErrKeyNotFound
	}
	return v, nil
}

func (c *fakeRedis) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = fmt.Sprint(value)
	return nil
}

func (c *fakeRedis) Del(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, key)
	return nil
}

func (c *fakeRedis) Close() error { return nil }

// ctxSensitiveRedis fails any call whose context is already done, the way
// the real client does.
type ctxSensitiveRedis struct {
	*fakeRedis
}

func (c *ctxSensitiveRedis) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return c.fakeRedis.Get(ctx, key)
}

func (c *ctxSensitiveRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.fakeRedis.Set(ctx, key, value, expiration)
}

func (c *ctxSensitiveRedis) Del(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.fakeRedis.Del(ctx, key)
}

type fakeKafkaProducer struct {
	mu    sync.Mutex
	sends int
}

func (p *fakeKafkaProducer) Send(_ context.Context, _ string, _ int64, _ []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sends++
	return nil
}

func (p *fakeKafkaProducer) Close() error { return nil }

// stubResolver returns fixed rates, bypassing the rate tables entirely.
type stubResolver struct {
	systemRate models.Rate
	tierRate   models.Rate
	tierOK     bool
}

func (r *stubResolver) Resolve(context.Context, string, string, *models.Corridor, decimal.Decimal) (models.Rate, error) {
	return r.systemRate, nil
}

func (r *stubResolver) ResolveOfficeTier(context.Context, string, models.Corridor, decimal.Decimal) (models.Rate, bool, error) {
	return r.tierRate, r.tierOK, nil
}

// fixedAllocator awards a constant share of each gross commission.
type fixedAllocator struct {
	referrerID int32
	reward     decimal.Decimal
}

func (a *fixedAllocator) Allocate(_ context.Context, _ int32, _ string, gross decimal.Decimal, _ string, _ int32) (Allocation, error) {
	return Allocation{
		HasReferral:         true,
		ReferrerID:          a.referrerID,
		RewardAmount:        a.reward,
		NetSystemCommission: gross.Sub(a.reward),
	}, nil
}
