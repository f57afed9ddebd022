package service

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tahwil/tahwil-ledger/internal/models"
	"github.com/tahwil/tahwil-ledger/internal/repository"
	pkgerrors "github.com/tahwil/tahwil-ledger/pkg/errors"
	"go.opentelemetry.io/otel"
)

// netMarker tags pool credits already reduced by the referral reward. The
// allocator is never re-invoked for a journal entry carrying it, which
// prevents a double deduction when downstream code re-reads its own journal.
const netMarker = "net of referral reward"

type PoolService struct {
	poolRepo    repository.PoolRepository
	balanceRepo repository.BalanceRepository
	txnRepo     repository.TransactionRepository
	txManager   repository.TxManager
	allocator   ReferralAllocator
	adminUserID int32
}

func NewPoolService(
	poolRepo repository.PoolRepository,
	balanceRepo repository.BalanceRepository,
	txnRepo repository.TransactionRepository,
	txManager repository.TxManager,
	allocator ReferralAllocator,
	adminUserID int32,
) *PoolService {
	return &PoolService{
		poolRepo:    poolRepo,
		balanceRepo: balanceRepo,
		txnRepo:     txnRepo,
		txManager:   txManager,
		allocator:   allocator,
		adminUserID: adminUserID,
	}
}

// CreditNet runs the referral allocation on a gross commission, credits the
// reward to the referrer's balance, and appends only the net system share to
// the pool journal. Must be called inside the settlement transaction: if the
// commission cannot be journaled the enclosing transfer must not commit.
func (s *PoolService) CreditNet(ctx context.Context, tx *sql.Tx, sourceType string, sourceID int32, currency string, gross decimal.Decimal, relatedTxnID int32, description, operationType string, referredUserID int32) (decimal.Decimal, error) {
	if gross.IsZero() {
		return decimal.Zero, nil
	}

	net := gross
	if strings.Contains(description, netMarker) {
		// Already post-reward; crediting through the allocator again would
		// deduct the reward twice.
		slog.Info("pool credit already net, skipping referral allocation", "source_type", sourceType, "source_id", sourceID)
	} else {
		allocation, err := s.allocator.Allocate(ctx, relatedTxnID, operationType, gross, currency, referredUserID)
		if err != nil {
			return decimal.Zero, err
		}
		if allocation.HasReferral && allocation.RewardAmount.IsPositive() {
			if _, err := s.balanceRepo.AdjustBalance(ctx, tx, allocation.ReferrerID, currency, allocation.RewardAmount); err != nil {
				return decimal.Zero, err
			}
			if _, err := s.txnRepo.Create(ctx, tx, &models.Transaction{
				UserID:      allocation.ReferrerID,
				Type:        models.TypeReferralReward,
				Amount:      allocation.RewardAmount,
				Currency:    currency,
				Description: "referral reward for " + operationType,
			}); err != nil {
				return decimal.Zero, err
			}
			net = allocation.NetSystemCommission
		}
		description = description + " (" + netMarker + ")"
	}

	if !net.IsPositive() {
		return decimal.Zero, nil
	}

	_, err := s.poolRepo.Append(ctx, tx, &models.PoolTransaction{
		SourceType:           sourceType,
		SourceID:             sourceID,
		Currency:             currency,
		Amount:               net,
		Type:                 models.PoolCredit,
		RelatedTransactionID: relatedTxnID,
		Description:          description,
	})
	if err != nil {
		return decimal.Zero, err
	}
	return net, nil
}

// Withdraw moves funds out of the pool into the system admin's personal
// balance. The balance check, the journal row, the balance credit and the
// legacy log row all commit or roll back together.
func (s *PoolService) Withdraw(ctx context.Context, currency string, amount decimal.Decimal, description string) error {
	tracer := otel.Tracer("pool-service")
	ctx, span := tracer.Start(ctx, "PoolWithdraw")
	defer span.End()

	if !amount.IsPositive() {
		return pkgerrors.ErrInvalidAmount
	}

	err := s.txManager.WithinTx(ctx, func(tx *sql.Tx) error {
		balance, err := s.poolRepo.Balance(ctx, tx, currency)
		if err != nil {
			return err
		}
		if amount.GreaterThan(balance) {
			slog.Error("pool withdrawal exceeds balance", "currency", currency, "amount", amount.String(), "balance", balance.String())
			return pkgerrors.ErrInsufficientPool
		}

		if _, err := s.poolRepo.Append(ctx, tx, &models.PoolTransaction{
			SourceType:  "pool_withdrawal",
			Currency:    currency,
			Amount:      amount,
			Type:        models.PoolWithdrawal,
			Description: description,
		}); err != nil {
			return err
		}

		if _, err := s.balanceRepo.AdjustBalance(ctx, tx, s.adminUserID, currency, amount); err != nil {
			return err
		}

		_, err = s.txnRepo.Create(ctx, tx, &models.Transaction{
			UserID:      s.adminUserID,
			Type:        models.TypePoolWithdrawal,
			Amount:      amount,
			Currency:    currency,
			Description: description,
		})
		return err
	})
	if err != nil {
		return err
	}

	slog.Info("pool withdrawal completed", "currency", currency, "amount", amount.String())
	return nil
}

// Balances derives every per-currency pool balance from the journal.
func (s *PoolService) Balances(ctx context.Context) (map[string]decimal.Decimal, error) {
	return s.poolRepo.Balances(ctx)
}

func (s *PoolService) History(ctx context.Context, currency string, limit int) ([]models.PoolTransaction, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.poolRepo.ListByCurrency(ctx, currency, limit)
}
