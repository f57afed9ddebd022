package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tahwil/tahwil-ledger/internal/models"
	"github.com/tahwil/tahwil-ledger/internal/repository"
	pkgerrors "github.com/tahwil/tahwil-ledger/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

const transferCodeAttempts = 5

// EscrowManager previews commission costs and issues the transfer codes a
// receiving office presents to claim held funds. It performs no writes.
type EscrowManager struct {
	resolver     RateResolver
	transferRepo repository.TransferRepository
}

func NewEscrowManager(resolver RateResolver, transferRepo repository.TransferRepository) *EscrowManager {
	return &EscrowManager{resolver: resolver, transferRepo: transferRepo}
}

// ComputeCosts is a pure preview of an international transfer's commission
// breakdown so a UI can show costs before the sender commits.
func (m *EscrowManager) ComputeCosts(ctx context.Context, amount decimal.Decimal, currency string, corridor *models.Corridor) (models.Costs, error) {
	if !amount.IsPositive() {
		return models.Costs{}, pkgerrors.ErrInvalidAmount
	}

	systemRate, err := m.resolver.Resolve(ctx, TransferTypeInternational, currency, nil, amount)
	if err != nil {
		return models.Costs{}, err
	}
	commissionSystem := systemRate.Apply(amount)

	commissionRecipient := decimal.Zero
	if corridor != nil && corridor.OfficeID != 0 {
		recipientRate, ok, err := m.resolver.ResolveOfficeTier(ctx, currency, *corridor, amount)
		if err != nil {
			return models.Costs{}, err
		}
		// Only a rate the office actually configured yields a recipient
		// commission; there is no system-wide fallback for the office share.
		if ok {
			commissionRecipient = recipientRate.Apply(amount)
		}
	}

	amountPending := amount.Sub(commissionSystem).Sub(commissionRecipient)
	if !amountPending.IsPositive() {
		return models.Costs{}, pkgerrors.ErrInvalidAmount
	}

	return models.Costs{
		CommissionSystem:    commissionSystem,
		CommissionRecipient: commissionRecipient,
		AmountPending:       amountPending,
	}, nil
}

// GenerateTransferCode produces a collision-resistant pickup code and
// verifies it against the active transfer tables. A collision triggers
// regeneration; it is never surfaced to the caller.
func (m *EscrowManager) GenerateTransferCode(ctx context.Context) (string, error) {
	for i := 0; i < transferCodeAttempts; i++ {
		suffix, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
		if err != nil {
			return "", fmt.Errorf("failed to generate transfer code: %w", err)
		}
		code := fmt.Sprintf("TRF-%d-%06d", time.Now().UnixMilli(), suffix.Int64())

		exists, err := m.transferRepo.TransferCodeExists(ctx, code)
		if err != nil {
			return "", err
		}
		if !exists {
			return code, nil
		}
	}
	return "", pkgerrors.ErrDuplicateReference
}

// HashReceiverCode stores pickup verification codes the way passwords are
// stored: only the bcrypt hash is persisted.
func HashReceiverCode(code string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash receiver code: %w", err)
	}
	return string(hash), nil
}

func VerifyReceiverCode(hash, code string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)); err != nil {
		return pkgerrors.ErrInvalidReceiverCode
	}
	return nil
}
