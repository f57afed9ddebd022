package service

import (
	"context"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/tahwil/tahwil-ledger/internal/models"
	pkgerrors "github.com/tahwil/tahwil-ledger/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestEscrowManager_ComputeCosts(t *testing.T) {
	ctx := context.Background()

	t.Run("SystemAndRecipientCommission", func(t *testing.T) {
		resolver := &stubResolver{
			systemRate: models.Rate{Kind: models.RatePercentage, Value: decimal.RequireFromString("0.02")},
			tierRate:   models.Rate{Kind: models.RateFlat, Value: decimal.RequireFromString("0.5")},
			tierOK:     true,
		}
		escrow := NewEscrowManager(resolver, newFakeTransferRepo())

		costs, err := escrow.ComputeCosts(ctx, decimal.NewFromInt(50), "USD", &models.Corridor{OfficeID: 7})
		assert.NoError(t, err)
		assert.True(t, costs.CommissionSystem.Equal(decimal.NewFromInt(1)))
		assert.True(t, costs.CommissionRecipient.Equal(decimal.RequireFromString("0.5")))
		assert.True(t, costs.AmountPending.Equal(decimal.RequireFromString("48.5")))
	})

	t.Run("NoTierMeansNoRecipientCommission", func(t *testing.T) {
		resolver := &stubResolver{
			systemRate: models.Rate{Kind: models.RatePercentage, Value: decimal.RequireFromString("0.02")},
			tierOK:     false,
		}
		escrow := NewEscrowManager(resolver, newFakeTransferRepo())

		costs, err := escrow.ComputeCosts(ctx, decimal.NewFromInt(50), "USD", &models.Corridor{OfficeID: 7})
		assert.NoError(t, err)
		assert.True(t, costs.CommissionRecipient.IsZero())
		assert.True(t, costs.AmountPending.Equal(decimal.NewFromInt(49)))
	})

	t.Run("CommissionSwallowingAmountRejected", func(t *testing.T) {
		resolver := &stubResolver{
			systemRate: models.Rate{Kind: models.RateFlat, Value: decimal.NewFromInt(60)},
		}
		escrow := NewEscrowManager(resolver, newFakeTransferRepo())

		_, err := escrow.ComputeCosts(ctx, decimal.NewFromInt(50), "USD", nil)
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidAmount)
	})

	t.Run("NonPositiveAmountRejected", func(t *testing.T) {
		escrow := NewEscrowManager(&stubResolver{}, newFakeTransferRepo())
		_, err := escrow.ComputeCosts(ctx, decimal.Zero, "USD", nil)
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidAmount)
	})
}

func TestEscrowManager_GenerateTransferCode(t *testing.T) {
	ctx := context.Background()

	t.Run("UniqueCodeFormat", func(t *testing.T) {
		escrow := NewEscrowManager(&stubResolver{}, newFakeTransferRepo())
		code, err := escrow.GenerateTransferCode(ctx)
		assert.NoError(t, err)
		assert.True(t, strings.HasPrefix(code, "TRF-"))
	})

	t.Run("DistinctAcrossCalls", func(t *testing.T) {
		escrow := NewEscrowManager(&stubResolver{}, newFakeTransferRepo())
		seen := make(map[string]bool)
		for i := 0; i < 20; i++ {
			code, err := escrow.GenerateTransferCode(ctx)
			assert.NoError(t, err)
			assert.False(t, seen[code])
			seen[code] = true
		}
	})

	t.Run("GivesUpAfterRepeatedCollisions", func(t *testing.T) {
		escrow := NewEscrowManager(&stubResolver{}, collidingTransferRepo{newFakeTransferRepo()})
		_, err := escrow.GenerateTransferCode(ctx)
		assert.ErrorIs(t, err, pkgerrors.ErrDuplicateReference)
	})
}

// collidingTransferRepo reports every code as taken.
type collidingTransferRepo struct {
	*fakeTransferRepo
}

func (collidingTransferRepo) TransferCodeExists(context.Context, string) (bool, error) {
	return true, nil
}

func TestReceiverCodeHashing(t *testing.T) {
	hash, err := HashReceiverCode("4321")
	assert.NoError(t, err)
	assert.NotEqual(t, "4321", hash)

	assert.NoError(t, VerifyReceiverCode(hash, "4321"))
	assert.ErrorIs(t, VerifyReceiverCode(hash, "0000"), pkgerrors.ErrInvalidReceiverCode)
}
