package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestInternationalTransferAmounts(t *testing.T) {
	transfer := InternationalTransfer{
		AmountOriginal:      decimal.NewFromInt(50),
		CommissionSystem:    decimal.NewFromInt(1),
		CommissionRecipient: decimal.RequireFromString("0.5"),
		AmountPending:       decimal.RequireFromString("48.5"),
	}

	t.Run("SenderDebitIsAmountPlusSystemCommission", func(t *testing.T) {
		assert.True(t, transfer.SenderDebit().Equal(decimal.NewFromInt(51)))
	})

	t.Run("ValueConservedOnCompletion", func(t *testing.T) {
		// Everything the sender pays lands in exactly three places: the
		// pending payout, the receiving office's commission, and the system
		// take.
		total := transfer.AmountPending.
			Add(transfer.CommissionRecipient).
			Add(transfer.SystemTake())
		assert.True(t, total.Equal(transfer.SenderDebit()))
	})

	t.Run("SystemTakeCoversBothCommissionShares", func(t *testing.T) {
		assert.True(t, transfer.SystemTake().Equal(decimal.NewFromInt(2)))
	})

	t.Run("ZeroCommissions", func(t *testing.T) {
		plain := InternationalTransfer{
			AmountOriginal: decimal.NewFromInt(100),
			AmountPending:  decimal.NewFromInt(100),
		}
		assert.True(t, plain.SenderDebit().Equal(decimal.NewFromInt(100)))
		assert.True(t, plain.SystemTake().IsZero())
	})
}
