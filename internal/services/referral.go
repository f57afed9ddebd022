package service

import (
	"context"

	"github.com/shopspring/decimal"
)

// Allocation is the referral split of a gross commission. The engine pools
// only NetSystemCommission; RewardAmount is credited to the referrer.
type Allocation struct {
	HasReferral         bool
	ReferrerID          int32
	RewardAmount        decimal.Decimal
	NetSystemCommission decimal.Decimal
}

// ReferralAllocator is implemented by the external referral system. Given a
// gross commission it decides how much of it is owed to the user who invited
// the referred user.
type ReferralAllocator interface {
	Allocate(ctx context.Context, relatedTxnID int32, operationType string, gross decimal.Decimal, currency string, referredUserID int32) (Allocation, error)
}

// NoReferralAllocator is the allocator used when no referral program is
// configured: the system keeps the full gross commission.
type NoReferralAllocator struct{}

func (NoReferralAllocator) Allocate(_ context.Context, _ int32, _ string, gross decimal.Decimal, _ string, _ int32) (Allocation, error) {
	return Allocation{NetSystemCommission: gross}, nil
}
