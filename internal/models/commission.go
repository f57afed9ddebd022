package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type RateKind string

const (
	RateFlat       RateKind = "flat"
	RatePercentage RateKind = "percentage"
	RatePerMille   RateKind = "per_mille"
)

// Rate is a resolved commission rate.
type Rate struct {
	Kind  RateKind        `json:"kind"`
	Value decimal.Decimal `json:"value"`
}

// Apply computes the commission this rate yields for the given amount.
func (r Rate) Apply(amount decimal.Decimal) decimal.Decimal {
	switch r.Kind {
	case RateFlat:
		return r.Value
	case RatePerMille:
		return amount.Mul(r.Value).Div(decimal.NewFromInt(1000))
	default:
		return amount.Mul(r.Value)
	}
}

// Corridor narrows a rate lookup to a specific office and city pair.
// Zero fields mean "any".
type Corridor struct {
	OfficeID          int32
	OriginCityID      int32
	DestinationCityID int32
}

// OfficeCommissionTier is one row of an office's tiered rate table, valid
// for amounts in [MinAmount, MaxAmount) and optionally narrowed to a city
// pair.
type OfficeCommissionTier struct {
	ID                int32
	OfficeID          int32
	Currency          string
	MinAmount         decimal.Decimal
	MaxAmount         decimal.Decimal
	OriginCityID      int32
	DestinationCityID int32
	Kind              RateKind
	Value             decimal.Decimal
}

// Matches reports whether the tier applies to the given corridor and amount,
// and how specific the city match is (2: both cities, 1: one, 0: none).
func (t OfficeCommissionTier) Matches(c Corridor, amount decimal.Decimal) (bool, int) {
	if t.OfficeID != c.OfficeID {
		return false, 0
	}
	if amount.LessThan(t.MinAmount) || (!t.MaxAmount.IsZero() && !amount.LessThan(t.MaxAmount)) {
		return false, 0
	}
	specificity := 0
	if t.OriginCityID != 0 {
		if t.OriginCityID != c.OriginCityID {
			return false, 0
		}
		specificity++
	}
	if t.DestinationCityID != 0 {
		if t.DestinationCityID != c.DestinationCityID {
			return false, 0
		}
		specificity++
	}
	return true, specificity
}

type PoolEntryType string

const (
	PoolCredit     PoolEntryType = "credit"
	PoolWithdrawal PoolEntryType = "withdrawal"
)

// PoolTransaction is one append-only row of the commission pool journal.
// The pool balance per currency is derived by summation, never stored.
type PoolTransaction struct {
	ID                   int32           `json:"id"`
	SourceType           string          `json:"source_type"`
	SourceID             int32           `json:"source_id"`
	Currency             string          `json:"currency"`
	Amount               decimal.Decimal `json:"amount"`
	Type                 PoolEntryType   `json:"type"`
	RelatedTransactionID int32           `json:"related_transaction_id,omitempty"`
	Description          string          `json:"description"`
	CreatedAt            time.Time       `json:"created_at"`
}

// Costs is the commission breakdown previewed before an international
// transfer is committed.
type Costs struct {
	CommissionSystem    decimal.Decimal `json:"commission_system"`
	CommissionRecipient decimal.Decimal `json:"commission_recipient"`
	AmountPending       decimal.Decimal `json:"amount_pending"`
}
