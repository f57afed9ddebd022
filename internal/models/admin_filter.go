package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AdminTxnFilter narrows admin transaction listings. Zero values mean
// "no filter"; amount and risk bounds are inclusive.
type AdminTxnFilter struct {
	From         time.Time
	To           time.Time
	Type         string
	Status       AdminTxnStatus
	Currency     string
	CreatedBy    int32
	AmountMin    decimal.Decimal
	AmountMax    decimal.Decimal
	Search       string
	RefNo        string
	Channel      string
	KYCLevel     int32
	RiskScoreMin int32
	RiskScoreMax int32
	Flag         string
	Limit        int
	Offset       int
}

// AdminTxnUpdate carries the only mutable fields of an admin transaction.
// Nil pointers leave the current value untouched.
type AdminTxnUpdate struct {
	Status *AdminTxnStatus
	Notes  *string
	Flags  []string
}

// AdminTxnSummary aggregates a filtered listing per status.
type AdminTxnSummary struct {
	Count  int64                      `json:"count"`
	Totals map[string]decimal.Decimal `json:"totals_by_status"`
}

// DuplicateGroup is one cluster of suspiciously similar transactions.
type DuplicateGroup struct {
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	CreatedBy int32           `json:"created_by"`
	Count     int64           `json:"count"`
	FirstSeen time.Time       `json:"first_seen"`
	LastSeen  time.Time       `json:"last_seen"`
}

// StatRow is one dashboard bucket, grouped by status and type.
type StatRow struct {
	Status AdminTxnStatus  `json:"status"`
	Type   string          `json:"type"`
	Count  int64           `json:"count"`
	Total  decimal.Decimal `json:"total"`
}
