package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TypeTransferOut    TransactionType = "transfer_out"
	TypeTransferIn     TransactionType = "transfer_in"
	TypeRefund         TransactionType = "refund"
	TypePoolWithdrawal TransactionType = "pool_withdrawal"
	TypeReferralReward TransactionType = "referral_reward"
)

// Transaction is the legacy per-user activity log row. Older code paths
// still append here; it coexists with AdminTransaction until the write side
// converges on one table.
type Transaction struct {
	ID              int32           `json:"id"`
	UserID          int32           `json:"user_id"`
	Type            TransactionType `json:"type"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Description     string          `json:"description"`
	ReferenceNumber string          `json:"reference_number"`
	CreatedAt       time.Time       `json:"created_at"`
}

type AdminTxnStatus string

const (
	AdminPending   AdminTxnStatus = "PENDING"
	AdminSuccess   AdminTxnStatus = "SUCCESS"
	AdminFailed    AdminTxnStatus = "FAILED"
	AdminCancelled AdminTxnStatus = "CANCELLED"
	AdminReversed  AdminTxnStatus = "REVERSED"
	AdminOnHold    AdminTxnStatus = "ON_HOLD"
)

// AdminTransaction is the canonical record for newer transaction types,
// intended to eventually replace the legacy Transaction table.
type AdminTransaction struct {
	ID           int32           `json:"id"`
	RefNo        string          `json:"ref_no"`
	Type         string          `json:"type"`
	Status       AdminTxnStatus  `json:"status"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	NetAmount    decimal.Decimal `json:"net_amount"`
	FeeSystem    decimal.Decimal `json:"fee_system"`
	FeeRecipient decimal.Decimal `json:"fee_recipient"`
	Channel      string          `json:"channel"`
	CreatedBy    int32           `json:"created_by"`
	ApprovedBy   int32           `json:"approved_by,omitempty"`
	KYCLevel     int32           `json:"kyc_level"`
	RiskScore    int32           `json:"risk_score"`
	Flags        []string        `json:"flags,omitempty"`
	Notes        string          `json:"notes,omitempty"`
	ParentTxnID  int32           `json:"parent_txn_id,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// MarketTrade is a trade settled by the external trading engine, ingested
// over Kafka and read only by the unified feed.
type MarketTrade struct {
	ID        int32           `json:"id"`
	UserID    int32           `json:"user_id"`
	Pair      string          `json:"pair"`
	Side      string          `json:"side"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Price     decimal.Decimal `json:"price"`
	CreatedAt time.Time       `json:"created_at"`
}
