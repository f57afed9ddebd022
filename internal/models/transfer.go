package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransferStatus string

const (
	TransferPending   TransferStatus = "pending"
	TransferCompleted TransferStatus = "completed"
	TransferCancelled TransferStatus = "cancelled"
)

// InternalTransfer settles instantly between two user balances. Rows are
// immutable once written; there is no cancellation path.
type InternalTransfer struct {
	ID              int32           `json:"id"`
	SenderID        int32           `json:"sender_id"`
	ReceiverID      int32           `json:"receiver_id"`
	Currency        string          `json:"currency"`
	Amount          decimal.Decimal `json:"amount"`
	Commission      decimal.Decimal `json:"commission"`
	Note            string          `json:"note,omitempty"`
	ReferenceNumber string          `json:"reference_number"`
	CreatedAt       time.Time       `json:"created_at"`
}

// CityTransfer moves funds between two agent offices in the same country.
// The sender office is debited at creation; there is no cancellation path
// for this kind.
type CityTransfer struct {
	ID                   int32           `json:"id"`
	SenderOfficeID       int32           `json:"sender_office_id"`
	DestinationOfficeID  int32           `json:"destination_office_id"`
	OriginCityID         int32           `json:"origin_city_id"`
	DestinationCityID    int32           `json:"destination_city_id"`
	Currency             string          `json:"currency"`
	Amount               decimal.Decimal `json:"amount"`
	Commission           decimal.Decimal `json:"commission"`
	Code                 string          `json:"code"`
	Status               TransferStatus  `json:"status"`
	CreatedAt            time.Time       `json:"created_at"`
	CompletedAt          *time.Time      `json:"completed_at,omitempty"`
}

// InternationalTransfer is an escrowed transfer between offices in different
// countries. The sender is debited AmountOriginal plus CommissionSystem at
// creation and the funds are held until the receiving office claims them
// with the transfer code, or the sender cancels while still pending.
type InternationalTransfer struct {
	ID                  int32           `json:"id"`
	SenderID            int32           `json:"sender_id"`
	ReceiverOfficeID    int32           `json:"receiver_office_id"`
	Currency            string          `json:"currency"`
	AmountOriginal      decimal.Decimal `json:"amount_original"`
	CommissionSystem    decimal.Decimal `json:"commission_system"`
	CommissionRecipient decimal.Decimal `json:"commission_recipient"`
	AmountPending       decimal.Decimal `json:"amount_pending"`
	TransferCode        string          `json:"transfer_code"`
	ReceiverCodeHash    string          `json:"-"`
	Status              TransferStatus  `json:"status"`
	CreatedAt           time.Time       `json:"created_at"`
	CompletedAt         *time.Time      `json:"completed_at,omitempty"`
}

// SenderDebit is the total amount held from the sender while the transfer
// is pending, and the exact amount refunded on cancellation.
func (t *InternationalTransfer) SenderDebit() decimal.Decimal {
	return t.AmountOriginal.Add(t.CommissionSystem)
}

// SystemTake is what the system retains on completion: everything debited
// from the sender that is paid out neither to the receiver nor to the
// receiving office. Keeping it derived means value is conserved no matter
// how the individual commissions were computed.
func (t *InternationalTransfer) SystemTake() decimal.Decimal {
	return t.SenderDebit().Sub(t.AmountPending).Sub(t.CommissionRecipient)
}
