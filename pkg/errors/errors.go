package errors

import (
	"errors"
	"fmt"
)

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrBalanceNotFound      = errors.New("balance not found")
	ErrTransferNotFound     = errors.New("transfer not found")
	ErrTransactionNotFound  = errors.New("transaction not found")
	ErrRateNotFound         = errors.New("commission rate not found")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInsufficientPool     = errors.New("insufficient commission pool balance")
	ErrDuplicateReference   = errors.New("duplicate reference")
	ErrConfigurationMissing = errors.New("commission configuration missing")
	ErrNilTransfer          = errors.New("transfer is nil")
	ErrInvalidAmount        = errors.New("amount must be positive")
	ErrInvalidCurrency      = errors.New("invalid currency code")
	ErrInvalidReceiverCode  = errors.New("invalid receiver code")
	ErrPersistence          = errors.New("persistence failure")

	ErrRequestAlreadyProcessed = errors.New("request already processed")
)

// InvalidStateError reports an operation attempted against a transfer that
// is no longer in the status the operation requires.
type InvalidStateError struct {
	Expected string
	Current  string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid transfer state: expected %s, got %s", e.Expected, e.Current)
}

var ErrInvalidState = errors.New("invalid transfer state")

func (e *InvalidStateError) Is(target error) bool { return target == ErrInvalidState }

func NewInvalidState(expected, current string) error {
	return &InvalidStateError{Expected: expected, Current: current}
}
