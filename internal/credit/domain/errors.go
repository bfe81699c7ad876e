package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/tradecredit/internal/money"
)

var (
	ErrInvalidAmount        = money.ErrInvalidAmount
	ErrCreditExceeded       = errors.New("credit_exceeded")
	ErrInvalidTransaction   = errors.New("invalid_transaction")
	ErrInvalidRestoreReason = errors.New("invalid_restore_reason")
	ErrSyncFailure          = errors.New("sync_failure")
	ErrDeductAfterPayment   = errors.New("deduct_after_payment")

	// ErrLimitBelowUsage is an invalid amount: a personal limit cannot be
	// set below what the user already owes.
	ErrLimitBelowUsage = fmt.Errorf("limit_below_usage: %w", ErrInvalidAmount)
)

// CreditExceededError carries the figures a buyer needs to understand a
// denial.
type CreditExceededError struct {
	LimitingFactor LimitingFactor
	Requested      decimal.Decimal
	Available      decimal.Decimal
	Shortfall      decimal.Decimal
}

func (e *CreditExceededError) Error() string {
	return fmt.Sprintf("credit_exceeded: %s limit short by %s (available %s)",
		e.LimitingFactor, money.Format(e.Shortfall), money.Format(e.Available))
}

func (e *CreditExceededError) Is(target error) bool {
	return target == ErrCreditExceeded
}
