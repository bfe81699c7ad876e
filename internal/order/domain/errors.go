package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	creditdomain "github.com/smallbiznis/tradecredit/internal/credit/domain"
	"github.com/smallbiznis/tradecredit/internal/money"
)

var (
	ErrOrderNotFound         = errors.New("order_not_found")
	ErrAlreadyPaid           = errors.New("already_paid")
	ErrAlreadyCancelled      = errors.New("already_cancelled")
	ErrOrderNotCancellable   = errors.New("order_not_cancellable")
	ErrInvalidTransition     = errors.New("invalid_transition")
	ErrInvalidStatus         = errors.New("invalid_status")
	ErrInvalidPaymentMethod  = errors.New("invalid_payment_method")
	ErrPaymentExceedsBalance = errors.New("payment_exceeds_balance")
)

// PaymentExceedsBalanceError rejects a payment larger than what is owed. It
// matches both ErrPaymentExceedsBalance and the credit ErrInvalidAmount.
type PaymentExceedsBalanceError struct {
	Requested decimal.Decimal
	Remaining decimal.Decimal
}

func (e *PaymentExceedsBalanceError) Error() string {
	return fmt.Sprintf("payment_exceeds_balance: payment of %s exceeds remaining balance %s",
		money.Format(e.Requested), money.Format(e.Remaining))
}

func (e *PaymentExceedsBalanceError) Is(target error) bool {
	return target == ErrPaymentExceedsBalance || target == creditdomain.ErrInvalidAmount
}
