package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TransactionOrderCreated     TransactionType = "order_created"
	TransactionOrderCancelled   TransactionType = "order_cancelled"
	TransactionOrderRefunded    TransactionType = "order_refunded"
	TransactionPaymentReceived  TransactionType = "payment_received"
	TransactionCreditAdjustment TransactionType = "credit_adjustment"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TransactionOrderCreated, TransactionOrderCancelled, TransactionOrderRefunded,
		TransactionPaymentReceived, TransactionCreditAdjustment:
		return true
	}
	return false
}

// CreditTransaction is one immutable ledger entry. NewBalance always equals
// PreviousBalance + CreditAmount; negative amounts are debits.
type CreditTransaction struct {
	ID              snowflake.ID    `gorm:"primaryKey" json:"id"`
	ShopID          string          `gorm:"not null" json:"shop_id"`
	CompanyID       snowflake.ID    `gorm:"not null;index" json:"company_id"`
	UserID          *snowflake.ID   `json:"user_id,omitempty"`
	OrderID         *snowflake.ID   `json:"order_id,omitempty"`
	TransactionType TransactionType `gorm:"not null" json:"transaction_type"`
	CreditAmount    decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"credit_amount"`
	PreviousBalance decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"previous_balance"`
	NewBalance      decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"new_balance"`
	Notes           string          `json:"notes,omitempty"`
	CreatedBy       string          `gorm:"not null" json:"created_by"`
	IdempotencyKey  *string         `gorm:"uniqueIndex" json:"-"`
	CreatedAt       time.Time       `gorm:"not null" json:"created_at"`
}

func (CreditTransaction) TableName() string { return "credit_transactions" }

// Availability is the credit position of a company. AvailableCredit is
// CreditLimit - UsedCredit and may be negative when a company is over limit.
type Availability struct {
	CreditLimit     decimal.Decimal `json:"credit_limit"`
	UsedCredit      decimal.Decimal `json:"used_credit"`
	PendingCredit   decimal.Decimal `json:"pending_credit"`
	AvailableCredit decimal.Decimal `json:"available_credit"`
}

// Exhausted reports whether no further credit can be admitted.
func (a Availability) Exhausted() bool {
	return !a.AvailableCredit.IsPositive()
}

// OutstandingOrder is an unpaid, non-cancelled order contributing to used
// credit.
type OutstandingOrder struct {
	ID               snowflake.ID    `json:"id"`
	OrderNumber      string          `json:"order_number"`
	OrderStatus      string          `json:"order_status"`
	PaymentStatus    string          `json:"payment_status"`
	OrderTotal       decimal.Decimal `json:"order_total"`
	RemainingBalance decimal.Decimal `json:"remaining_balance"`
	CreatedAt        time.Time       `json:"created_at"`
}

type LimitingFactor string

const (
	LimitingCompany LimitingFactor = "company"
	LimitingUser    LimitingFactor = "user"
)

// Decision is the outcome of a tiered credit check.
type Decision struct {
	Admitted       bool            `json:"admitted"`
	Reason         string          `json:"reason,omitempty"`
	LimitingFactor LimitingFactor  `json:"limiting_factor,omitempty"`
	Requested      decimal.Decimal `json:"requested"`
	Shortfall      decimal.Decimal `json:"shortfall"`
	Available      decimal.Decimal `json:"available"`
	Company        Availability    `json:"company"`
}

// Err converts a denial into a *CreditExceededError. Admitted decisions
// return nil.
func (d Decision) Err() error {
	if d.Admitted {
		return nil
	}
	return &CreditExceededError{
		LimitingFactor: d.LimitingFactor,
		Requested:      d.Requested,
		Available:      d.Available,
		Shortfall:      d.Shortfall,
	}
}

// OrderAdmission is the company-only admission answer shown to storefront
// buyers before checkout.
type OrderAdmission struct {
	Admitted        bool            `json:"admitted"`
	Message         string          `json:"message,omitempty"`
	AvailableCredit decimal.Decimal `json:"available_credit"`
}

type RestoreReason string

const (
	RestoreCancelled RestoreReason = "cancelled"
	RestoreRefunded  RestoreReason = "refunded"
)

func (r RestoreReason) TransactionType() (TransactionType, bool) {
	switch r {
	case RestoreCancelled:
		return TransactionOrderCancelled, true
	case RestoreRefunded:
		return TransactionOrderRefunded, true
	}
	return "", false
}

// TransactionInput describes a ledger entry before balances are computed.
type TransactionInput struct {
	CompanyID    snowflake.ID
	OrderID      *snowflake.ID
	UserID       *snowflake.ID
	Type         TransactionType
	SignedAmount decimal.Decimal
	Actor        string
	Notes        string
}

type Summary struct {
	Availability
	RecentTransactions []CreditTransaction `json:"recent_transactions"`
}
