package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentPartial   PaymentStatus = "partial"
	PaymentPaid      PaymentStatus = "paid"
	PaymentCancelled PaymentStatus = "cancelled"
)

type OrderStatus string

const (
	OrderDraft      OrderStatus = "draft"
	OrderSubmitted  OrderStatus = "submitted"
	OrderProcessing OrderStatus = "processing"
	OrderShipped    OrderStatus = "shipped"
	OrderDelivered  OrderStatus = "delivered"
	OrderCancelled  OrderStatus = "cancelled"
)

// fulfilmentRank orders the forward-only fulfilment path. Cancelled is not
// on it.
var fulfilmentRank = map[OrderStatus]int{
	OrderDraft:      0,
	OrderSubmitted:  1,
	OrderProcessing: 2,
	OrderShipped:    3,
	OrderDelivered:  4,
}

// CanAdvanceTo reports whether next is strictly further along the fulfilment
// path than s.
func (s OrderStatus) CanAdvanceTo(next OrderStatus) bool {
	from, ok := fulfilmentRank[s]
	if !ok {
		return false
	}
	to, ok := fulfilmentRank[next]
	if !ok {
		return false
	}
	return to > from
}

func (s OrderStatus) Valid() bool {
	_, ok := fulfilmentRank[s]
	return ok || s == OrderCancelled
}

// Pending reports whether the order still counts towards pending credit.
func (s OrderStatus) Pending() bool {
	return s == OrderDraft || s == OrderSubmitted || s == OrderProcessing
}

// Order tracks the payment and fulfilment axes of a credit-funded order.
// For live orders PaidAmount + RemainingBalance == OrderTotal; cancelled
// orders also count RestoredAmount.
type Order struct {
	ID               snowflake.ID    `gorm:"primaryKey" json:"id"`
	ShopID           string          `gorm:"not null" json:"shop_id"`
	CompanyID        snowflake.ID    `gorm:"not null;index" json:"company_id"`
	CreatedByUserID  *snowflake.ID   `json:"created_by_user_id,omitempty"`
	OrderNumber      string          `gorm:"not null" json:"order_number"`
	ExternalDraftID  *string         `json:"external_draft_id,omitempty"`
	OrderTotal       decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"order_total"`
	PaidAmount       decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"paid_amount"`
	RemainingBalance decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"remaining_balance"`
	CreditUsed       decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"credit_used"`
	UserCreditUsed   decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"user_credit_used"`
	RestoredAmount   decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"restored_amount"`
	PaymentStatus    PaymentStatus   `gorm:"not null" json:"payment_status"`
	OrderStatus      OrderStatus     `gorm:"not null" json:"order_status"`
	Notes            string          `json:"notes,omitempty"`
	CreatedAt        time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"not null" json:"updated_at"`
	CancelledAt      *time.Time      `json:"cancelled_at,omitempty"`
	PaidAt           *time.Time      `json:"paid_at,omitempty"`
}

func (Order) TableName() string { return "orders" }

// Cancelled reports whether either axis has reached cancelled.
func (o Order) Cancelled() bool {
	return o.OrderStatus == OrderCancelled || o.PaymentStatus == PaymentCancelled
}

// Balanced checks the total identity for the order's current state.
func (o Order) Balanced() bool {
	sum := o.PaidAmount.Add(o.RemainingBalance)
	if o.Cancelled() {
		sum = sum.Add(o.RestoredAmount)
	}
	return sum.Equal(o.OrderTotal)
}

const PaymentStatusReceived = "received"

// OrderPayment is an immutable record of money received against an order.
type OrderPayment struct {
	ID         snowflake.ID    `gorm:"primaryKey" json:"id"`
	ShopID     string          `gorm:"not null" json:"shop_id"`
	OrderID    snowflake.ID    `gorm:"not null;index" json:"order_id"`
	CompanyID  snowflake.ID    `gorm:"not null" json:"company_id"`
	Amount     decimal.Decimal `gorm:"type:decimal(18,4);not null" json:"amount"`
	Method     string          `gorm:"not null" json:"method"`
	Status     string          `gorm:"not null" json:"status"`
	Notes      string          `json:"notes,omitempty"`
	ReceivedAt time.Time       `gorm:"not null" json:"received_at"`
	CreatedBy  string          `gorm:"not null" json:"created_by"`
}

func (OrderPayment) TableName() string { return "order_payments" }
