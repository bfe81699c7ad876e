package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	creditdomain "github.com/smallbiznis/tradecredit/internal/credit/domain"
)

type CreateOrderRequest struct {
	CompanyID       snowflake.ID
	UserID          snowflake.ID
	OrderTotal      decimal.Decimal
	OrderStatus     OrderStatus
	OrderNumber     string
	ExternalDraftID string
	Notes           string
	Actor           string
}

type CreateOrderResult struct {
	Order  Order                     `json:"order"`
	Credit creditdomain.Availability `json:"credit_info"`
}

type ProcessPaymentRequest struct {
	OrderID snowflake.ID
	Amount  decimal.Decimal
	Method  string
	Notes   string
	Actor   string
}

type PaymentResult struct {
	Payment OrderPayment              `json:"payment"`
	Order   Order                     `json:"order"`
	Credit  creditdomain.Availability `json:"credit_info"`
}

type CancelOrderRequest struct {
	OrderID snowflake.ID
	Actor   string
	Notes   string
}

// RemoteSync reports the best-effort removal of the storefront draft order.
type RemoteSync struct {
	Attempted bool   `json:"attempted"`
	Succeeded bool   `json:"succeeded"`
	Error     string `json:"error,omitempty"`
}

type CancelResult struct {
	Order          Order                     `json:"order"`
	CreditRestored bool                      `json:"credit_restored"`
	RestoredAmount decimal.Decimal           `json:"restored_amount"`
	Credit         creditdomain.Availability `json:"credit_info"`
	RemoteSync     RemoteSync                `json:"remote_sync"`
}

type OrderDetail struct {
	Order    Order          `json:"order"`
	Payments []OrderPayment `json:"payments"`
}

// RemoteOrders removes the storefront's copy of a draft order.
type RemoteOrders interface {
	CancelDraftOrder(ctx context.Context, shopID, draftID string) error
}

type Service interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (CreateOrderResult, error)
	GetOrder(ctx context.Context, id snowflake.ID) (OrderDetail, error)
	ProcessPayment(ctx context.Context, req ProcessPaymentRequest) (PaymentResult, error)
	CancelOrder(ctx context.Context, req CancelOrderRequest) (CancelResult, error)
	UpdateOrderStatus(ctx context.Context, id snowflake.ID, status OrderStatus) (Order, error)
}
