package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	companydomain "github.com/smallbiznis/tradecredit/internal/company/domain"
	"github.com/smallbiznis/tradecredit/pkg/db/pagination"
	"gorm.io/gorm"
)

// Ledger is the transactional credit core. Every method runs on the caller's
// transaction and expects the company row to be locked by it.
type Ledger interface {
	Availability(ctx context.Context, tx *gorm.DB, companyID snowflake.ID) (Availability, error)
	Authorize(ctx context.Context, tx *gorm.DB, companyID snowflake.ID, userID *snowflake.ID, amount decimal.Decimal) (Decision, error)
	RecordTransaction(ctx context.Context, tx *gorm.DB, in TransactionInput) (snowflake.ID, error)
	DeductCredit(ctx context.Context, tx *gorm.DB, companyID, orderID snowflake.ID, amount decimal.Decimal, actor string) (decimal.Decimal, error)
	RestoreCredit(ctx context.Context, tx *gorm.DB, companyID, orderID snowflake.ID, amount decimal.Decimal, actor string, reason RestoreReason) (decimal.Decimal, error)
	ReleaseUserCredit(ctx context.Context, tx *gorm.DB, userID snowflake.ID, amount decimal.Decimal) error
}

type AdjustCreditLimitRequest struct {
	CompanyID snowflake.ID
	NewLimit  decimal.Decimal
	Actor     string
	Notes     string
}

type AdjustCreditLimitResult struct {
	Company       companydomain.Company `json:"company"`
	TransactionID *snowflake.ID         `json:"transaction_id,omitempty"`
	Credit        Availability          `json:"credit"`
}

type ListTransactionsResponse struct {
	pagination.PageInfo
	Transactions []CreditTransaction `json:"transactions"`
}

// Service is the read and admin surface of the credit core.
type Service interface {
	GetCreditSummary(ctx context.Context, companyID snowflake.ID) (Summary, error)
	CanCreateOrder(ctx context.Context, companyID snowflake.ID, amount decimal.Decimal) (OrderAdmission, error)
	CanAuthorize(ctx context.Context, companyID snowflake.ID, userID *snowflake.ID, amount decimal.Decimal) (Decision, error)
	AdjustCreditLimit(ctx context.Context, req AdjustCreditLimitRequest) (AdjustCreditLimitResult, error)
	SetUserCreditLimit(ctx context.Context, userID snowflake.ID, limit *decimal.Decimal) (companydomain.User, error)
	ListTransactions(ctx context.Context, companyID snowflake.ID, page pagination.Pagination) (ListTransactionsResponse, error)
}
