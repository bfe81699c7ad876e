package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	creditdomain "github.com/smallbiznis/tradecredit/internal/credit/domain"
)

// Reconciliation is one persisted comparison of the order-derived credit
// position against the ledger.
type Reconciliation struct {
	ID                snowflake.ID        `gorm:"primaryKey" json:"id"`
	ShopID            string              `gorm:"not null" json:"shop_id"`
	CompanyID         snowflake.ID        `gorm:"not null;index" json:"company_id"`
	CreditLimit       decimal.Decimal     `gorm:"type:decimal(18,4);not null" json:"credit_limit"`
	UsedCredit        decimal.Decimal     `gorm:"type:decimal(18,4);not null" json:"used_credit"`
	PendingCredit     decimal.Decimal     `gorm:"type:decimal(18,4);not null" json:"pending_credit"`
	AvailableCredit   decimal.Decimal     `gorm:"type:decimal(18,4);not null" json:"available_credit"`
	LedgerBalance     decimal.NullDecimal `gorm:"type:decimal(18,4)" json:"ledger_balance"`
	Drift             decimal.Decimal     `gorm:"type:decimal(18,4);not null" json:"drift"`
	HasDrift          bool                `gorm:"not null" json:"has_drift"`
	OutstandingOrders int                 `gorm:"not null" json:"outstanding_orders"`
	TriggeredBy       string              `gorm:"not null" json:"triggered_by"`
	CreatedAt         time.Time           `gorm:"not null" json:"created_at"`
}

func (Reconciliation) TableName() string { return "credit_reconciliations" }

// Result is the recalculated credit position. LedgerBalance is the latest
// ledger new_balance, or the credit limit when the company has no entries.
type Result struct {
	ReconciliationID  *snowflake.ID       `json:"reconciliation_id,omitempty"`
	CompanyID         snowflake.ID        `json:"company_id"`
	UnpaidOrdersTotal decimal.Decimal     `json:"unpaid_orders_total"`
	UnpaidOrdersCount int                 `json:"unpaid_orders_count"`
	CreditLimit       decimal.Decimal     `json:"credit_limit"`
	UsedCredit        decimal.Decimal     `json:"used_credit"`
	PendingCredit     decimal.Decimal     `json:"pending_credit"`
	AvailableCredit   decimal.Decimal     `json:"available_credit"`
	LedgerBalance     decimal.NullDecimal `json:"ledger_balance"`
	Drift             decimal.Decimal     `json:"drift"`
	HasDrift          bool                `json:"has_drift"`
}

type Preview struct {
	Result
	Orders []creditdomain.OutstandingOrder `json:"orders"`
}

type BreakKind string

const (
	// BreakArithmetic marks an entry where new_balance != previous_balance + credit_amount.
	BreakArithmetic BreakKind = "arithmetic"
	// BreakLink marks an entry whose previous_balance differs from the prior new_balance.
	BreakLink BreakKind = "link"
)

type ChainBreak struct {
	TransactionID snowflake.ID    `json:"transaction_id"`
	Kind          BreakKind       `json:"kind"`
	Expected      decimal.Decimal `json:"expected"`
	Actual        decimal.Decimal `json:"actual"`
}

type ChainReport struct {
	CompanyID snowflake.ID `json:"company_id"`
	Entries   int          `json:"entries"`
	Valid     bool         `json:"valid"`
	Breaks    []ChainBreak `json:"breaks"`
}
