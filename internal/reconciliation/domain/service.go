package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tradecredit/pkg/db/pagination"
)

type ListReconciliationsResponse struct {
	pagination.PageInfo
	Reconciliations []Reconciliation `json:"reconciliations"`
}

// Service re-derives credit positions from orders and audits the ledger. It
// never rewrites ledger rows.
type Service interface {
	Recalculate(ctx context.Context, companyID snowflake.ID, actor string) (Result, error)
	PreviewRecalculation(ctx context.Context, companyID snowflake.ID) (Preview, error)
	VerifyChain(ctx context.Context, companyID snowflake.ID) (ChainReport, error)
	ListReconciliations(ctx context.Context, companyID snowflake.ID, page pagination.Pagination) (ListReconciliationsResponse, error)
}
