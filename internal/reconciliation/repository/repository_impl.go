package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tradecredit/internal/reconciliation/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, item *domain.Reconciliation) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO credit_reconciliations (
			id, shop_id, company_id, credit_limit, used_credit, pending_credit, available_credit,
			ledger_balance, drift, has_drift, outstanding_orders, triggered_by, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID,
		item.ShopID,
		item.CompanyID,
		item.CreditLimit,
		item.UsedCredit,
		item.PendingCredit,
		item.AvailableCredit,
		item.LedgerBalance,
		item.Drift,
		item.HasDrift,
		item.OutstandingOrders,
		item.TriggeredBy,
		item.CreatedAt,
	).Error
}

func (r *repo) ListByCompany(ctx context.Context, db *gorm.DB, companyID snowflake.ID, beforeID snowflake.ID, limit int) ([]domain.Reconciliation, error) {
	q := db.WithContext(ctx).Where("company_id = ?", companyID)
	if beforeID != 0 {
		q = q.Where("id < ?", beforeID)
	}
	var items []domain.Reconciliation
	if err := q.Order("id DESC").Limit(limit).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
