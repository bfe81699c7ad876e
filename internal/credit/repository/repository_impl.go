package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tradecredit/internal/credit/domain"
	orderdomain "github.com/smallbiznis/tradecredit/internal/order/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertTransaction(ctx context.Context, db *gorm.DB, txn *domain.CreditTransaction) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO credit_transactions (
			id, shop_id, company_id, user_id, order_id, transaction_type,
			credit_amount, previous_balance, new_balance, notes, created_by, idempotency_key, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		txn.ID,
		txn.ShopID,
		txn.CompanyID,
		txn.UserID,
		txn.OrderID,
		txn.TransactionType,
		txn.CreditAmount,
		txn.PreviousBalance,
		txn.NewBalance,
		txn.Notes,
		txn.CreatedBy,
		txn.IdempotencyKey,
		txn.CreatedAt,
	).Error
}

// UpsertOrderCreated relies on the unique idempotency_key so a retried order
// creation rewrites its entry instead of adding a second debit.
func (r *repo) UpsertOrderCreated(ctx context.Context, db *gorm.DB, txn *domain.CreditTransaction) (snowflake.ID, error) {
	if txn.IdempotencyKey == nil {
		return 0, domain.ErrInvalidTransaction
	}
	err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "idempotency_key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"user_id",
			"credit_amount",
			"previous_balance",
			"new_balance",
			"notes",
			"created_by",
		}),
	}).Create(txn).Error
	if err != nil {
		return 0, err
	}

	var id snowflake.ID
	err = db.WithContext(ctx).Raw(
		`SELECT id FROM credit_transactions WHERE idempotency_key = ?`,
		*txn.IdempotencyKey,
	).Scan(&id).Error
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (r *repo) FindTransaction(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.CreditTransaction, error) {
	var item domain.CreditTransaction
	err := db.WithContext(ctx).Where("id = ?", id).Take(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (r *repo) LatestTransaction(ctx context.Context, db *gorm.DB, companyID snowflake.ID) (*domain.CreditTransaction, error) {
	var item domain.CreditTransaction
	err := db.WithContext(ctx).
		Where("company_id = ?", companyID).
		Order("id DESC").
		Take(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (r *repo) ListTransactions(ctx context.Context, db *gorm.DB, companyID snowflake.ID, beforeID snowflake.ID, limit int) ([]domain.CreditTransaction, error) {
	q := db.WithContext(ctx).Where("company_id = ?", companyID)
	if beforeID != 0 {
		q = q.Where("id < ?", beforeID)
	}
	var items []domain.CreditTransaction
	if err := q.Order("id DESC").Limit(limit).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListChain(ctx context.Context, db *gorm.DB, companyID snowflake.ID) ([]domain.CreditTransaction, error) {
	var items []domain.CreditTransaction
	err := db.WithContext(ctx).
		Where("company_id = ?", companyID).
		Order("id ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// ListOutstandingOrders selects the rows behind used credit. Amounts are
// summed by the caller in decimal so every dialect gives the same answer.
func (r *repo) ListOutstandingOrders(ctx context.Context, db *gorm.DB, companyID snowflake.ID) ([]domain.OutstandingOrder, error) {
	var items []domain.OutstandingOrder
	err := db.WithContext(ctx).Raw(
		`SELECT id, order_number, order_status, payment_status, order_total, remaining_balance, created_at
		 FROM orders
		 WHERE company_id = ?
		   AND payment_status IN (?, ?)
		   AND order_status <> ?
		 ORDER BY id ASC`,
		companyID,
		orderdomain.PaymentPending,
		orderdomain.PaymentPartial,
		orderdomain.OrderCancelled,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
