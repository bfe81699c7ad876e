package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tradecredit/internal/order/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, order *domain.Order) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO orders (
			id, shop_id, company_id, created_by_user_id, order_number, external_draft_id,
			order_total, paid_amount, remaining_balance, credit_used, user_credit_used, restored_amount,
			payment_status, order_status, notes, created_at, updated_at, cancelled_at, paid_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID,
		order.ShopID,
		order.CompanyID,
		order.CreatedByUserID,
		order.OrderNumber,
		order.ExternalDraftID,
		order.OrderTotal,
		order.PaidAmount,
		order.RemainingBalance,
		order.CreditUsed,
		order.UserCreditUsed,
		order.RestoredAmount,
		order.PaymentStatus,
		order.OrderStatus,
		order.Notes,
		order.CreatedAt,
		order.UpdatedAt,
		order.CancelledAt,
		order.PaidAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, shopID string, id snowflake.ID) (*domain.Order, error) {
	return take(db.WithContext(ctx).Where("shop_id = ? AND id = ?", shopID, id))
}

// LockByID serialises payment and cancellation on one order.
func (r *repo) LockByID(ctx context.Context, db *gorm.DB, shopID string, id snowflake.ID) (*domain.Order, error) {
	return take(db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("shop_id = ? AND id = ?", shopID, id))
}

func take(q *gorm.DB) (*domain.Order, error) {
	var item domain.Order
	if err := q.Take(&item).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

// Update writes every mutable column. Identity columns and order_total are
// never changed after insert.
func (r *repo) Update(ctx context.Context, db *gorm.DB, order *domain.Order) error {
	return db.WithContext(ctx).Exec(
		`UPDATE orders
		 SET paid_amount = ?, remaining_balance = ?, credit_used = ?, user_credit_used = ?,
			restored_amount = ?, payment_status = ?, order_status = ?, updated_at = ?,
			cancelled_at = ?, paid_at = ?
		 WHERE id = ?`,
		order.PaidAmount,
		order.RemainingBalance,
		order.CreditUsed,
		order.UserCreditUsed,
		order.RestoredAmount,
		order.PaymentStatus,
		order.OrderStatus,
		order.UpdatedAt,
		order.CancelledAt,
		order.PaidAt,
		order.ID,
	).Error
}

func (r *repo) InsertPayment(ctx context.Context, db *gorm.DB, payment *domain.OrderPayment) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO order_payments (
			id, shop_id, order_id, company_id, amount, method, status, notes, received_at, created_by
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		payment.ID,
		payment.ShopID,
		payment.OrderID,
		payment.CompanyID,
		payment.Amount,
		payment.Method,
		payment.Status,
		payment.Notes,
		payment.ReceivedAt,
		payment.CreatedBy,
	).Error
}

func (r *repo) ListPayments(ctx context.Context, db *gorm.DB, orderID snowflake.ID) ([]domain.OrderPayment, error) {
	var items []domain.OrderPayment
	err := db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("id ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
