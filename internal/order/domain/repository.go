package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository persists orders and their payments. Finders return nil, nil
// when no row matches.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, order *Order) error
	FindByID(ctx context.Context, db *gorm.DB, shopID string, id snowflake.ID) (*Order, error)
	LockByID(ctx context.Context, db *gorm.DB, shopID string, id snowflake.ID) (*Order, error)
	Update(ctx context.Context, db *gorm.DB, order *Order) error
	InsertPayment(ctx context.Context, db *gorm.DB, payment *OrderPayment) error
	ListPayments(ctx context.Context, db *gorm.DB, orderID snowflake.ID) ([]OrderPayment, error)
}
