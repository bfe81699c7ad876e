package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	InsertTransaction(ctx context.Context, db *gorm.DB, txn *CreditTransaction) error
	// UpsertOrderCreated writes the single order_created entry of an order,
	// replacing the figures of an earlier one, and returns the row's ID.
	UpsertOrderCreated(ctx context.Context, db *gorm.DB, txn *CreditTransaction) (snowflake.ID, error)
	FindTransaction(ctx context.Context, db *gorm.DB, id snowflake.ID) (*CreditTransaction, error)
	LatestTransaction(ctx context.Context, db *gorm.DB, companyID snowflake.ID) (*CreditTransaction, error)
	// ListTransactions returns newest first, strictly below beforeID when it
	// is non-zero.
	ListTransactions(ctx context.Context, db *gorm.DB, companyID snowflake.ID, beforeID snowflake.ID, limit int) ([]CreditTransaction, error)
	// ListChain returns every entry of the company oldest first.
	ListChain(ctx context.Context, db *gorm.DB, companyID snowflake.ID) ([]CreditTransaction, error)
	ListOutstandingOrders(ctx context.Context, db *gorm.DB, companyID snowflake.ID) ([]OutstandingOrder, error)
}
