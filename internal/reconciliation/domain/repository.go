package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, item *Reconciliation) error
	// ListByCompany returns newest first, strictly below beforeID when it is
	// non-zero.
	ListByCompany(ctx context.Context, db *gorm.DB, companyID snowflake.ID, beforeID snowflake.ID, limit int) ([]Reconciliation, error)
}
