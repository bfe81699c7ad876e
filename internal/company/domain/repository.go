package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Repository reads and writes the local company directory. Finders return
// nil, nil when no row matches.
type Repository interface {
	FindCompany(ctx context.Context, db *gorm.DB, shopID string, id snowflake.ID) (*Company, error)
	FindCompanyByExternalID(ctx context.Context, db *gorm.DB, shopID, externalID string) (*Company, error)
	LockCompany(ctx context.Context, db *gorm.DB, shopID string, id snowflake.ID) (*Company, error)
	InsertCompany(ctx context.Context, db *gorm.DB, company *Company) error
	UpdateCompanyName(ctx context.Context, db *gorm.DB, id snowflake.ID, name string, now time.Time) error
	UpdateCreditLimit(ctx context.Context, db *gorm.DB, id snowflake.ID, limit decimal.Decimal, now time.Time) error
	ListCompanyRefs(ctx context.Context, db *gorm.DB, afterID snowflake.ID, limit int) ([]CompanyRef, error)

	FindUser(ctx context.Context, db *gorm.DB, shopID string, id snowflake.ID) (*User, error)
	FindUserByExternalID(ctx context.Context, db *gorm.DB, shopID, externalID string) (*User, error)
	LockUser(ctx context.Context, db *gorm.DB, shopID string, id snowflake.ID) (*User, error)
	InsertUser(ctx context.Context, db *gorm.DB, user *User) error
	UpdateUserProfile(ctx context.Context, db *gorm.DB, id snowflake.ID, companyID *snowflake.ID, email string, now time.Time) error
	UpdateUserCreditUsed(ctx context.Context, db *gorm.DB, id snowflake.ID, used decimal.Decimal, now time.Time) error
	UpdateUserCreditLimit(ctx context.Context, db *gorm.DB, id snowflake.ID, limit decimal.NullDecimal, now time.Time) error
}
