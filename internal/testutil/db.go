// Package testutil builds throwaway sqlite databases for service tests.
package testutil

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	companydomain "github.com/smallbiznis/tradecredit/internal/company/domain"
	"github.com/smallbiznis/tradecredit/internal/migration"
	"github.com/smallbiznis/tradecredit/internal/shopcontext"
	"gorm.io/gorm"
)

const ShopID = "acme-wholesale.myshopify.com"

var dbSeq atomic.Int64

// SetupDB opens a private in-memory database with the full schema. The pool
// is pinned to one connection so concurrent transactions serialise the way
// row locks would on postgres.
func SetupDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d_%d?mode=memory&cache=shared", time.Now().UnixNano(), dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := migration.ApplySQLite(db); err != nil {
		t.Fatalf("schema exec failed: %v", err)
	}
	return db
}

func NewNode(t *testing.T) *snowflake.Node {
	t.Helper()

	node, err := snowflake.NewNode(10)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return node
}

// ShopContext returns a context scoped to ShopID.
func ShopContext() context.Context {
	return shopcontext.WithShopID(context.Background(), ShopID)
}

func SeedCompany(t *testing.T, db *gorm.DB, node *snowflake.Node, limit string) companydomain.Company {
	t.Helper()

	now := time.Now().UTC()
	id := node.Generate()
	company := companydomain.Company{
		ID:          id,
		ShopID:      ShopID,
		ExternalID:  "gid://shopify/Company/" + id.String(),
		Name:        "Company " + id.String(),
		CreditLimit: decimal.RequireFromString(limit),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := db.Exec(
		`INSERT INTO companies (id, shop_id, external_id, name, credit_limit, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		company.ID, company.ShopID, company.ExternalID, company.Name, company.CreditLimit, company.CreatedAt, company.UpdatedAt,
	).Error
	if err != nil {
		t.Fatalf("seed company: %v", err)
	}
	return company
}

// SeedUser creates a contact of companyID. An empty limit leaves the user
// without a personal sub-limit.
func SeedUser(t *testing.T, db *gorm.DB, node *snowflake.Node, companyID snowflake.ID, limit string) companydomain.User {
	t.Helper()

	now := time.Now().UTC()
	id := node.Generate()
	user := companydomain.User{
		ID:             id,
		ShopID:         ShopID,
		CompanyID:      &companyID,
		ExternalID:     "gid://shopify/Customer/" + id.String(),
		Email:          "buyer-" + id.String() + "@example.com",
		UserCreditUsed: decimal.Zero,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if limit != "" {
		user.UserCreditLimit = decimal.NewNullDecimal(decimal.RequireFromString(limit))
	}
	err := db.Exec(
		`INSERT INTO company_users (id, shop_id, company_id, external_id, email, user_credit_limit, user_credit_used, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID, user.ShopID, user.CompanyID, user.ExternalID, user.Email, user.UserCreditLimit, user.UserCreditUsed, user.CreatedAt, user.UpdatedAt,
	).Error
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}

func AssertCount(t *testing.T, db *gorm.DB, query string, expected int64, args ...any) {
	t.Helper()

	var count int64
	if err := db.Raw(query, args...).Scan(&count).Error; err != nil {
		t.Fatalf("query count: %v", err)
	}
	if count != expected {
		t.Fatalf("expected %d, got %d", expected, count)
	}
}
