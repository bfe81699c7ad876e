package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/tradecredit/internal/company/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindCompany(ctx context.Context, db *gorm.DB, shopID string, id snowflake.ID) (*domain.Company, error) {
	return takeCompany(db.WithContext(ctx).Where("shop_id = ? AND id = ?", shopID, id))
}

func (r *repo) FindCompanyByExternalID(ctx context.Context, db *gorm.DB, shopID, externalID string) (*domain.Company, error) {
	return takeCompany(db.WithContext(ctx).Where("shop_id = ? AND external_id = ?", shopID, externalID))
}

// LockCompany takes the company row lock that serialises every credit
// mutation for the company.
func (r *repo) LockCompany(ctx context.Context, db *gorm.DB, shopID string, id snowflake.ID) (*domain.Company, error) {
	return takeCompany(db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("shop_id = ? AND id = ?", shopID, id))
}

func takeCompany(q *gorm.DB) (*domain.Company, error) {
	var item domain.Company
	if err := q.Take(&item).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (r *repo) InsertCompany(ctx context.Context, db *gorm.DB, company *domain.Company) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO companies (id, shop_id, external_id, name, credit_limit, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		company.ID,
		company.ShopID,
		company.ExternalID,
		company.Name,
		company.CreditLimit,
		company.CreatedAt,
		company.UpdatedAt,
	).Error
}

func (r *repo) UpdateCompanyName(ctx context.Context, db *gorm.DB, id snowflake.ID, name string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE companies SET name = ?, updated_at = ? WHERE id = ?`,
		name, now, id,
	).Error
}

func (r *repo) UpdateCreditLimit(ctx context.Context, db *gorm.DB, id snowflake.ID, limit decimal.Decimal, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE companies SET credit_limit = ?, updated_at = ? WHERE id = ?`,
		limit, now, id,
	).Error
}

func (r *repo) ListCompanyRefs(ctx context.Context, db *gorm.DB, afterID snowflake.ID, limit int) ([]domain.CompanyRef, error) {
	var items []domain.CompanyRef
	err := db.WithContext(ctx).Raw(
		`SELECT id, shop_id
		 FROM companies
		 WHERE id > ?
		 ORDER BY id ASC
		 LIMIT ?`,
		afterID,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) FindUser(ctx context.Context, db *gorm.DB, shopID string, id snowflake.ID) (*domain.User, error) {
	return takeUser(db.WithContext(ctx).Where("shop_id = ? AND id = ?", shopID, id))
}

func (r *repo) FindUserByExternalID(ctx context.Context, db *gorm.DB, shopID, externalID string) (*domain.User, error) {
	return takeUser(db.WithContext(ctx).Where("shop_id = ? AND external_id = ?", shopID, externalID))
}

func (r *repo) LockUser(ctx context.Context, db *gorm.DB, shopID string, id snowflake.ID) (*domain.User, error) {
	return takeUser(db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("shop_id = ? AND id = ?", shopID, id))
}

func takeUser(q *gorm.DB) (*domain.User, error) {
	var item domain.User
	if err := q.Take(&item).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (r *repo) InsertUser(ctx context.Context, db *gorm.DB, user *domain.User) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO company_users (id, shop_id, company_id, external_id, email, user_credit_limit, user_credit_used, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.ShopID,
		user.CompanyID,
		user.ExternalID,
		user.Email,
		user.UserCreditLimit,
		user.UserCreditUsed,
		user.CreatedAt,
		user.UpdatedAt,
	).Error
}

func (r *repo) UpdateUserProfile(ctx context.Context, db *gorm.DB, id snowflake.ID, companyID *snowflake.ID, email string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE company_users SET company_id = ?, email = ?, updated_at = ? WHERE id = ?`,
		companyID, email, now, id,
	).Error
}

func (r *repo) UpdateUserCreditUsed(ctx context.Context, db *gorm.DB, id snowflake.ID, used decimal.Decimal, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE company_users SET user_credit_used = ?, updated_at = ? WHERE id = ?`,
		used, now, id,
	).Error
}

func (r *repo) UpdateUserCreditLimit(ctx context.Context, db *gorm.DB, id snowflake.ID, limit decimal.NullDecimal, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE company_users SET user_credit_limit = ?, updated_at = ? WHERE id = ?`,
		limit, now, id,
	).Error
}
