package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Company is a B2B buyer account on one shop. CreditLimit is the outer bound
// for every order placed by its users.
type Company struct {
	ID          snowflake.ID    `gorm:"primaryKey" json:"id"`
	ShopID      string          `gorm:"not null;index" json:"shop_id"`
	ExternalID  string          `gorm:"not null" json:"external_id"`
	Name        string          `gorm:"not null" json:"name"`
	CreditLimit decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0" json:"credit_limit"`
	CreatedAt   time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"not null" json:"updated_at"`
}

func (Company) TableName() string { return "companies" }

// User is a company contact. A null UserCreditLimit means the user is bounded
// only by the company limit.
type User struct {
	ID              snowflake.ID        `gorm:"primaryKey" json:"id"`
	ShopID          string              `gorm:"not null;index" json:"shop_id"`
	CompanyID       *snowflake.ID       `gorm:"index" json:"company_id,omitempty"`
	ExternalID      string              `gorm:"not null" json:"external_id"`
	Email           string              `gorm:"not null" json:"email"`
	UserCreditLimit decimal.NullDecimal `gorm:"type:decimal(18,4)" json:"user_credit_limit"`
	UserCreditUsed  decimal.Decimal     `gorm:"type:decimal(18,4);not null;default:0" json:"user_credit_used"`
	CreatedAt       time.Time           `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time           `gorm:"not null" json:"updated_at"`
}

func (User) TableName() string { return "company_users" }

// HasPersonalLimit reports whether a per-user sub-limit is engaged.
func (u User) HasPersonalLimit() bool {
	return u.UserCreditLimit.Valid
}

// PersonalAvailable is limit minus used. Only meaningful with a personal limit.
func (u User) PersonalAvailable() decimal.Decimal {
	if !u.UserCreditLimit.Valid {
		return decimal.Zero
	}
	return u.UserCreditLimit.Decimal.Sub(u.UserCreditUsed)
}

// BelongsTo reports whether the user is a contact of companyID.
func (u User) BelongsTo(companyID snowflake.ID) bool {
	return u.CompanyID != nil && *u.CompanyID == companyID
}

// CompanyRef is the minimal row the reconciliation sweep iterates over.
type CompanyRef struct {
	ID     snowflake.ID
	ShopID string
}
