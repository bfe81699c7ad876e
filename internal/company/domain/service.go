package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrCompanyNotFound = errors.New("company_not_found")
	ErrUserNotFound    = errors.New("user_not_found")
	ErrInvalidShop     = errors.New("invalid_shop")
	ErrInvalidRequest  = errors.New("invalid_request")
)

type SyncCompanyRequest struct {
	ExternalID string `json:"external_id"`
	Name       string `json:"name"`
}

type SyncUserRequest struct {
	ExternalID        string `json:"external_id"`
	Email             string `json:"email"`
	CompanyExternalID string `json:"company_external_id"`
}

// Service is the directory the credit core reads companies and users from.
// SyncCompany and SyncUser are fed by the storefront onboarding webhook and
// never touch credit figures.
type Service interface {
	LookupCompany(ctx context.Context, id snowflake.ID) (Company, error)
	LookupUser(ctx context.Context, id snowflake.ID) (User, error)
	SyncCompany(ctx context.Context, req SyncCompanyRequest) (Company, error)
	SyncUser(ctx context.Context, req SyncUserRequest) (User, error)
}
