package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/tradecredit/internal/clock"
	"github.com/smallbiznis/tradecredit/internal/company/domain"
	"github.com/smallbiznis/tradecredit/internal/shopcontext"
	dbutil "github.com/smallbiznis/tradecredit/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock `optional:"true"`
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func New(p Params) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("company.service"),
		genID: p.GenID,
		clock: clk,
		repo:  p.Repo,
	}
}

func (s *Service) LookupCompany(ctx context.Context, id snowflake.ID) (domain.Company, error) {
	shopID, ok := shopcontext.ShopIDFromContext(ctx)
	if !ok {
		return domain.Company{}, domain.ErrInvalidShop
	}
	item, err := s.repo.FindCompany(ctx, s.db, shopID, id)
	if err != nil {
		return domain.Company{}, err
	}
	if item == nil {
		return domain.Company{}, domain.ErrCompanyNotFound
	}
	return *item, nil
}

func (s *Service) LookupUser(ctx context.Context, id snowflake.ID) (domain.User, error) {
	shopID, ok := shopcontext.ShopIDFromContext(ctx)
	if !ok {
		return domain.User{}, domain.ErrInvalidShop
	}
	item, err := s.repo.FindUser(ctx, s.db, shopID, id)
	if err != nil {
		return domain.User{}, err
	}
	if item == nil {
		return domain.User{}, domain.ErrUserNotFound
	}
	return *item, nil
}

func (s *Service) SyncCompany(ctx context.Context, req domain.SyncCompanyRequest) (domain.Company, error) {
	shopID, ok := shopcontext.ShopIDFromContext(ctx)
	if !ok {
		return domain.Company{}, domain.ErrInvalidShop
	}
	externalID := strings.TrimSpace(req.ExternalID)
	name := strings.TrimSpace(req.Name)
	if externalID == "" || name == "" {
		return domain.Company{}, domain.ErrInvalidRequest
	}

	var out domain.Company
	err := retryOnDuplicate(func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			now := s.clock.Now()
			existing, err := s.repo.FindCompanyByExternalID(ctx, tx, shopID, externalID)
			if err != nil {
				return err
			}
			if existing != nil {
				if existing.Name != name {
					if err := s.repo.UpdateCompanyName(ctx, tx, existing.ID, name, now); err != nil {
						return err
					}
					existing.Name = name
					existing.UpdatedAt = now
				}
				out = *existing
				return nil
			}

			out = domain.Company{
				ID:          s.genID.Generate(),
				ShopID:      shopID,
				ExternalID:  externalID,
				Name:        name,
				CreditLimit: decimal.Zero,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			return s.repo.InsertCompany(ctx, tx, &out)
		})
	})
	if err != nil {
		return domain.Company{}, err
	}

	s.log.Info("company synced",
		zap.String("shop_id", shopID),
		zap.String("company_id", out.ID.String()),
		zap.String("external_id", externalID),
	)
	return out, nil
}

func (s *Service) SyncUser(ctx context.Context, req domain.SyncUserRequest) (domain.User, error) {
	shopID, ok := shopcontext.ShopIDFromContext(ctx)
	if !ok {
		return domain.User{}, domain.ErrInvalidShop
	}
	externalID := strings.TrimSpace(req.ExternalID)
	email := strings.TrimSpace(req.Email)
	if externalID == "" || !strings.Contains(email, "@") {
		return domain.User{}, domain.ErrInvalidRequest
	}

	var out domain.User
	err := retryOnDuplicate(func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			now := s.clock.Now()

			var companyID *snowflake.ID
			if ref := strings.TrimSpace(req.CompanyExternalID); ref != "" {
				company, err := s.repo.FindCompanyByExternalID(ctx, tx, shopID, ref)
				if err != nil {
					return err
				}
				if company == nil {
					return domain.ErrCompanyNotFound
				}
				companyID = &company.ID
			}

			existing, err := s.repo.FindUserByExternalID(ctx, tx, shopID, externalID)
			if err != nil {
				return err
			}
			if existing != nil {
				if err := s.repo.UpdateUserProfile(ctx, tx, existing.ID, companyID, email, now); err != nil {
					return err
				}
				existing.CompanyID = companyID
				existing.Email = email
				existing.UpdatedAt = now
				out = *existing
				return nil
			}

			out = domain.User{
				ID:             s.genID.Generate(),
				ShopID:         shopID,
				CompanyID:      companyID,
				ExternalID:     externalID,
				Email:          email,
				UserCreditUsed: decimal.Zero,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			return s.repo.InsertUser(ctx, tx, &out)
		})
	})
	if err != nil {
		return domain.User{}, err
	}
	return out, nil
}

// retryOnDuplicate reruns fn once when a concurrent delivery of the same
// webhook won the insert; the second pass takes the update branch.
func retryOnDuplicate(fn func() error) error {
	err := fn()
	if dbutil.IsDuplicateKeyErr(err) {
		return fn()
	}
	return err
}
