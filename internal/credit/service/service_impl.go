package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tradecredit/internal/clock"
	companydomain "github.com/smallbiznis/tradecredit/internal/company/domain"
	"github.com/smallbiznis/tradecredit/internal/config"
	"github.com/smallbiznis/tradecredit/internal/credit/domain"
	obsmetrics "github.com/smallbiznis/tradecredit/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/tradecredit/internal/order/domain"
	"github.com/smallbiznis/tradecredit/internal/shopcontext"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock `optional:"true"`
	Repo       domain.Repository
	Companies  companydomain.Repository
	Orders     orderdomain.Repository
	Policy     *config.CreditPolicyHolder `optional:"true"`
	Publisher  domain.EventPublisher      `optional:"true"`
	ObsMetrics *obsmetrics.Metrics        `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	companies  companydomain.Repository
	orders     orderdomain.Repository
	policy     *config.CreditPolicyHolder
	publisher  domain.EventPublisher
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	publisher := p.Publisher
	if publisher == nil {
		publisher = domain.NopPublisher{}
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("credit.service"),
		genID:      p.GenID,
		clock:      clk,
		repo:       p.Repo,
		companies:  p.Companies,
		orders:     p.Orders,
		policy:     p.Policy,
		publisher:  publisher,
		obsMetrics: p.ObsMetrics,
	}
}

var (
	_ domain.Service = (*Service)(nil)
	_ domain.Ledger  = (*Service)(nil)
)

func shopFromContext(ctx context.Context) (string, error) {
	shopID, ok := shopcontext.ShopIDFromContext(ctx)
	if !ok {
		return "", companydomain.ErrInvalidShop
	}
	return shopID, nil
}

func (s *Service) loadCompany(ctx context.Context, tx *gorm.DB, companyID snowflake.ID) (*companydomain.Company, error) {
	shopID, err := shopFromContext(ctx)
	if err != nil {
		return nil, err
	}
	company, err := s.companies.FindCompany(ctx, tx, shopID, companyID)
	if err != nil {
		return nil, err
	}
	if company == nil {
		return nil, companydomain.ErrCompanyNotFound
	}
	return company, nil
}

func (s *Service) lockCompany(ctx context.Context, tx *gorm.DB, companyID snowflake.ID) (*companydomain.Company, error) {
	shopID, err := shopFromContext(ctx)
	if err != nil {
		return nil, err
	}
	company, err := s.companies.LockCompany(ctx, tx, shopID, companyID)
	if err != nil {
		return nil, err
	}
	if company == nil {
		return nil, companydomain.ErrCompanyNotFound
	}
	return company, nil
}

func normalizeActor(actor string) string {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return "system"
	}
	return actor
}
