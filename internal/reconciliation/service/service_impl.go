package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/tradecredit/internal/clock"
	companydomain "github.com/smallbiznis/tradecredit/internal/company/domain"
	"github.com/smallbiznis/tradecredit/internal/config"
	creditdomain "github.com/smallbiznis/tradecredit/internal/credit/domain"
	creditservice "github.com/smallbiznis/tradecredit/internal/credit/service"
	"github.com/smallbiznis/tradecredit/internal/money"
	obslogger "github.com/smallbiznis/tradecredit/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/tradecredit/internal/observability/metrics"
	"github.com/smallbiznis/tradecredit/internal/reconciliation/domain"
	"github.com/smallbiznis/tradecredit/internal/shopcontext"
	"github.com/smallbiznis/tradecredit/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock `optional:"true"`
	Repo      domain.Repository
	Ledger    creditdomain.Repository
	Companies companydomain.Repository
	Policy    *config.CreditPolicyHolder   `optional:"true"`
	Metrics   *obsmetrics.ReconcileMetrics `optional:"true"`
	Publisher creditdomain.EventPublisher  `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	repo      domain.Repository
	ledger    creditdomain.Repository
	companies companydomain.Repository
	policy    *config.CreditPolicyHolder
	metrics   *obsmetrics.ReconcileMetrics
	publisher creditdomain.EventPublisher
}

func New(p Params) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	publisher := p.Publisher
	if publisher == nil {
		publisher = creditdomain.NopPublisher{}
	}
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("reconciliation.service"),
		genID:     p.GenID,
		clock:     clk,
		repo:      p.Repo,
		ledger:    p.Ledger,
		companies: p.Companies,
		policy:    p.Policy,
		metrics:   p.Metrics,
		publisher: publisher,
	}
}

func (s *Service) Recalculate(ctx context.Context, companyID snowflake.ID, actor string) (domain.Result, error) {
	shopID, err := shopFromContext(ctx)
	if err != nil {
		return domain.Result{}, err
	}

	var (
		result     domain.Result
		externalID string
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		company, err := s.companies.LockCompany(ctx, tx, shopID, companyID)
		if err != nil {
			return err
		}
		if company == nil {
			return companydomain.ErrCompanyNotFound
		}
		externalID = company.ExternalID

		computed, _, err := s.compute(ctx, tx, company)
		if err != nil {
			return err
		}

		row := &domain.Reconciliation{
			ID:                s.genID.Generate(),
			ShopID:            company.ShopID,
			CompanyID:         company.ID,
			CreditLimit:       computed.CreditLimit,
			UsedCredit:        computed.UsedCredit,
			PendingCredit:     computed.PendingCredit,
			AvailableCredit:   computed.AvailableCredit,
			LedgerBalance:     computed.LedgerBalance,
			Drift:             computed.Drift,
			HasDrift:          computed.HasDrift,
			OutstandingOrders: computed.UnpaidOrdersCount,
			TriggeredBy:       actorOrSystem(actor),
			CreatedAt:         s.clock.Now(),
		}
		if err := s.repo.Insert(ctx, tx, row); err != nil {
			return err
		}
		computed.ReconciliationID = &row.ID
		result = computed
		return nil
	})
	if err != nil {
		return domain.Result{}, err
	}

	s.publisher.Publish(ctx, creditdomain.CreditChanged{
		ShopID:            shopID,
		CompanyID:         result.CompanyID,
		CompanyExternalID: externalID,
		Cause:             creditdomain.CauseReconciled,
		Credit: creditdomain.Availability{
			CreditLimit:     result.CreditLimit,
			UsedCredit:      result.UsedCredit,
			PendingCredit:   result.PendingCredit,
			AvailableCredit: result.AvailableCredit,
		},
		OccurredAt: s.clock.Now(),
	})

	if result.HasDrift {
		s.metrics.IncDriftDetected()
		obslogger.WithContext(ctx, s.log).Warn("credit drift detected",
			zap.String("company_id", result.CompanyID.String()),
			zap.String("available_credit", result.AvailableCredit.String()),
			zap.String("ledger_balance", result.LedgerBalance.Decimal.String()),
			zap.String("drift", result.Drift.String()),
		)
	}
	return result, nil
}

func (s *Service) PreviewRecalculation(ctx context.Context, companyID snowflake.ID) (domain.Preview, error) {
	shopID, err := shopFromContext(ctx)
	if err != nil {
		return domain.Preview{}, err
	}
	company, err := s.companies.FindCompany(ctx, s.db, shopID, companyID)
	if err != nil {
		return domain.Preview{}, err
	}
	if company == nil {
		return domain.Preview{}, companydomain.ErrCompanyNotFound
	}

	computed, orders, err := s.compute(ctx, s.db, company)
	if err != nil {
		return domain.Preview{}, err
	}
	if orders == nil {
		orders = []creditdomain.OutstandingOrder{}
	}
	return domain.Preview{Result: computed, Orders: orders}, nil
}

func (s *Service) compute(ctx context.Context, db *gorm.DB, company *companydomain.Company) (domain.Result, []creditdomain.OutstandingOrder, error) {
	policy := s.policy.Get()

	orders, err := s.ledger.ListOutstandingOrders(ctx, db, company.ID)
	if err != nil {
		return domain.Result{}, nil, err
	}
	availability := creditservice.Compute(company.CreditLimit, orders, policy.PendingMode)

	latest, err := s.ledger.LatestTransaction(ctx, db, company.ID)
	if err != nil {
		return domain.Result{}, nil, err
	}
	baseline := company.CreditLimit
	ledgerBalance := decimal.NullDecimal{}
	if latest != nil {
		baseline = latest.NewBalance
		ledgerBalance = decimal.NewNullDecimal(latest.NewBalance)
	}

	drift := availability.AvailableCredit.Sub(baseline)
	tolerance, err := money.Parse(policy.DriftTolerance)
	if err != nil {
		tolerance = money.Zero
	}

	return domain.Result{
		CompanyID:         company.ID,
		UnpaidOrdersTotal: availability.UsedCredit,
		UnpaidOrdersCount: len(orders),
		CreditLimit:       availability.CreditLimit,
		UsedCredit:        availability.UsedCredit,
		PendingCredit:     availability.PendingCredit,
		AvailableCredit:   availability.AvailableCredit,
		LedgerBalance:     ledgerBalance,
		Drift:             drift,
		HasDrift:          drift.Abs().GreaterThan(tolerance.Abs()),
	}, orders, nil
}

// VerifyChain walks the ledger oldest first and reports every entry whose
// own arithmetic or link to its predecessor is broken.
func (s *Service) VerifyChain(ctx context.Context, companyID snowflake.ID) (domain.ChainReport, error) {
	shopID, err := shopFromContext(ctx)
	if err != nil {
		return domain.ChainReport{}, err
	}
	company, err := s.companies.FindCompany(ctx, s.db, shopID, companyID)
	if err != nil {
		return domain.ChainReport{}, err
	}
	if company == nil {
		return domain.ChainReport{}, companydomain.ErrCompanyNotFound
	}

	chain, err := s.ledger.ListChain(ctx, s.db, company.ID)
	if err != nil {
		return domain.ChainReport{}, err
	}
	report := domain.ChainReport{
		CompanyID: company.ID,
		Entries:   len(chain),
		Breaks:    CheckChain(chain),
	}
	report.Valid = len(report.Breaks) == 0
	if !report.Valid {
		obslogger.WithContext(ctx, s.log).Warn("ledger chain broken",
			zap.String("company_id", company.ID.String()),
			zap.Int("breaks", len(report.Breaks)),
		)
	}
	return report, nil
}

// CheckChain expects chain in ledger order.
func CheckChain(chain []creditdomain.CreditTransaction) []domain.ChainBreak {
	breaks := []domain.ChainBreak{}
	for i, txn := range chain {
		expected := txn.PreviousBalance.Add(txn.CreditAmount)
		if !expected.Equal(txn.NewBalance) {
			breaks = append(breaks, domain.ChainBreak{
				TransactionID: txn.ID,
				Kind:          domain.BreakArithmetic,
				Expected:      expected,
				Actual:        txn.NewBalance,
			})
		}
		if i == 0 {
			continue
		}
		prior := chain[i-1].NewBalance
		if !prior.Equal(txn.PreviousBalance) {
			breaks = append(breaks, domain.ChainBreak{
				TransactionID: txn.ID,
				Kind:          domain.BreakLink,
				Expected:      prior,
				Actual:        txn.PreviousBalance,
			})
		}
	}
	return breaks
}

func (s *Service) ListReconciliations(ctx context.Context, companyID snowflake.ID, page pagination.Pagination) (domain.ListReconciliationsResponse, error) {
	shopID, err := shopFromContext(ctx)
	if err != nil {
		return domain.ListReconciliationsResponse{}, err
	}
	company, err := s.companies.FindCompany(ctx, s.db, shopID, companyID)
	if err != nil {
		return domain.ListReconciliationsResponse{}, err
	}
	if company == nil {
		return domain.ListReconciliationsResponse{}, companydomain.ErrCompanyNotFound
	}

	var beforeID snowflake.ID
	if token := strings.TrimSpace(page.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return domain.ListReconciliationsResponse{}, pagination.ErrInvalidPageToken
		}
		beforeID, err = snowflake.ParseString(cursor.ID)
		if err != nil {
			return domain.ListReconciliationsResponse{}, pagination.ErrInvalidPageToken
		}
	}

	limit := page.Limit()
	items, err := s.repo.ListByCompany(ctx, s.db, company.ID, beforeID, limit+1)
	if err != nil {
		return domain.ListReconciliationsResponse{}, err
	}
	items, info, err := pagination.Trim(items, limit, func(r domain.Reconciliation) string {
		return r.ID.String()
	})
	if err != nil {
		return domain.ListReconciliationsResponse{}, err
	}
	if items == nil {
		items = []domain.Reconciliation{}
	}
	return domain.ListReconciliationsResponse{PageInfo: info, Reconciliations: items}, nil
}

func shopFromContext(ctx context.Context) (string, error) {
	shopID, ok := shopcontext.ShopIDFromContext(ctx)
	if !ok {
		return "", companydomain.ErrInvalidShop
	}
	return shopID, nil
}

func actorOrSystem(actor string) string {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return "system"
	}
	return actor
}
