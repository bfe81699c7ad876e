package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	companydomain "github.com/smallbiznis/tradecredit/internal/company/domain"
	"github.com/smallbiznis/tradecredit/internal/config"
	"github.com/smallbiznis/tradecredit/internal/credit/domain"
	"github.com/smallbiznis/tradecredit/internal/money"
	orderdomain "github.com/smallbiznis/tradecredit/internal/order/domain"
	"gorm.io/gorm"
)

// Availability derives the company's credit position from its limit and its
// unpaid, non-cancelled orders.
func (s *Service) Availability(ctx context.Context, tx *gorm.DB, companyID snowflake.ID) (domain.Availability, error) {
	company, err := s.loadCompany(ctx, tx, companyID)
	if err != nil {
		return domain.Availability{}, err
	}
	return s.availabilityFor(ctx, tx, company)
}

func (s *Service) availabilityFor(ctx context.Context, tx *gorm.DB, company *companydomain.Company) (domain.Availability, error) {
	outstanding, err := s.repo.ListOutstandingOrders(ctx, tx, company.ID)
	if err != nil {
		return domain.Availability{}, err
	}
	return Compute(company.CreditLimit, outstanding, s.policy.Get().PendingMode), nil
}

// Compute is the availability formula. UsedCredit sums remaining balances;
// PendingCredit narrows that to orders not yet shipped, or is zero when
// pendingMode is config.PendingModeZero. Admission only ever looks at
// AvailableCredit.
func Compute(limit decimal.Decimal, outstanding []domain.OutstandingOrder, pendingMode string) domain.Availability {
	used := money.Zero
	pending := money.Zero
	for _, o := range outstanding {
		used = used.Add(o.RemainingBalance)
		if pendingMode != config.PendingModeZero && orderdomain.OrderStatus(o.OrderStatus).Pending() {
			pending = pending.Add(o.RemainingBalance)
		}
	}
	return domain.Availability{
		CreditLimit:     limit,
		UsedCredit:      used,
		PendingCredit:   pending,
		AvailableCredit: limit.Sub(used),
	}
}
