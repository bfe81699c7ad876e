package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	companydomain "github.com/smallbiznis/tradecredit/internal/company/domain"
	"github.com/smallbiznis/tradecredit/internal/credit/domain"
	"github.com/smallbiznis/tradecredit/internal/money"
	"github.com/smallbiznis/tradecredit/pkg/db/pagination"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func (s *Service) GetCreditSummary(ctx context.Context, companyID snowflake.ID) (domain.Summary, error) {
	availability, err := s.Availability(ctx, s.db, companyID)
	if err != nil {
		return domain.Summary{}, err
	}

	limit := s.policy.Get().RecentTransactions
	recent, err := s.repo.ListTransactions(ctx, s.db, companyID, 0, limit)
	if err != nil {
		return domain.Summary{}, err
	}
	if recent == nil {
		recent = []domain.CreditTransaction{}
	}
	return domain.Summary{Availability: availability, RecentTransactions: recent}, nil
}

// CanCreateOrder answers the storefront's pre-checkout question using the
// company limit alone.
func (s *Service) CanCreateOrder(ctx context.Context, companyID snowflake.ID, amount decimal.Decimal) (domain.OrderAdmission, error) {
	if !money.IsValidCharge(amount) {
		return domain.OrderAdmission{}, domain.ErrInvalidAmount
	}
	availability, err := s.Availability(ctx, s.db, companyID)
	if err != nil {
		return domain.OrderAdmission{}, err
	}

	admission := domain.OrderAdmission{
		Admitted:        !amount.GreaterThan(availability.AvailableCredit),
		AvailableCredit: availability.AvailableCredit,
	}
	if !admission.Admitted {
		admission.Message = fmt.Sprintf("Order total %s exceeds available credit %s",
			money.Format(amount), money.Format(availability.AvailableCredit))
	}
	s.obsMetrics.RecordCreditDecision(ctx, admission.Admitted, limitingLabel(admission.Admitted))
	return admission, nil
}

func limitingLabel(admitted bool) string {
	if admitted {
		return ""
	}
	return string(domain.LimitingCompany)
}

func (s *Service) CanAuthorize(ctx context.Context, companyID snowflake.ID, userID *snowflake.ID, amount decimal.Decimal) (domain.Decision, error) {
	return s.Authorize(ctx, s.db, companyID, userID, amount)
}

func (s *Service) ListTransactions(ctx context.Context, companyID snowflake.ID, page pagination.Pagination) (domain.ListTransactionsResponse, error) {
	if _, err := s.loadCompany(ctx, s.db, companyID); err != nil {
		return domain.ListTransactionsResponse{}, err
	}

	var beforeID snowflake.ID
	if token := strings.TrimSpace(page.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return domain.ListTransactionsResponse{}, pagination.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return domain.ListTransactionsResponse{}, pagination.ErrInvalidPageToken
		}
		beforeID = id
	}

	limit := page.Limit()
	items, err := s.repo.ListTransactions(ctx, s.db, companyID, beforeID, limit+1)
	if err != nil {
		return domain.ListTransactionsResponse{}, err
	}
	items, info, err := pagination.Trim(items, limit, func(t domain.CreditTransaction) string {
		return t.ID.String()
	})
	if err != nil {
		return domain.ListTransactionsResponse{}, err
	}
	if items == nil {
		items = []domain.CreditTransaction{}
	}
	return domain.ListTransactionsResponse{PageInfo: info, Transactions: items}, nil
}

// AdjustCreditLimit sets a new company limit and records the delta as a
// credit_adjustment entry. An unchanged limit writes nothing.
func (s *Service) AdjustCreditLimit(ctx context.Context, req domain.AdjustCreditLimitRequest) (domain.AdjustCreditLimitResult, error) {
	if req.NewLimit.IsNegative() || !money.IsStorable(req.NewLimit) {
		return domain.AdjustCreditLimitResult{}, domain.ErrInvalidAmount
	}

	var result domain.AdjustCreditLimitResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		company, err := s.lockCompany(ctx, tx, req.CompanyID)
		if err != nil {
			return err
		}

		delta := req.NewLimit.Sub(company.CreditLimit)
		if !delta.IsZero() {
			notes := strings.TrimSpace(req.Notes)
			if notes == "" {
				notes = fmt.Sprintf("Credit limit changed from %s to %s",
					money.Format(company.CreditLimit), money.Format(req.NewLimit))
			}
			txnID, err := s.RecordTransaction(ctx, tx, domain.TransactionInput{
				CompanyID:    company.ID,
				Type:         domain.TransactionCreditAdjustment,
				SignedAmount: delta,
				Actor:        req.Actor,
				Notes:        notes,
			})
			if err != nil {
				return err
			}
			result.TransactionID = &txnID

			now := s.clock.Now()
			if err := s.companies.UpdateCreditLimit(ctx, tx, company.ID, req.NewLimit, now); err != nil {
				return err
			}
			company.CreditLimit = req.NewLimit
			company.UpdatedAt = now
		}

		availability, err := s.availabilityFor(ctx, tx, company)
		if err != nil {
			return err
		}
		result.Company = *company
		result.Credit = availability
		return nil
	})
	if err != nil {
		return domain.AdjustCreditLimitResult{}, err
	}

	if result.TransactionID != nil {
		s.log.Info("credit limit adjusted",
			zap.String("company_id", result.Company.ID.String()),
			zap.String("credit_limit", result.Company.CreditLimit.String()),
			zap.String("actor", normalizeActor(req.Actor)),
		)
		s.publisher.Publish(ctx, domain.CreditChanged{
			ShopID:            result.Company.ShopID,
			CompanyID:         result.Company.ID,
			CompanyExternalID: result.Company.ExternalID,
			Cause:             domain.TransactionCreditAdjustment,
			Credit:            result.Credit,
			OccurredAt:        s.clock.Now(),
		})
	}
	return result, nil
}

// SetUserCreditLimit engages, changes or (with a nil limit) removes a user's
// personal sub-limit.
func (s *Service) SetUserCreditLimit(ctx context.Context, userID snowflake.ID, limit *decimal.Decimal) (companydomain.User, error) {
	if limit != nil && (limit.IsNegative() || !money.IsStorable(*limit)) {
		return companydomain.User{}, domain.ErrInvalidAmount
	}
	shopID, err := shopFromContext(ctx)
	if err != nil {
		return companydomain.User{}, err
	}

	var out companydomain.User
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := s.companies.LockUser(ctx, tx, shopID, userID)
		if err != nil {
			return err
		}
		if user == nil {
			return companydomain.ErrUserNotFound
		}

		next := decimal.NullDecimal{}
		if limit != nil {
			if limit.LessThan(user.UserCreditUsed) {
				return domain.ErrLimitBelowUsage
			}
			next = decimal.NewNullDecimal(*limit)
		}

		now := s.clock.Now()
		if err := s.companies.UpdateUserCreditLimit(ctx, tx, user.ID, next, now); err != nil {
			return err
		}
		user.UserCreditLimit = next
		user.UpdatedAt = now
		out = *user
		return nil
	})
	if err != nil {
		return companydomain.User{}, err
	}
	return out, nil
}
