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
	orderdomain "github.com/smallbiznis/tradecredit/internal/order/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Authorize runs the tiered check: the company limit first, then the user's
// personal sub-limit when one is set. It never writes.
func (s *Service) Authorize(ctx context.Context, tx *gorm.DB, companyID snowflake.ID, userID *snowflake.ID, amount decimal.Decimal) (domain.Decision, error) {
	if !money.IsValidCharge(amount) {
		return domain.Decision{}, domain.ErrInvalidAmount
	}

	company, err := s.loadCompany(ctx, tx, companyID)
	if err != nil {
		return domain.Decision{}, err
	}
	availability, err := s.availabilityFor(ctx, tx, company)
	if err != nil {
		return domain.Decision{}, err
	}

	decision := domain.Decision{
		Admitted:  true,
		Requested: amount,
		Shortfall: money.Zero,
		Available: availability.AvailableCredit,
		Company:   availability,
	}

	if amount.GreaterThan(availability.AvailableCredit) {
		deny(&decision, domain.LimitingCompany, availability.AvailableCredit)
		s.obsMetrics.RecordCreditDecision(ctx, false, string(domain.LimitingCompany))
		return decision, nil
	}

	if userID != nil {
		user, err := s.companies.FindUser(ctx, tx, company.ShopID, *userID)
		if err != nil {
			return domain.Decision{}, err
		}
		if user == nil || !user.BelongsTo(company.ID) {
			return domain.Decision{}, companydomain.ErrUserNotFound
		}
		if user.HasPersonalLimit() {
			personal := user.PersonalAvailable()
			if amount.GreaterThan(personal) {
				deny(&decision, domain.LimitingUser, personal)
				s.obsMetrics.RecordCreditDecision(ctx, false, string(domain.LimitingUser))
				return decision, nil
			}
			decision.Available = money.Min(decision.Available, personal)
		}
	}

	s.obsMetrics.RecordCreditDecision(ctx, true, "")
	return decision, nil
}

// RecordTransaction appends a ledger entry chained to the company's current
// availability. The caller must hold the company lock and must record the
// entry before mutating the figures it describes.
func (s *Service) RecordTransaction(ctx context.Context, tx *gorm.DB, in domain.TransactionInput) (snowflake.ID, error) {
	if !in.Type.Valid() {
		return 0, domain.ErrInvalidTransaction
	}

	company, err := s.loadCompany(ctx, tx, in.CompanyID)
	if err != nil {
		return 0, err
	}
	availability, err := s.availabilityFor(ctx, tx, company)
	if err != nil {
		return 0, err
	}

	txn := &domain.CreditTransaction{
		ID:              s.genID.Generate(),
		ShopID:          company.ShopID,
		CompanyID:       company.ID,
		UserID:          in.UserID,
		OrderID:         in.OrderID,
		TransactionType: in.Type,
		CreditAmount:    in.SignedAmount,
		PreviousBalance: availability.AvailableCredit,
		NewBalance:      availability.AvailableCredit.Add(in.SignedAmount),
		Notes:           strings.TrimSpace(in.Notes),
		CreatedBy:       normalizeActor(in.Actor),
		CreatedAt:       s.clock.Now(),
	}

	id := txn.ID
	if in.Type == domain.TransactionOrderCreated {
		if in.OrderID == nil {
			return 0, domain.ErrInvalidTransaction
		}
		key := orderCreatedKey(company.ID, *in.OrderID)
		txn.IdempotencyKey = &key
		id, err = s.repo.UpsertOrderCreated(ctx, tx, txn)
	} else {
		err = s.repo.InsertTransaction(ctx, tx, txn)
	}
	if err != nil {
		return 0, err
	}

	s.obsMetrics.RecordLedgerEntry(ctx, string(in.Type))
	return id, nil
}

func deny(d *domain.Decision, factor domain.LimitingFactor, available decimal.Decimal) {
	d.Admitted = false
	d.LimitingFactor = factor
	d.Available = available
	d.Shortfall = d.Requested.Sub(available)
	d.Reason = fmt.Sprintf("Order total %s exceeds available %s credit %s",
		money.Format(d.Requested), factor, money.Format(available))
}

func orderCreatedKey(companyID, orderID snowflake.ID) string {
	return fmt.Sprintf("%d:%d:%s", companyID, orderID, domain.TransactionOrderCreated)
}

// DeductCredit debits an order's total against the company and returns the
// new available balance. Repeating it for the same order replaces the
// earlier deduction instead of stacking a second one.
func (s *Service) DeductCredit(ctx context.Context, tx *gorm.DB, companyID, orderID snowflake.ID, amount decimal.Decimal, actor string) (decimal.Decimal, error) {
	if !money.IsValidCharge(amount) {
		return money.Zero, domain.ErrInvalidAmount
	}

	company, err := s.lockCompany(ctx, tx, companyID)
	if err != nil {
		return money.Zero, err
	}
	order, err := s.lockOrder(ctx, tx, company, orderID)
	if err != nil {
		return money.Zero, err
	}
	if order.Cancelled() {
		return money.Zero, orderdomain.ErrAlreadyCancelled
	}
	if money.IsPositive(order.PaidAmount) {
		return money.Zero, domain.ErrDeductAfterPayment
	}

	now := s.clock.Now()
	if money.IsPositive(order.RemainingBalance) {
		s.log.Info("replacing earlier deduction",
			zap.String("order_id", order.ID.String()),
			zap.String("previous", order.RemainingBalance.String()),
			zap.String("amount", amount.String()),
		)
		order.RemainingBalance = money.Zero
		order.UpdatedAt = now
		if err := s.orders.Update(ctx, tx, order); err != nil {
			return money.Zero, err
		}
	}

	txnID, err := s.RecordTransaction(ctx, tx, domain.TransactionInput{
		CompanyID:    company.ID,
		OrderID:      &order.ID,
		UserID:       order.CreatedByUserID,
		Type:         domain.TransactionOrderCreated,
		SignedAmount: amount.Neg(),
		Actor:        actor,
		Notes:        fmt.Sprintf("Order %s", order.OrderNumber),
	})
	if err != nil {
		return money.Zero, err
	}

	userCharge := money.Zero
	if order.CreatedByUserID != nil {
		user, err := s.companies.LockUser(ctx, tx, company.ShopID, *order.CreatedByUserID)
		if err != nil {
			return money.Zero, err
		}
		if user != nil && user.HasPersonalLimit() {
			used := money.ClampZero(user.UserCreditUsed.Add(amount).Sub(order.UserCreditUsed))
			if err := s.companies.UpdateUserCreditUsed(ctx, tx, user.ID, used, now); err != nil {
				return money.Zero, err
			}
			userCharge = amount
		} else if user != nil && money.IsPositive(order.UserCreditUsed) {
			used := money.ClampZero(user.UserCreditUsed.Sub(order.UserCreditUsed))
			if err := s.companies.UpdateUserCreditUsed(ctx, tx, user.ID, used, now); err != nil {
				return money.Zero, err
			}
		}
	}

	order.CreditUsed = amount
	order.RemainingBalance = amount
	order.UserCreditUsed = userCharge
	order.UpdatedAt = now
	if err := s.orders.Update(ctx, tx, order); err != nil {
		return money.Zero, err
	}

	txn, err := s.repo.FindTransaction(ctx, tx, txnID)
	if err != nil {
		return money.Zero, err
	}
	if txn == nil {
		return money.Zero, domain.ErrInvalidTransaction
	}
	return txn.NewBalance, nil
}

// RestoreCredit returns amount to the company for a cancelled or refunded
// order and releases the user's share. The caller zeroes the order's
// remaining balance afterwards. A zero amount writes nothing.
func (s *Service) RestoreCredit(ctx context.Context, tx *gorm.DB, companyID, orderID snowflake.ID, amount decimal.Decimal, actor string, reason domain.RestoreReason) (decimal.Decimal, error) {
	txnType, ok := reason.TransactionType()
	if !ok {
		return money.Zero, domain.ErrInvalidRestoreReason
	}
	if amount.IsNegative() {
		return money.Zero, domain.ErrInvalidAmount
	}

	company, err := s.lockCompany(ctx, tx, companyID)
	if err != nil {
		return money.Zero, err
	}
	order, err := s.lockOrder(ctx, tx, company, orderID)
	if err != nil {
		return money.Zero, err
	}

	if amount.IsZero() {
		availability, err := s.availabilityFor(ctx, tx, company)
		if err != nil {
			return money.Zero, err
		}
		return availability.AvailableCredit, nil
	}

	txnID, err := s.RecordTransaction(ctx, tx, domain.TransactionInput{
		CompanyID:    company.ID,
		OrderID:      &order.ID,
		UserID:       order.CreatedByUserID,
		Type:         txnType,
		SignedAmount: amount,
		Actor:        actor,
		Notes:        fmt.Sprintf("Order %s %s", order.OrderNumber, reason),
	})
	if err != nil {
		return money.Zero, err
	}

	if order.CreatedByUserID != nil && money.IsPositive(order.UserCreditUsed) {
		if err := s.ReleaseUserCredit(ctx, tx, *order.CreatedByUserID, order.UserCreditUsed); err != nil {
			return money.Zero, err
		}
		order.UserCreditUsed = money.Zero
		order.UpdatedAt = s.clock.Now()
		if err := s.orders.Update(ctx, tx, order); err != nil {
			return money.Zero, err
		}
	}

	txn, err := s.repo.FindTransaction(ctx, tx, txnID)
	if err != nil {
		return money.Zero, err
	}
	if txn == nil {
		return money.Zero, domain.ErrInvalidTransaction
	}
	return txn.NewBalance, nil
}

// ReleaseUserCredit lowers a user's used sub-limit, never below zero.
func (s *Service) ReleaseUserCredit(ctx context.Context, tx *gorm.DB, userID snowflake.ID, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return domain.ErrInvalidAmount
	}
	if amount.IsZero() {
		return nil
	}
	shopID, err := shopFromContext(ctx)
	if err != nil {
		return err
	}
	user, err := s.companies.LockUser(ctx, tx, shopID, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return companydomain.ErrUserNotFound
	}
	used := money.ClampZero(user.UserCreditUsed.Sub(amount))
	return s.companies.UpdateUserCreditUsed(ctx, tx, user.ID, used, s.clock.Now())
}

func (s *Service) lockOrder(ctx context.Context, tx *gorm.DB, company *companydomain.Company, orderID snowflake.ID) (*orderdomain.Order, error) {
	order, err := s.orders.LockByID(ctx, tx, company.ShopID, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil || order.CompanyID != company.ID {
		return nil, orderdomain.ErrOrderNotFound
	}
	return order, nil
}
