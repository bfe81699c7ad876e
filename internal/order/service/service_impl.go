package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tradecredit/internal/clock"
	companydomain "github.com/smallbiznis/tradecredit/internal/company/domain"
	creditdomain "github.com/smallbiznis/tradecredit/internal/credit/domain"
	"github.com/smallbiznis/tradecredit/internal/money"
	obsmetrics "github.com/smallbiznis/tradecredit/internal/observability/metrics"
	"github.com/smallbiznis/tradecredit/internal/order/domain"
	"github.com/smallbiznis/tradecredit/internal/shopcontext"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultPaymentMethod = "manual"

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock `optional:"true"`
	Repo       domain.Repository
	Companies  companydomain.Repository
	Ledger     creditdomain.Ledger
	Publisher  creditdomain.EventPublisher `optional:"true"`
	Remote     domain.RemoteOrders         `optional:"true"`
	ObsMetrics *obsmetrics.Metrics         `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	companies  companydomain.Repository
	ledger     creditdomain.Ledger
	publisher  creditdomain.EventPublisher
	remote     domain.RemoteOrders
	obsMetrics *obsmetrics.Metrics
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
		db:         p.DB,
		log:        p.Log.Named("order.service"),
		genID:      p.GenID,
		clock:      clk,
		repo:       p.Repo,
		companies:  p.Companies,
		ledger:     p.Ledger,
		publisher:  publisher,
		remote:     p.Remote,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) CreateOrder(ctx context.Context, req domain.CreateOrderRequest) (domain.CreateOrderResult, error) {
	shopID, err := shopFromContext(ctx)
	if err != nil {
		return domain.CreateOrderResult{}, err
	}
	if !money.IsValidCharge(req.OrderTotal) {
		return domain.CreateOrderResult{}, creditdomain.ErrInvalidAmount
	}
	status := req.OrderStatus
	if status == "" {
		status = domain.OrderSubmitted
	}
	if status != domain.OrderDraft && status != domain.OrderSubmitted {
		return domain.CreateOrderResult{}, domain.ErrInvalidStatus
	}

	var userID *snowflake.ID
	if req.UserID != 0 {
		id := req.UserID
		userID = &id
	}

	var (
		result  domain.CreateOrderResult
		company *companydomain.Company
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		company, err = s.lockCompany(ctx, tx, shopID, req.CompanyID)
		if err != nil {
			return err
		}

		decision, err := s.ledger.Authorize(ctx, tx, company.ID, userID, req.OrderTotal)
		if err != nil {
			return err
		}
		if !decision.Admitted {
			return decision.Err()
		}

		now := s.clock.Now()
		order := &domain.Order{
			ID:               s.genID.Generate(),
			ShopID:           shopID,
			CompanyID:        company.ID,
			CreatedByUserID:  userID,
			OrderTotal:       req.OrderTotal,
			PaidAmount:       money.Zero,
			RemainingBalance: money.Zero,
			CreditUsed:       money.Zero,
			UserCreditUsed:   money.Zero,
			RestoredAmount:   money.Zero,
			PaymentStatus:    domain.PaymentPending,
			OrderStatus:      status,
			Notes:            strings.TrimSpace(req.Notes),
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		order.OrderNumber = strings.TrimSpace(req.OrderNumber)
		if order.OrderNumber == "" {
			order.OrderNumber = "B2B-" + order.ID.String()
		}
		if draftID := strings.TrimSpace(req.ExternalDraftID); draftID != "" {
			order.ExternalDraftID = &draftID
		}
		if err := s.repo.Insert(ctx, tx, order); err != nil {
			return err
		}

		if _, err := s.ledger.DeductCredit(ctx, tx, company.ID, order.ID, order.OrderTotal, req.Actor); err != nil {
			return err
		}

		stored, err := s.repo.FindByID(ctx, tx, shopID, order.ID)
		if err != nil {
			return err
		}
		if stored == nil {
			return domain.ErrOrderNotFound
		}
		credit, err := s.ledger.Availability(ctx, tx, company.ID)
		if err != nil {
			return err
		}
		result = domain.CreateOrderResult{Order: *stored, Credit: credit}
		return nil
	})
	if err != nil {
		return domain.CreateOrderResult{}, err
	}

	s.log.Info("order created",
		zap.String("order_id", result.Order.ID.String()),
		zap.String("company_id", result.Order.CompanyID.String()),
		zap.String("order_total", result.Order.OrderTotal.String()),
	)
	s.publish(ctx, company, creditdomain.TransactionOrderCreated, result.Order.ID, result.Credit)
	return result, nil
}

func (s *Service) GetOrder(ctx context.Context, id snowflake.ID) (domain.OrderDetail, error) {
	shopID, err := shopFromContext(ctx)
	if err != nil {
		return domain.OrderDetail{}, err
	}
	order, err := s.repo.FindByID(ctx, s.db, shopID, id)
	if err != nil {
		return domain.OrderDetail{}, err
	}
	if order == nil {
		return domain.OrderDetail{}, domain.ErrOrderNotFound
	}
	payments, err := s.repo.ListPayments(ctx, s.db, order.ID)
	if err != nil {
		return domain.OrderDetail{}, err
	}
	if payments == nil {
		payments = []domain.OrderPayment{}
	}
	return domain.OrderDetail{Order: *order, Payments: payments}, nil
}

// ProcessPayment records money received against an order. The ledger entry
// is written before the order figures change so its previous balance still
// counts the unpaid amount.
func (s *Service) ProcessPayment(ctx context.Context, req domain.ProcessPaymentRequest) (domain.PaymentResult, error) {
	shopID, err := shopFromContext(ctx)
	if err != nil {
		return domain.PaymentResult{}, err
	}
	if !money.IsValidCharge(req.Amount) {
		return domain.PaymentResult{}, creditdomain.ErrInvalidAmount
	}
	method := strings.ToLower(strings.TrimSpace(req.Method))
	if method == "" {
		method = defaultPaymentMethod
	}
	if len(method) > 64 {
		return domain.PaymentResult{}, domain.ErrInvalidPaymentMethod
	}

	var (
		result  domain.PaymentResult
		company *companydomain.Company
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order *domain.Order
		company, order, err = s.lockOrder(ctx, tx, shopID, req.OrderID)
		if err != nil {
			return err
		}
		if order.Cancelled() {
			return domain.ErrAlreadyCancelled
		}
		if order.PaymentStatus == domain.PaymentPaid {
			return domain.ErrAlreadyPaid
		}
		if req.Amount.GreaterThan(order.RemainingBalance) {
			return &domain.PaymentExceedsBalanceError{Requested: req.Amount, Remaining: order.RemainingBalance}
		}

		if _, err := s.ledger.RecordTransaction(ctx, tx, creditdomain.TransactionInput{
			CompanyID:    company.ID,
			OrderID:      &order.ID,
			UserID:       order.CreatedByUserID,
			Type:         creditdomain.TransactionPaymentReceived,
			SignedAmount: req.Amount,
			Actor:        req.Actor,
			Notes:        fmt.Sprintf("Payment for order %s via %s", order.OrderNumber, method),
		}); err != nil {
			return err
		}

		if order.CreatedByUserID != nil && money.IsPositive(order.UserCreditUsed) {
			release := money.Min(req.Amount, order.UserCreditUsed)
			if err := s.ledger.ReleaseUserCredit(ctx, tx, *order.CreatedByUserID, release); err != nil {
				return err
			}
			order.UserCreditUsed = order.UserCreditUsed.Sub(release)
		}

		now := s.clock.Now()
		order.PaidAmount = order.PaidAmount.Add(req.Amount)
		order.RemainingBalance = order.RemainingBalance.Sub(req.Amount)
		order.UpdatedAt = now
		if order.RemainingBalance.IsZero() {
			order.PaymentStatus = domain.PaymentPaid
			order.PaidAt = &now
		} else {
			order.PaymentStatus = domain.PaymentPartial
		}
		if err := s.repo.Update(ctx, tx, order); err != nil {
			return err
		}

		payment := domain.OrderPayment{
			ID:         s.genID.Generate(),
			ShopID:     shopID,
			OrderID:    order.ID,
			CompanyID:  company.ID,
			Amount:     req.Amount,
			Method:     method,
			Status:     domain.PaymentStatusReceived,
			Notes:      strings.TrimSpace(req.Notes),
			ReceivedAt: now,
			CreatedBy:  actorOrSystem(req.Actor),
		}
		if err := s.repo.InsertPayment(ctx, tx, &payment); err != nil {
			return err
		}

		credit, err := s.ledger.Availability(ctx, tx, company.ID)
		if err != nil {
			return err
		}
		result = domain.PaymentResult{Payment: payment, Order: *order, Credit: credit}
		return nil
	})
	if err != nil {
		return domain.PaymentResult{}, err
	}

	s.obsMetrics.RecordPayment(ctx, result.Payment.Method, string(result.Order.PaymentStatus))
	s.log.Info("payment received",
		zap.String("order_id", result.Order.ID.String()),
		zap.String("amount", result.Payment.Amount.String()),
		zap.String("payment_status", string(result.Order.PaymentStatus)),
	)
	s.publish(ctx, company, creditdomain.TransactionPaymentReceived, result.Order.ID, result.Credit)
	return result, nil
}

// CancelOrder restores the unpaid balance to the company and closes both
// status axes. Removing the storefront draft happens after commit and can
// only degrade the result, never fail it.
func (s *Service) CancelOrder(ctx context.Context, req domain.CancelOrderRequest) (domain.CancelResult, error) {
	shopID, err := shopFromContext(ctx)
	if err != nil {
		return domain.CancelResult{}, err
	}

	var (
		result  domain.CancelResult
		company *companydomain.Company
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order *domain.Order
		company, order, err = s.lockOrder(ctx, tx, shopID, req.OrderID)
		if err != nil {
			return err
		}
		switch {
		case order.Cancelled():
			return domain.ErrAlreadyCancelled
		case order.OrderStatus == domain.OrderShipped, order.OrderStatus == domain.OrderDelivered:
			return domain.ErrOrderNotCancellable
		case order.PaymentStatus == domain.PaymentPaid:
			return domain.ErrAlreadyPaid
		}

		restored := order.RemainingBalance
		if money.IsPositive(restored) {
			if _, err := s.ledger.RestoreCredit(ctx, tx, company.ID, order.ID, restored, req.Actor, creditdomain.RestoreCancelled); err != nil {
				return err
			}
			order, err = s.repo.LockByID(ctx, tx, shopID, order.ID)
			if err != nil {
				return err
			}
			if order == nil {
				return domain.ErrOrderNotFound
			}
		}

		now := s.clock.Now()
		order.RestoredAmount = restored
		order.RemainingBalance = money.Zero
		order.PaymentStatus = domain.PaymentCancelled
		order.OrderStatus = domain.OrderCancelled
		order.CancelledAt = &now
		order.UpdatedAt = now
		if err := s.repo.Update(ctx, tx, order); err != nil {
			return err
		}

		credit, err := s.ledger.Availability(ctx, tx, company.ID)
		if err != nil {
			return err
		}
		result = domain.CancelResult{
			Order:          *order,
			CreditRestored: money.IsPositive(restored),
			RestoredAmount: restored,
			Credit:         credit,
		}
		return nil
	})
	if err != nil {
		return domain.CancelResult{}, err
	}

	result.RemoteSync = s.cancelRemoteDraft(ctx, shopID, result.Order)
	s.obsMetrics.RecordCancellation(ctx, result.CreditRestored)
	s.log.Info("order cancelled",
		zap.String("order_id", result.Order.ID.String()),
		zap.String("restored_amount", result.RestoredAmount.String()),
		zap.String("actor", actorOrSystem(req.Actor)),
	)
	s.publish(ctx, company, creditdomain.TransactionOrderCancelled, result.Order.ID, result.Credit)
	return result, nil
}

func (s *Service) cancelRemoteDraft(ctx context.Context, shopID string, order domain.Order) domain.RemoteSync {
	if s.remote == nil || order.ExternalDraftID == nil {
		return domain.RemoteSync{}
	}
	outcome := domain.RemoteSync{Attempted: true}
	if err := s.remote.CancelDraftOrder(ctx, shopID, *order.ExternalDraftID); err != nil {
		err = fmt.Errorf("%w: %v", creditdomain.ErrSyncFailure, err)
		outcome.Error = err.Error()
		s.obsMetrics.RecordSyncFailure(ctx, "draft_order")
		s.log.Warn("remote draft order cancel failed",
			zap.String("order_id", order.ID.String()),
			zap.String("draft_id", *order.ExternalDraftID),
			zap.Error(err),
		)
		return outcome
	}
	outcome.Succeeded = true
	return outcome
}

// UpdateOrderStatus moves an order forward on the fulfilment path. It has no
// credit effect.
func (s *Service) UpdateOrderStatus(ctx context.Context, id snowflake.ID, status domain.OrderStatus) (domain.Order, error) {
	shopID, err := shopFromContext(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	status = domain.OrderStatus(strings.ToLower(strings.TrimSpace(string(status))))
	if !status.Valid() {
		return domain.Order{}, domain.ErrInvalidStatus
	}
	if status == domain.OrderCancelled {
		return domain.Order{}, domain.ErrInvalidTransition
	}

	var out domain.Order
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := s.repo.LockByID(ctx, tx, shopID, id)
		if err != nil {
			return err
		}
		if order == nil {
			return domain.ErrOrderNotFound
		}
		if order.Cancelled() {
			return domain.ErrAlreadyCancelled
		}
		if !order.OrderStatus.CanAdvanceTo(status) {
			return domain.ErrInvalidTransition
		}

		order.OrderStatus = status
		order.UpdatedAt = s.clock.Now()
		if err := s.repo.Update(ctx, tx, order); err != nil {
			return err
		}
		out = *order
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return out, nil
}

// lockOrder takes the company lock before the order lock, the same order
// every credit path uses.
func (s *Service) lockOrder(ctx context.Context, tx *gorm.DB, shopID string, orderID snowflake.ID) (*companydomain.Company, *domain.Order, error) {
	peek, err := s.repo.FindByID(ctx, tx, shopID, orderID)
	if err != nil {
		return nil, nil, err
	}
	if peek == nil {
		return nil, nil, domain.ErrOrderNotFound
	}
	company, err := s.lockCompany(ctx, tx, shopID, peek.CompanyID)
	if err != nil {
		return nil, nil, err
	}
	order, err := s.repo.LockByID(ctx, tx, shopID, orderID)
	if err != nil {
		return nil, nil, err
	}
	if order == nil {
		return nil, nil, domain.ErrOrderNotFound
	}
	return company, order, nil
}

func (s *Service) lockCompany(ctx context.Context, tx *gorm.DB, shopID string, companyID snowflake.ID) (*companydomain.Company, error) {
	company, err := s.companies.LockCompany(ctx, tx, shopID, companyID)
	if err != nil {
		return nil, err
	}
	if company == nil {
		return nil, companydomain.ErrCompanyNotFound
	}
	return company, nil
}

func (s *Service) publish(ctx context.Context, company *companydomain.Company, cause creditdomain.TransactionType, orderID snowflake.ID, credit creditdomain.Availability) {
	if company == nil {
		return
	}
	s.publisher.Publish(ctx, creditdomain.CreditChanged{
		ShopID:            company.ShopID,
		CompanyID:         company.ID,
		CompanyExternalID: company.ExternalID,
		Cause:             cause,
		OrderID:           &orderID,
		Credit:            credit,
		OccurredAt:        s.clock.Now(),
	})
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
