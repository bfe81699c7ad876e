package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/tradecredit/internal/clock"
	companydomain "github.com/smallbiznis/tradecredit/internal/company/domain"
	companyrepo "github.com/smallbiznis/tradecredit/internal/company/repository"
	"github.com/smallbiznis/tradecredit/internal/config"
	creditdomain "github.com/smallbiznis/tradecredit/internal/credit/domain"
	creditrepo "github.com/smallbiznis/tradecredit/internal/credit/repository"
	creditservice "github.com/smallbiznis/tradecredit/internal/credit/service"
	"github.com/smallbiznis/tradecredit/internal/money"
	"github.com/smallbiznis/tradecredit/internal/order/domain"
	orderrepo "github.com/smallbiznis/tradecredit/internal/order/repository"
	"github.com/smallbiznis/tradecredit/internal/order/service"
	"github.com/smallbiznis/tradecredit/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type mockRemote struct {
	mock.Mock
}

func (m *mockRemote) CancelDraftOrder(ctx context.Context, shopID, draftID string) error {
	args := m.Called(ctx, shopID, draftID)
	return args.Error(0)
}

type countingPublisher struct {
	mu     sync.Mutex
	causes []creditdomain.TransactionType
}

func (p *countingPublisher) Publish(_ context.Context, event creditdomain.CreditChanged) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.causes = append(p.causes, event.Cause)
}

type harness struct {
	db     *gorm.DB
	node   *snowflake.Node
	svc    domain.Service
	credit *creditservice.Service
	events *countingPublisher
}

func newHarness(t *testing.T, remote domain.RemoteOrders) *harness {
	t.Helper()

	db := testutil.SetupDB(t)
	node := testutil.NewNode(t)
	clk := clock.NewFakeClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	companies := companyrepo.Provide()
	orders := orderrepo.Provide()
	events := &countingPublisher{}

	credit := creditservice.NewService(creditservice.Params{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     node,
		Clock:     clk,
		Repo:      creditrepo.Provide(),
		Companies: companies,
		Orders:    orders,
		Policy:    config.NewStaticCreditPolicyHolder(config.DefaultCreditPolicy()),
	})
	svc := service.New(service.Params{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     node,
		Clock:     clk,
		Repo:      orders,
		Companies: companies,
		Ledger:    credit,
		Publisher: events,
		Remote:    remote,
	})
	return &harness{db: db, node: node, svc: svc, credit: credit, events: events}
}

func (h *harness) create(t *testing.T, companyID snowflake.ID, userID snowflake.ID, total string) domain.Order {
	t.Helper()

	res, err := h.svc.CreateOrder(testutil.ShopContext(), domain.CreateOrderRequest{
		CompanyID:  companyID,
		UserID:     userID,
		OrderTotal: money.MustParse(total),
		Actor:      "buyer@example.com",
	})
	require.NoError(t, err)
	return res.Order
}

func (h *harness) available(t *testing.T, companyID snowflake.ID) decimal.Decimal {
	t.Helper()

	a, err := h.credit.Availability(testutil.ShopContext(), h.db, companyID)
	require.NoError(t, err)
	return a.AvailableCredit
}

func assertDecimal(t *testing.T, expected string, actual decimal.Decimal) {
	t.Helper()
	assert.Truef(t, money.MustParse(expected).Equal(actual), "expected %s, got %s", expected, actual)
}

// assertChain walks the company ledger oldest first and checks every entry
// against its own arithmetic and its predecessor.
func assertChain(t *testing.T, db *gorm.DB, companyID snowflake.ID) []creditdomain.CreditTransaction {
	t.Helper()

	chain, err := creditrepo.Provide().ListChain(testutil.ShopContext(), db, companyID)
	require.NoError(t, err)
	for i, txn := range chain {
		assertDecimal(t, txn.PreviousBalance.Add(txn.CreditAmount).String(), txn.NewBalance)
		if i > 0 {
			assertDecimal(t, chain[i-1].NewBalance.String(), txn.PreviousBalance)
		}
	}
	return chain
}

func TestAdmissionAtTheBoundary(t *testing.T) {
	h := newHarness(t, nil)
	ctx := testutil.ShopContext()
	company := testutil.SeedCompany(t, h.db, h.node, "1000")

	exact, err := h.credit.CanCreateOrder(ctx, company.ID, money.MustParse("1000"))
	require.NoError(t, err)
	assert.True(t, exact.Admitted)

	over, err := h.credit.CanCreateOrder(ctx, company.ID, money.MustParse("1000.01"))
	require.NoError(t, err)
	assert.False(t, over.Admitted)

	_, err = h.svc.CreateOrder(ctx, domain.CreateOrderRequest{CompanyID: company.ID, OrderTotal: money.MustParse("1000.01")})
	var exceeded *creditdomain.CreditExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, creditdomain.LimitingCompany, exceeded.LimitingFactor)
	assertDecimal(t, "0.01", exceeded.Shortfall)
	testutil.AssertCount(t, h.db, `SELECT COUNT(1) FROM orders`, 0)
	testutil.AssertCount(t, h.db, `SELECT COUNT(1) FROM credit_transactions`, 0)
}

func TestPartialThenFullPayment(t *testing.T) {
	h := newHarness(t, nil)
	ctx := testutil.ShopContext()
	company := testutil.SeedCompany(t, h.db, h.node, "1000")
	user := testutil.SeedUser(t, h.db, h.node, company.ID, "")

	order := h.create(t, company.ID, user.ID, "300")
	assert.Equal(t, domain.PaymentPending, order.PaymentStatus)
	assert.Equal(t, domain.OrderSubmitted, order.OrderStatus)
	assertDecimal(t, "300", order.RemainingBalance)
	assertDecimal(t, "700", h.available(t, company.ID))

	first, err := h.svc.ProcessPayment(ctx, domain.ProcessPaymentRequest{OrderID: order.ID, Amount: money.MustParse("120"), Method: "Bank_Transfer"})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPartial, first.Order.PaymentStatus)
	assertDecimal(t, "180", first.Order.RemainingBalance)
	assertDecimal(t, "120", first.Order.PaidAmount)
	assertDecimal(t, "820", first.Credit.AvailableCredit)
	assert.Equal(t, "bank_transfer", first.Payment.Method)
	assert.Equal(t, domain.PaymentStatusReceived, first.Payment.Status)
	assert.True(t, first.Order.Balanced())

	second, err := h.svc.ProcessPayment(ctx, domain.ProcessPaymentRequest{OrderID: order.ID, Amount: money.MustParse("180")})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPaid, second.Order.PaymentStatus)
	assertDecimal(t, "0", second.Order.RemainingBalance)
	require.NotNil(t, second.Order.PaidAt)
	assert.Equal(t, domain.OrderSubmitted, second.Order.OrderStatus)
	assertDecimal(t, "1000", second.Credit.AvailableCredit)
	assert.Equal(t, "manual", second.Payment.Method)

	_, err = h.svc.ProcessPayment(ctx, domain.ProcessPaymentRequest{OrderID: order.ID, Amount: money.MustParse("1")})
	assert.ErrorIs(t, err, domain.ErrAlreadyPaid)

	_, err = h.svc.CancelOrder(ctx, domain.CancelOrderRequest{OrderID: order.ID})
	assert.ErrorIs(t, err, domain.ErrAlreadyPaid)

	detail, err := h.svc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, detail.Payments, 2)

	chain := assertChain(t, h.db, company.ID)
	require.Len(t, chain, 3)
	assert.Equal(t, creditdomain.TransactionPaymentReceived, chain[2].TransactionType)
	assertDecimal(t, "1000", chain[2].NewBalance)
	assert.Equal(t, []creditdomain.TransactionType{
		creditdomain.TransactionOrderCreated,
		creditdomain.TransactionPaymentReceived,
		creditdomain.TransactionPaymentReceived,
	}, h.events.causes)
}

func TestCancelRestoresCredit(t *testing.T) {
	h := newHarness(t, nil)
	ctx := testutil.ShopContext()
	company := testutil.SeedCompany(t, h.db, h.node, "1000")
	order := h.create(t, company.ID, 0, "300")

	res, err := h.svc.CancelOrder(ctx, domain.CancelOrderRequest{OrderID: order.ID, Actor: "admin@acme.test"})
	require.NoError(t, err)
	assert.True(t, res.CreditRestored)
	assertDecimal(t, "300", res.RestoredAmount)
	assertDecimal(t, "0", res.Order.RemainingBalance)
	assertDecimal(t, "1000", res.Credit.AvailableCredit)
	assert.Equal(t, domain.OrderCancelled, res.Order.OrderStatus)
	assert.Equal(t, domain.PaymentCancelled, res.Order.PaymentStatus)
	require.NotNil(t, res.Order.CancelledAt)
	assert.True(t, res.Order.Balanced())
	assert.False(t, res.RemoteSync.Attempted)

	chain := assertChain(t, h.db, company.ID)
	require.Len(t, chain, 2)
	assert.Equal(t, creditdomain.TransactionOrderCancelled, chain[1].TransactionType)
	assertDecimal(t, "300", chain[1].CreditAmount)
	assert.Equal(t, "admin@acme.test", chain[1].CreatedBy)

	_, err = h.svc.CancelOrder(ctx, domain.CancelOrderRequest{OrderID: order.ID})
	assert.ErrorIs(t, err, domain.ErrAlreadyCancelled)

	_, err = h.svc.ProcessPayment(ctx, domain.ProcessPaymentRequest{OrderID: order.ID, Amount: money.MustParse("1")})
	assert.ErrorIs(t, err, domain.ErrAlreadyCancelled)

	_, err = h.svc.UpdateOrderStatus(ctx, order.ID, domain.OrderProcessing)
	assert.ErrorIs(t, err, domain.ErrAlreadyCancelled)
}

func TestCancelPartiallyPaidOrderRestoresRemainder(t *testing.T) {
	h := newHarness(t, nil)
	ctx := testutil.ShopContext()
	company := testutil.SeedCompany(t, h.db, h.node, "1000")
	order := h.create(t, company.ID, 0, "300")

	_, err := h.svc.ProcessPayment(ctx, domain.ProcessPaymentRequest{OrderID: order.ID, Amount: money.MustParse("100")})
	require.NoError(t, err)

	res, err := h.svc.CancelOrder(ctx, domain.CancelOrderRequest{OrderID: order.ID})
	require.NoError(t, err)
	assertDecimal(t, "200", res.RestoredAmount)
	assertDecimal(t, "100", res.Order.PaidAmount)
	assert.True(t, res.Order.Balanced())
	assertDecimal(t, "1000", res.Credit.AvailableCredit)
	assertChain(t, h.db, company.ID)
}

func TestUserSubLimitDeniesOrder(t *testing.T) {
	h := newHarness(t, nil)
	ctx := testutil.ShopContext()
	company := testutil.SeedCompany(t, h.db, h.node, "5000")
	user := testutil.SeedUser(t, h.db, h.node, company.ID, "200")

	_, err := h.svc.CreateOrder(ctx, domain.CreateOrderRequest{
		CompanyID:  company.ID,
		UserID:     user.ID,
		OrderTotal: money.MustParse("250"),
	})
	var exceeded *creditdomain.CreditExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, creditdomain.LimitingUser, exceeded.LimitingFactor)
	assertDecimal(t, "50", exceeded.Shortfall)
	assert.ErrorIs(t, err, creditdomain.ErrCreditExceeded)
}

func TestUserCreditReleasedByPayment(t *testing.T) {
	h := newHarness(t, nil)
	ctx := testutil.ShopContext()
	company := testutil.SeedCompany(t, h.db, h.node, "5000")
	user := testutil.SeedUser(t, h.db, h.node, company.ID, "500")
	companies := companyrepo.Provide()

	order := h.create(t, company.ID, user.ID, "400")
	assertDecimal(t, "400", order.UserCreditUsed)

	_, err := h.svc.CreateOrder(ctx, domain.CreateOrderRequest{CompanyID: company.ID, UserID: user.ID, OrderTotal: money.MustParse("150")})
	assert.ErrorIs(t, err, creditdomain.ErrCreditExceeded)

	res, err := h.svc.ProcessPayment(ctx, domain.ProcessPaymentRequest{OrderID: order.ID, Amount: money.MustParse("100")})
	require.NoError(t, err)
	assertDecimal(t, "300", res.Order.UserCreditUsed)

	stored, err := companies.FindUser(ctx, h.db, testutil.ShopID, user.ID)
	require.NoError(t, err)
	assertDecimal(t, "300", stored.UserCreditUsed)

	h.create(t, company.ID, user.ID, "150")
}

func TestPaymentCannotExceedRemainingBalance(t *testing.T) {
	h := newHarness(t, nil)
	ctx := testutil.ShopContext()
	company := testutil.SeedCompany(t, h.db, h.node, "1000")
	order := h.create(t, company.ID, 0, "100")

	_, err := h.svc.ProcessPayment(ctx, domain.ProcessPaymentRequest{OrderID: order.ID, Amount: money.MustParse("70")})
	require.NoError(t, err)

	_, err = h.svc.ProcessPayment(ctx, domain.ProcessPaymentRequest{OrderID: order.ID, Amount: money.MustParse("50")})
	var exceeds *domain.PaymentExceedsBalanceError
	require.ErrorAs(t, err, &exceeds)
	assertDecimal(t, "30", exceeds.Remaining)
	assert.ErrorIs(t, err, creditdomain.ErrInvalidAmount)

	_, err = h.svc.ProcessPayment(ctx, domain.ProcessPaymentRequest{OrderID: order.ID, Amount: money.Zero})
	assert.ErrorIs(t, err, creditdomain.ErrInvalidAmount)

	_, err = h.svc.ProcessPayment(ctx, domain.ProcessPaymentRequest{OrderID: h.node.Generate(), Amount: money.MustParse("1")})
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestAmountsFinerThanColumnScaleAreRejected(t *testing.T) {
	h := newHarness(t, nil)
	ctx := testutil.ShopContext()
	company := testutil.SeedCompany(t, h.db, h.node, "1000")
	order := h.create(t, company.ID, 0, "300")

	_, err := h.svc.ProcessPayment(ctx, domain.ProcessPaymentRequest{OrderID: order.ID, Amount: decimal.RequireFromString("299.99999")})
	assert.ErrorIs(t, err, creditdomain.ErrInvalidAmount)

	_, err = h.svc.CreateOrder(ctx, domain.CreateOrderRequest{CompanyID: company.ID, OrderTotal: decimal.RequireFromString("0.00001")})
	assert.ErrorIs(t, err, creditdomain.ErrInvalidAmount)

	paid, err := h.svc.ProcessPayment(ctx, domain.ProcessPaymentRequest{OrderID: order.ID, Amount: money.MustParse("300")})
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPaid, paid.Order.PaymentStatus)
	assertDecimal(t, "0", paid.Order.RemainingBalance)
	assertDecimal(t, "1000", h.available(t, company.ID))
}

func TestCreateOrderValidation(t *testing.T) {
	h := newHarness(t, nil)
	ctx := testutil.ShopContext()
	company := testutil.SeedCompany(t, h.db, h.node, "1000")

	_, err := h.svc.CreateOrder(ctx, domain.CreateOrderRequest{CompanyID: company.ID, OrderTotal: money.Zero})
	assert.ErrorIs(t, err, creditdomain.ErrInvalidAmount)

	_, err = h.svc.CreateOrder(ctx, domain.CreateOrderRequest{CompanyID: company.ID, OrderTotal: money.MustParse("10"), OrderStatus: domain.OrderShipped})
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)

	_, err = h.svc.CreateOrder(ctx, domain.CreateOrderRequest{CompanyID: h.node.Generate(), OrderTotal: money.MustParse("10")})
	assert.ErrorIs(t, err, companydomain.ErrCompanyNotFound)

	_, err = h.svc.CreateOrder(context.Background(), domain.CreateOrderRequest{CompanyID: company.ID, OrderTotal: money.MustParse("10")})
	assert.ErrorIs(t, err, companydomain.ErrInvalidShop)

	draft, err := h.svc.CreateOrder(ctx, domain.CreateOrderRequest{
		CompanyID:       company.ID,
		OrderTotal:      money.MustParse("10"),
		OrderStatus:     domain.OrderDraft,
		OrderNumber:     "D-1001",
		ExternalDraftID: "gid://shopify/DraftOrder/1",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderDraft, draft.Order.OrderStatus)
	assert.Equal(t, "D-1001", draft.Order.OrderNumber)
	require.NotNil(t, draft.Order.ExternalDraftID)
	assertDecimal(t, "10", draft.Credit.PendingCredit)
}

func TestUpdateOrderStatusIsForwardOnly(t *testing.T) {
	h := newHarness(t, nil)
	ctx := testutil.ShopContext()
	company := testutil.SeedCompany(t, h.db, h.node, "1000")
	order := h.create(t, company.ID, 0, "100")

	updated, err := h.svc.UpdateOrderStatus(ctx, order.ID, domain.OrderProcessing)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderProcessing, updated.OrderStatus)

	_, err = h.svc.UpdateOrderStatus(ctx, order.ID, domain.OrderSubmitted)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = h.svc.UpdateOrderStatus(ctx, order.ID, domain.OrderCancelled)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = h.svc.UpdateOrderStatus(ctx, order.ID, domain.OrderStatus("returned"))
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)

	shipped, err := h.svc.UpdateOrderStatus(ctx, order.ID, domain.OrderShipped)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderShipped, shipped.OrderStatus)
	assertDecimal(t, "900", h.available(t, company.ID))

	_, err = h.svc.CancelOrder(ctx, domain.CancelOrderRequest{OrderID: order.ID})
	assert.ErrorIs(t, err, domain.ErrOrderNotCancellable)

	testutil.AssertCount(t, h.db, `SELECT COUNT(1) FROM credit_transactions`, 1)
}

func TestCancelReportsRemoteFailure(t *testing.T) {
	remote := new(mockRemote)
	h := newHarness(t, remote)
	ctx := testutil.ShopContext()
	company := testutil.SeedCompany(t, h.db, h.node, "1000")

	res, err := h.svc.CreateOrder(ctx, domain.CreateOrderRequest{
		CompanyID:       company.ID,
		OrderTotal:      money.MustParse("100"),
		ExternalDraftID: "gid://shopify/DraftOrder/7",
	})
	require.NoError(t, err)

	remote.On("CancelDraftOrder", mock.Anything, testutil.ShopID, "gid://shopify/DraftOrder/7").
		Return(errors.New("shopify unavailable")).Once()

	cancelled, err := h.svc.CancelOrder(ctx, domain.CancelOrderRequest{OrderID: res.Order.ID})
	require.NoError(t, err)
	assert.True(t, cancelled.RemoteSync.Attempted)
	assert.False(t, cancelled.RemoteSync.Succeeded)
	assert.Contains(t, cancelled.RemoteSync.Error, "sync_failure")
	assert.Equal(t, domain.OrderCancelled, cancelled.Order.OrderStatus)
	assertDecimal(t, "1000", cancelled.Credit.AvailableCredit)
	remote.AssertExpectations(t)

	second, err := h.svc.CreateOrder(ctx, domain.CreateOrderRequest{
		CompanyID:       company.ID,
		OrderTotal:      money.MustParse("100"),
		ExternalDraftID: "gid://shopify/DraftOrder/8",
	})
	require.NoError(t, err)
	remote.On("CancelDraftOrder", mock.Anything, testutil.ShopID, "gid://shopify/DraftOrder/8").Return(nil).Once()

	ok, err := h.svc.CancelOrder(ctx, domain.CancelOrderRequest{OrderID: second.Order.ID})
	require.NoError(t, err)
	assert.True(t, ok.RemoteSync.Succeeded)
	assert.Empty(t, ok.RemoteSync.Error)
}

func TestConcurrentOrdersNeverOverdraw(t *testing.T) {
	h := newHarness(t, nil)
	ctx := testutil.ShopContext()
	company := testutil.SeedCompany(t, h.db, h.node, "1000")

	const attempts = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
		denied   int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.CreateOrder(ctx, domain.CreateOrderRequest{
				CompanyID:  company.ID,
				OrderTotal: money.MustParse("300"),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				admitted++
			case errors.Is(err, creditdomain.ErrCreditExceeded):
				denied++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, admitted)
	assert.Equal(t, attempts-3, denied)
	assertDecimal(t, "100", h.available(t, company.ID))
	chain := assertChain(t, h.db, company.ID)
	assert.Len(t, chain, 3)
}
