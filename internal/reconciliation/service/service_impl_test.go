package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/tradecredit/internal/clock"
	companydomain "github.com/smallbiznis/tradecredit/internal/company/domain"
	companyrepo "github.com/smallbiznis/tradecredit/internal/company/repository"
	"github.com/smallbiznis/tradecredit/internal/config"
	creditdomain "github.com/smallbiznis/tradecredit/internal/credit/domain"
	creditrepo "github.com/smallbiznis/tradecredit/internal/credit/repository"
	creditservice "github.com/smallbiznis/tradecredit/internal/credit/service"
	"github.com/smallbiznis/tradecredit/internal/money"
	obsmetrics "github.com/smallbiznis/tradecredit/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/tradecredit/internal/order/domain"
	orderrepo "github.com/smallbiznis/tradecredit/internal/order/repository"
	orderservice "github.com/smallbiznis/tradecredit/internal/order/service"
	"github.com/smallbiznis/tradecredit/internal/reconciliation/domain"
	reconrepo "github.com/smallbiznis/tradecredit/internal/reconciliation/repository"
	"github.com/smallbiznis/tradecredit/internal/reconciliation/service"
	"github.com/smallbiznis/tradecredit/internal/testutil"
	"github.com/smallbiznis/tradecredit/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type harness struct {
	db       *gorm.DB
	node     *snowflake.Node
	orders   orderdomain.Service
	svc      domain.Service
	metrics  *obsmetrics.ReconcileMetrics
	registry *prometheus.Registry
	events   *recordingPublisher
}

type recordingPublisher struct {
	events []creditdomain.CreditChanged
}

func (p *recordingPublisher) Publish(_ context.Context, event creditdomain.CreditChanged) {
	p.events = append(p.events, event)
}

func newHarness(t *testing.T, policy config.CreditPolicy) *harness {
	t.Helper()

	db := testutil.SetupDB(t)
	node := testutil.NewNode(t)
	clk := clock.NewFakeClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	companies := companyrepo.Provide()
	orders := orderrepo.Provide()
	ledger := creditrepo.Provide()
	holder := config.NewStaticCreditPolicyHolder(policy)
	registry := prometheus.NewRegistry()
	metrics := obsmetrics.NewReconcileMetrics(registry, obsmetrics.Config{ServiceName: "tradecredit", Environment: "test"})

	credit := creditservice.NewService(creditservice.Params{
		DB: db, Log: zap.NewNop(), GenID: node, Clock: clk,
		Repo: ledger, Companies: companies, Orders: orders, Policy: holder,
	})
	orderSvc := orderservice.New(orderservice.Params{
		DB: db, Log: zap.NewNop(), GenID: node, Clock: clk,
		Repo: orders, Companies: companies, Ledger: credit,
	})
	events := &recordingPublisher{}
	svc := service.New(service.Params{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     node,
		Clock:     clk,
		Repo:      reconrepo.Provide(),
		Ledger:    ledger,
		Companies: companies,
		Policy:    holder,
		Metrics:   metrics,
		Publisher: events,
	})
	return &harness{db: db, node: node, orders: orderSvc, svc: svc, metrics: metrics, registry: registry, events: events}
}

func (h *harness) createOrder(t *testing.T, company companydomain.Company, total string) orderdomain.Order {
	t.Helper()

	res, err := h.orders.CreateOrder(testutil.ShopContext(), orderdomain.CreateOrderRequest{
		CompanyID:  company.ID,
		OrderTotal: money.MustParse(total),
	})
	require.NoError(t, err)
	return res.Order
}

func assertDecimal(t *testing.T, expected string, actual decimal.Decimal) {
	t.Helper()
	assert.Truef(t, money.MustParse(expected).Equal(actual), "expected %s, got %s", expected, actual)
}

func counterValue(t *testing.T, registry *prometheus.Registry, name string) float64 {
	t.Helper()

	var families []*dto.MetricFamily
	families, err := registry.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		var total float64
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
		return total
	}
	return 0
}

func TestRecalculateMatchesLedger(t *testing.T) {
	h := newHarness(t, config.DefaultCreditPolicy())
	ctx := testutil.ShopContext()
	company := testutil.SeedCompany(t, h.db, h.node, "1000")

	h.createOrder(t, company, "300")
	paid := h.createOrder(t, company, "200")
	_, err := h.orders.ProcessPayment(ctx, orderdomain.ProcessPaymentRequest{OrderID: paid.ID, Amount: money.MustParse("200")})
	require.NoError(t, err)

	result, err := h.svc.Recalculate(ctx, company.ID, "ops@acme.test")
	require.NoError(t, err)
	assert.Equal(t, 1, result.UnpaidOrdersCount)
	assertDecimal(t, "300", result.UnpaidOrdersTotal)
	assertDecimal(t, "700", result.AvailableCredit)
	require.True(t, result.LedgerBalance.Valid)
	assertDecimal(t, "700", result.LedgerBalance.Decimal)
	assertDecimal(t, "0", result.Drift)
	assert.False(t, result.HasDrift)
	require.NotNil(t, result.ReconciliationID)

	testutil.AssertCount(t, h.db, `SELECT COUNT(1) FROM credit_reconciliations WHERE company_id = ?`, 1, company.ID)
	testutil.AssertCount(t, h.db, `SELECT COUNT(1) FROM credit_transactions WHERE company_id = ?`, 3, company.ID)
}

func TestRecalculatePublishesSnapshot(t *testing.T) {
	h := newHarness(t, config.DefaultCreditPolicy())
	ctx := testutil.ShopContext()
	company := testutil.SeedCompany(t, h.db, h.node, "1000")
	h.createOrder(t, company, "250")

	_, err := h.svc.Recalculate(ctx, company.ID, "")
	require.NoError(t, err)

	require.Len(t, h.events.events, 1)
	event := h.events.events[0]
	assert.Equal(t, company.ID, event.CompanyID)
	assert.Equal(t, company.ExternalID, event.CompanyExternalID)
	assert.Equal(t, creditdomain.CauseReconciled, event.Cause)
	assertDecimal(t, "750", event.Credit.AvailableCredit)
	assertDecimal(t, "250", event.Credit.UsedCredit)

	_, err = h.svc.PreviewRecalculation(ctx, company.ID)
	require.NoError(t, err)
	assert.Len(t, h.events.events, 1)
}

func TestRecalculateSurfacesDrift(t *testing.T) {
	h := newHarness(t, config.DefaultCreditPolicy())
	ctx := testutil.ShopContext()
	company := testutil.SeedCompany(t, h.db, h.node, "1000")
	order := h.createOrder(t, company, "300")

	require.NoError(t, h.db.Exec(`UPDATE orders SET remaining_balance = '250' WHERE id = ?`, order.ID).Error)

	result, err := h.svc.Recalculate(ctx, company.ID, "")
	require.NoError(t, err)
	assert.True(t, result.HasDrift)
	assertDecimal(t, "50", result.Drift)
	assertDecimal(t, "750", result.AvailableCredit)
	assertDecimal(t, "700", result.LedgerBalance.Decimal)
	assert.Equal(t, float64(1), counterValue(t, h.registry, "tradecredit_reconcile_drift_detected_total"))

	var triggeredBy string
	require.NoError(t, h.db.Raw(`SELECT triggered_by FROM credit_reconciliations LIMIT 1`).Scan(&triggeredBy).Error)
	assert.Equal(t, "system", triggeredBy)

	testutil.AssertCount(t, h.db, `SELECT COUNT(1) FROM credit_transactions`, 1)
}

func TestDriftToleranceSuppressesSmallDifferences(t *testing.T) {
	policy := config.DefaultCreditPolicy()
	policy.DriftTolerance = "0.01"
	h := newHarness(t, policy)
	ctx := testutil.ShopContext()
	company := testutil.SeedCompany(t, h.db, h.node, "1000")
	order := h.createOrder(t, company, "300")

	require.NoError(t, h.db.Exec(`UPDATE orders SET remaining_balance = '299.995' WHERE id = ?`, order.ID).Error)

	result, err := h.svc.Recalculate(ctx, company.ID, "ops")
	require.NoError(t, err)
	assert.False(t, result.HasDrift)
	assertDecimal(t, "0.005", result.Drift)
}

func TestRecalculateWithoutLedgerUsesLimit(t *testing.T) {
	h := newHarness(t, config.DefaultCreditPolicy())
	company := testutil.SeedCompany(t, h.db, h.node, "1000")

	result, err := h.svc.Recalculate(testutil.ShopContext(), company.ID, "ops")
	require.NoError(t, err)
	assert.False(t, result.LedgerBalance.Valid)
	assert.False(t, result.HasDrift)
	assertDecimal(t, "1000", result.AvailableCredit)
}

func TestPreviewWritesNothing(t *testing.T) {
	h := newHarness(t, config.DefaultCreditPolicy())
	ctx := testutil.ShopContext()
	company := testutil.SeedCompany(t, h.db, h.node, "1000")
	first := h.createOrder(t, company, "300")
	h.createOrder(t, company, "150")

	preview, err := h.svc.PreviewRecalculation(ctx, company.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, preview.UnpaidOrdersCount)
	require.Len(t, preview.Orders, 2)
	assert.Equal(t, first.ID, preview.Orders[0].ID)
	assertDecimal(t, "550", preview.AvailableCredit)
	assert.Nil(t, preview.ReconciliationID)

	testutil.AssertCount(t, h.db, `SELECT COUNT(1) FROM credit_reconciliations`, 0)

	_, err = h.svc.PreviewRecalculation(ctx, h.node.Generate())
	assert.ErrorIs(t, err, companydomain.ErrCompanyNotFound)
}

func TestVerifyChain(t *testing.T) {
	h := newHarness(t, config.DefaultCreditPolicy())
	ctx := testutil.ShopContext()
	company := testutil.SeedCompany(t, h.db, h.node, "1000")
	h.createOrder(t, company, "300")
	second := h.createOrder(t, company, "100")

	report, err := h.svc.VerifyChain(ctx, company.ID)
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Equal(t, 2, report.Entries)
	assert.Empty(t, report.Breaks)

	require.NoError(t, h.db.Exec(`UPDATE credit_transactions SET new_balance = '590' WHERE order_id = ?`, second.ID).Error)

	report, err = h.svc.VerifyChain(ctx, company.ID)
	require.NoError(t, err)
	assert.False(t, report.Valid)
	require.Len(t, report.Breaks, 1)
	assert.Equal(t, domain.BreakArithmetic, report.Breaks[0].Kind)
	assertDecimal(t, "600", report.Breaks[0].Expected)
}

func TestCheckChainReportsBrokenLinks(t *testing.T) {
	chain := []creditdomain.CreditTransaction{
		{ID: 1, PreviousBalance: money.MustParse("1000"), CreditAmount: money.MustParse("-300"), NewBalance: money.MustParse("700")},
		{ID: 2, PreviousBalance: money.MustParse("650"), CreditAmount: money.MustParse("100"), NewBalance: money.MustParse("750")},
	}

	breaks := service.CheckChain(chain)
	require.Len(t, breaks, 1)
	assert.Equal(t, domain.BreakLink, breaks[0].Kind)
	assert.Equal(t, snowflake.ID(2), breaks[0].TransactionID)
	assertDecimal(t, "700", breaks[0].Expected)
	assertDecimal(t, "650", breaks[0].Actual)

	assert.Empty(t, service.CheckChain(nil))
}

func TestListReconciliations(t *testing.T) {
	h := newHarness(t, config.DefaultCreditPolicy())
	ctx := testutil.ShopContext()
	company := testutil.SeedCompany(t, h.db, h.node, "1000")

	for i := 0; i < 3; i++ {
		_, err := h.svc.Recalculate(ctx, company.ID, "ops")
		require.NoError(t, err)
	}

	page, err := h.svc.ListReconciliations(ctx, company.ID, pagination.Pagination{PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page.Reconciliations, 2)
	assert.True(t, page.HasMore)

	rest, err := h.svc.ListReconciliations(ctx, company.ID, pagination.Pagination{PageSize: 2, PageToken: page.NextPageToken})
	require.NoError(t, err)
	require.Len(t, rest.Reconciliations, 1)
	assert.False(t, rest.HasMore)
}
