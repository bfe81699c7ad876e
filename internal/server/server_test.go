package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	companydomain "github.com/smallbiznis/tradecredit/internal/company/domain"
	companyrepo "github.com/smallbiznis/tradecredit/internal/company/repository"
	companyservice "github.com/smallbiznis/tradecredit/internal/company/service"
	"github.com/smallbiznis/tradecredit/internal/config"
	creditdomain "github.com/smallbiznis/tradecredit/internal/credit/domain"
	creditrepo "github.com/smallbiznis/tradecredit/internal/credit/repository"
	creditservice "github.com/smallbiznis/tradecredit/internal/credit/service"
	orderdomain "github.com/smallbiznis/tradecredit/internal/order/domain"
	orderrepo "github.com/smallbiznis/tradecredit/internal/order/repository"
	orderservice "github.com/smallbiznis/tradecredit/internal/order/service"
	reconciliationrepo "github.com/smallbiznis/tradecredit/internal/reconciliation/repository"
	reconciliationservice "github.com/smallbiznis/tradecredit/internal/reconciliation/service"
	"github.com/smallbiznis/tradecredit/internal/testutil"
	"github.com/smallbiznis/tradecredit/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type apiHarness struct {
	db     *gorm.DB
	node   *snowflake.Node
	engine *gin.Engine
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.SetupDB(t)
	node := testutil.NewNode(t)
	log := zap.NewNop()
	policy := config.NewStaticCreditPolicyHolder(config.DefaultCreditPolicy())
	companies := companyrepo.Provide()
	orders := orderrepo.Provide()
	ledgerRepo := creditrepo.Provide()

	credit := creditservice.NewService(creditservice.Params{
		DB:        db,
		Log:       log,
		GenID:     node,
		Repo:      ledgerRepo,
		Companies: companies,
		Orders:    orders,
		Policy:    policy,
	})

	engine := NewEngine(config.Config{}, nil)
	srv := NewServer(Params{
		Engine:    engine,
		Log:       log,
		CreditSvc: credit,
		OrderSvc: orderservice.New(orderservice.Params{
			DB:        db,
			Log:       log,
			GenID:     node,
			Repo:      orders,
			Companies: companies,
			Ledger:    credit,
		}),
		CompanySvc: companyservice.New(companyservice.Params{
			DB:    db,
			Log:   log,
			GenID: node,
			Repo:  companies,
		}),
		Reconciliation: reconciliationservice.New(reconciliationservice.Params{
			DB:        db,
			Log:       log,
			GenID:     node,
			Repo:      reconciliationrepo.Provide(),
			Ledger:    ledgerRepo,
			Companies: companies,
			Policy:    policy,
		}),
	})
	srv.RegisterRoutes()

	return &apiHarness{db: db, node: node, engine: engine}
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *errorPayload   `json:"error"`
}

func (h *apiHarness) do(t *testing.T, method, path string, body any) (int, envelope) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderShop, testutil.ShopID)
	req.Header.Set(HeaderActor, "ops@acme.test")
	rec := httptest.NewRecorder()
	h.engine.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec.Code, env
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(env.Data, &out))
	return out
}

func assertAmount(t *testing.T, expected string, actual decimal.Decimal) {
	t.Helper()
	assert.Truef(t, decimal.RequireFromString(expected).Equal(actual), "expected %s, got %s", expected, actual)
}

func TestHealth(t *testing.T) {
	h := newAPIHarness(t)
	rec := httptest.NewRecorder()
	h.engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestShopHeaderIsRequired(t *testing.T) {
	h := newAPIHarness(t)
	company := testutil.SeedCompany(t, h.db, h.node, "1000")

	req := httptest.NewRequest(http.MethodGet, "/v1/companies/"+company.ID.String()+"/credit", nil)
	rec := httptest.NewRecorder()
	h.engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.NotNil(t, env.Error)
	assert.Equal(t, "invalid_shop", env.Error.Errors[0].Code)
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	h := newAPIHarness(t)
	company := testutil.SeedCompany(t, h.db, h.node, "1000")
	companyPath := "/v1/companies/" + company.ID.String()

	status, env := h.do(t, http.MethodPost, "/v1/orders", map[string]any{
		"company_id":  company.ID.String(),
		"order_total": "400.00",
	})
	require.Equal(t, http.StatusCreated, status, string(env.Data))
	created := decodeData[orderdomain.CreateOrderResult](t, env)
	assertAmount(t, "600", created.Credit.AvailableCredit)
	orderPath := "/v1/orders/" + created.Order.ID.String()

	status, env = h.do(t, http.MethodPost, companyPath+"/credit/check", map[string]any{"amount": 700})
	require.Equal(t, http.StatusOK, status)
	admission := decodeData[creditdomain.OrderAdmission](t, env)
	assert.False(t, admission.Admitted)
	assert.Equal(t, "Order total 700.00 exceeds available credit 600.00", admission.Message)

	status, env = h.do(t, http.MethodPost, orderPath+"/payments", map[string]any{"amount": "150", "method": "ACH"})
	require.Equal(t, http.StatusOK, status)
	payment := decodeData[orderdomain.PaymentResult](t, env)
	assert.Equal(t, orderdomain.PaymentPartial, payment.Order.PaymentStatus)
	assert.Equal(t, "ach", payment.Payment.Method)
	assertAmount(t, "750", payment.Credit.AvailableCredit)

	status, env = h.do(t, http.MethodPost, orderPath+"/cancel", nil)
	require.Equal(t, http.StatusOK, status)
	cancelled := decodeData[orderdomain.CancelResult](t, env)
	assert.True(t, cancelled.CreditRestored)
	assertAmount(t, "250", cancelled.RestoredAmount)
	assertAmount(t, "1000", cancelled.Credit.AvailableCredit)
	assert.False(t, cancelled.RemoteSync.Attempted)

	status, env = h.do(t, http.MethodPost, orderPath+"/payments", map[string]any{"amount": "10"})
	assert.Equal(t, http.StatusConflict, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "conflict", env.Error.Type)

	status, env = h.do(t, http.MethodGet, companyPath+"/credit", nil)
	require.Equal(t, http.StatusOK, status)
	summary := decodeData[creditdomain.Summary](t, env)
	assertAmount(t, "0", summary.UsedCredit)
	assert.Len(t, summary.RecentTransactions, 3)

	status, env = h.do(t, http.MethodGet, companyPath+"/credit/transactions?page_size=2", nil)
	require.Equal(t, http.StatusOK, status)
	page := decodeData[creditdomain.ListTransactionsResponse](t, env)
	assert.Len(t, page.Transactions, 2)
	assert.True(t, page.HasMore)

	status, env = h.do(t, http.MethodGet, companyPath+"/credit/verify", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(env.Data), `"valid":true`)

	status, _ = h.do(t, http.MethodPost, companyPath+"/credit/recalculate", nil)
	require.Equal(t, http.StatusOK, status)
	status, env = h.do(t, http.MethodGet, companyPath+"/credit/reconciliations", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(env.Data), `"triggered_by":"ops@acme.test"`)
}

func TestCreditExceededReturnsShortfall(t *testing.T) {
	h := newAPIHarness(t)
	company := testutil.SeedCompany(t, h.db, h.node, "1000")
	user := testutil.SeedUser(t, h.db, h.node, company.ID, "300")

	status, env := h.do(t, http.MethodPost, "/v1/orders", map[string]any{
		"company_id":  company.ID.String(),
		"user_id":     user.ID.String(),
		"order_total": "450",
	})
	require.Equal(t, http.StatusUnprocessableEntity, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "credit_exceeded", env.Error.Type)
	assert.Equal(t, "user", env.Error.Details["limiting_factor"])
	assert.Equal(t, "150", env.Error.Details["shortfall"])

	testutil.AssertCount(t, h.db, "SELECT COUNT(*) FROM orders", 0)
	testutil.AssertCount(t, h.db, "SELECT COUNT(*) FROM credit_transactions", 0)
}

func TestCreditLimitEndpoints(t *testing.T) {
	h := newAPIHarness(t)
	company := testutil.SeedCompany(t, h.db, h.node, "1000")
	user := testutil.SeedUser(t, h.db, h.node, company.ID, "")

	status, env := h.do(t, http.MethodPut, "/v1/companies/"+company.ID.String()+"/credit/limit", map[string]any{"credit_limit": "2500"})
	require.Equal(t, http.StatusOK, status)
	adjusted := decodeData[creditdomain.AdjustCreditLimitResult](t, env)
	assertAmount(t, "2500", adjusted.Credit.AvailableCredit)
	require.NotNil(t, adjusted.TransactionID)

	status, env = h.do(t, http.MethodPut, "/v1/companies/"+company.ID.String()+"/credit/limit", map[string]any{"credit_limit": "-1"})
	assert.Equal(t, http.StatusBadRequest, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "invalid_amount", env.Error.Errors[0].Code)

	status, env = h.do(t, http.MethodPut, "/v1/users/"+user.ID.String()+"/credit/limit", map[string]any{"credit_limit": "500"})
	require.Equal(t, http.StatusOK, status)
	updated := decodeData[companydomain.User](t, env)
	assert.True(t, updated.UserCreditLimit.Valid)

	status, env = h.do(t, http.MethodPut, "/v1/users/"+user.ID.String()+"/credit/limit", map[string]any{"credit_limit": nil})
	require.Equal(t, http.StatusOK, status)
	cleared := decodeData[companydomain.User](t, env)
	assert.False(t, cleared.UserCreditLimit.Valid)
}

func TestNotFoundAndBadIDs(t *testing.T) {
	h := newAPIHarness(t)

	status, env := h.do(t, http.MethodGet, "/v1/orders/12345", nil)
	assert.Equal(t, http.StatusNotFound, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "order not found", env.Error.Message)

	status, env = h.do(t, http.MethodGet, "/v1/companies/not-an-id/credit", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "invalid_id", env.Error.Errors[0].Code)
}

func TestMapError(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"invalid amount", creditdomain.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
		{"limit below usage", creditdomain.ErrLimitBelowUsage, http.StatusBadRequest, "limit_below_usage"},
		{"page token", pagination.ErrInvalidPageToken, http.StatusBadRequest, "invalid_page_token"},
		{"overpayment", &orderdomain.PaymentExceedsBalanceError{Requested: decimal.NewFromInt(5), Remaining: decimal.NewFromInt(1)}, http.StatusBadRequest, "payment_exceeds_balance"},
		{"company", fmt.Errorf("lookup: %w", companydomain.ErrCompanyNotFound), http.StatusNotFound, ""},
		{"already paid", orderdomain.ErrAlreadyPaid, http.StatusConflict, ""},
		{"transition", orderdomain.ErrInvalidTransition, http.StatusConflict, ""},
		{"exceeded", &creditdomain.CreditExceededError{LimitingFactor: creditdomain.LimitingCompany}, http.StatusUnprocessableEntity, ""},
		{"sync", creditdomain.ErrSyncFailure, http.StatusInternalServerError, ""},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, payload := mapError(tc.err)
			assert.Equal(t, tc.status, status)
			if tc.code != "" {
				require.NotEmpty(t, payload.Errors)
				assert.Equal(t, tc.code, payload.Errors[0].Code)
			}
		})
	}
}
