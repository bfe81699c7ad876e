package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestClassifyJobReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "deadline", err: context.DeadlineExceeded, want: JobReasonDeadlineExceeded},
		{name: "db_lock_timeout", err: &pgconn.PgError{Code: "55P03"}, want: JobReasonDBLockTimeout},
		{name: "serialization_failure", err: &pgconn.PgError{Code: "40001"}, want: JobReasonSerializationFailure},
		{name: "unique_violation", err: gorm.ErrDuplicatedKey, want: JobReasonUniqueViolation},
		{name: "unknown", err: errors.New("boom"), want: JobReasonUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyJobReason(tc.err))
		})
	}
}

func TestReconcileMetricsCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := newReconcileMetrics(registry, Config{ServiceName: "svc", Environment: "test"})

	m.IncJobRun("credit_reconcile")
	m.IncJobRun("credit_reconcile")
	m.IncJobError("credit_reconcile", context.DeadlineExceeded)
	m.IncJobSkipped("credit_reconcile", SkipReasonLockHeld)
	m.AddCompaniesProcessed(3)
	m.AddCompaniesProcessed(0)
	m.IncDriftDetected()
	m.ObserveJobDuration("credit_reconcile", 120*time.Millisecond)
	m.ObserveRunLoopLag(-time.Second)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.jobRuns.WithLabelValues("credit_reconcile")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.jobErrors.WithLabelValues("credit_reconcile", JobReasonDeadlineExceeded)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.jobSkipped.WithLabelValues("credit_reconcile", SkipReasonLockHeld)))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.companiesProcessed))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.driftDetected))
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	registry := prometheus.NewRegistry()
	m := newHTTPMetrics(registry, Config{})

	r := gin.New()
	r.Use(m.Middleware())
	r.GET("/v1/orders/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/orders/1", nil))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.requests.WithLabelValues("GET", "/v1/orders/:id", "404")))
}
