package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	companydomain "github.com/smallbiznis/tradecredit/internal/company/domain"
	"github.com/smallbiznis/tradecredit/internal/config"
	creditdomain "github.com/smallbiznis/tradecredit/internal/credit/domain"
	obslogger "github.com/smallbiznis/tradecredit/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/tradecredit/internal/observability/metrics"
	obstracing "github.com/smallbiznis/tradecredit/internal/observability/tracing"
	orderdomain "github.com/smallbiznis/tradecredit/internal/order/domain"
	reconciliationdomain "github.com/smallbiznis/tradecredit/internal/reconciliation/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(func(s *Server) { s.RegisterRoutes() }),
	fx.Invoke(run),
)

func NewEngine(cfg config.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.Middleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Params struct {
	fx.In

	Engine         *gin.Engine
	Log            *zap.Logger
	CreditSvc      creditdomain.Service
	OrderSvc       orderdomain.Service
	CompanySvc     companydomain.Service
	Reconciliation reconciliationdomain.Service
}

type Server struct {
	engine         *gin.Engine
	log            *zap.Logger
	creditSvc      creditdomain.Service
	orderSvc       orderdomain.Service
	companySvc     companydomain.Service
	reconciliation reconciliationdomain.Service
}

func NewServer(p Params) *Server {
	return &Server{
		engine:         p.Engine,
		log:            p.Log.Named("http"),
		creditSvc:      p.CreditSvc,
		orderSvc:       p.OrderSvc,
		companySvc:     p.CompanySvc,
		reconciliation: p.Reconciliation,
	}
}

func (s *Server) RegisterRoutes() {
	v1 := s.engine.Group("/v1")
	v1.Use(ShopContext(), ActorContext())

	v1.POST("/companies", s.SyncCompany)
	v1.POST("/users", s.SyncUser)

	companies := v1.Group("/companies/:id")
	companies.GET("/credit", s.GetCreditSummary)
	companies.POST("/credit/check", s.CheckCredit)
	companies.GET("/credit/transactions", s.ListCreditTransactions)
	companies.PUT("/credit/limit", s.AdjustCreditLimit)
	companies.POST("/credit/recalculate", s.RecalculateCredit)
	companies.GET("/credit/recalculate/preview", s.PreviewRecalculation)
	companies.GET("/credit/verify", s.VerifyLedgerChain)
	companies.GET("/credit/reconciliations", s.ListReconciliations)

	v1.PUT("/users/:id/credit/limit", s.SetUserCreditLimit)

	v1.POST("/orders", s.CreateOrder)
	v1.GET("/orders/:id", s.GetOrder)
	v1.POST("/orders/:id/payments", s.ProcessPayment)
	v1.POST("/orders/:id/cancel", s.CancelOrder)
	v1.PATCH("/orders/:id/status", s.UpdateOrderStatus)
}
