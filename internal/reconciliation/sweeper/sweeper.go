package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tradecredit/internal/clock"
	companydomain "github.com/smallbiznis/tradecredit/internal/company/domain"
	"github.com/smallbiznis/tradecredit/internal/lock"
	obscontext "github.com/smallbiznis/tradecredit/internal/observability/context"
	obsmetrics "github.com/smallbiznis/tradecredit/internal/observability/metrics"
	"github.com/smallbiznis/tradecredit/internal/reconciliation/domain"
	"github.com/smallbiznis/tradecredit/internal/shopcontext"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	jobName = "reconcile_credit"
	actor   = "reconciliation-sweep"
)

var ErrInvalidConfig = errors.New("invalid_sweeper_config")

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Companies companydomain.Repository
	Svc       domain.Service
	Clock     clock.Clock                  `optional:"true"`
	Locker    *lock.Locker                 `optional:"true"`
	Metrics   *obsmetrics.ReconcileMetrics `optional:"true"`
	Config    Config                       `optional:"true"`
}

// Sweeper periodically recalculates every company so drift is surfaced
// without an operator asking.
type Sweeper struct {
	db        *gorm.DB
	log       *zap.Logger
	cfg       Config
	clock     clock.Clock
	companies companydomain.Repository
	svc       domain.Service
	locker    *lock.Locker
	metrics   *obsmetrics.ReconcileMetrics
}

// Stats summarises one sweep.
type Stats struct {
	Processed int
	Drifted   int
	Failed    int
}

func New(p Params) (*Sweeper, error) {
	if p.DB == nil || p.Log == nil || p.Companies == nil || p.Svc == nil {
		return nil, ErrInvalidConfig
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Sweeper{
		db:        p.DB,
		log:       p.Log.Named("reconciliation.sweeper").With(zap.String("component", "sweeper")),
		cfg:       p.Config.withDefaults(),
		clock:     clk,
		companies: p.Companies,
		svc:       p.Svc,
		locker:    p.Locker,
		metrics:   p.Metrics,
	}, nil
}

func (s *Sweeper) runJob(parent context.Context, fn func(ctx context.Context) error) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, s.cfg.Timeout)
	defer cancel()

	ctx = obscontext.WithActor(ctx, actor)
	s.metrics.IncJobRun(jobName)

	err := fn(ctx)
	s.metrics.ObserveJobDuration(jobName, s.clock.Now().Sub(start))
	if err == nil {
		return nil
	}

	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		s.metrics.IncJobTimeout(jobName)
	}
	s.metrics.IncJobError(jobName, err)
	if isTimeout {
		s.log.Warn("job timed out",
			zap.String("job", jobName),
			zap.Duration("timeout", s.cfg.Timeout),
			zap.Error(err),
		)
		return nil
	}
	return fmt.Errorf("%s: %w", jobName, err)
}

// RunOnce sweeps all companies unless another replica holds the lock.
func (s *Sweeper) RunOnce(parent context.Context) (Stats, error) {
	var stats Stats
	err := s.runJob(parent, func(ctx context.Context) error {
		lease, err := s.acquire(ctx)
		if err != nil {
			return err
		}
		if lease == nil && s.locker != nil {
			s.metrics.IncJobSkipped(jobName, obsmetrics.SkipReasonLockHeld)
			s.log.Debug("sweep skipped, lock held elsewhere")
			return nil
		}
		defer func() {
			if err := lease.Release(context.Background()); err != nil {
				s.log.Warn("release sweep lock failed", zap.Error(err))
			}
		}()

		stats, err = s.sweep(ctx)
		return err
	})
	return stats, err
}

func (s *Sweeper) acquire(ctx context.Context) (*lock.Lease, error) {
	if s.locker == nil {
		return nil, nil
	}
	return s.locker.TryLock(ctx, jobName, s.cfg.LockTTL)
}

func (s *Sweeper) sweep(ctx context.Context) (Stats, error) {
	var (
		stats   Stats
		afterID snowflake.ID
		errs    error
	)
	for {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}

		refs, err := s.companies.ListCompanyRefs(ctx, s.db, afterID, s.cfg.BatchSize)
		if err != nil {
			return stats, err
		}
		if len(refs) == 0 {
			break
		}

		for _, ref := range refs {
			shopCtx := shopcontext.WithShopID(ctx, ref.ShopID)
			result, err := s.svc.Recalculate(shopCtx, ref.ID, actor)
			if err != nil {
				if ctx.Err() != nil {
					return stats, ctx.Err()
				}
				stats.Failed++
				errs = errors.Join(errs, fmt.Errorf("company %s: %w", ref.ID, err))
				s.log.Warn("recalculate failed",
					zap.String("company_id", ref.ID.String()),
					zap.String("shop_id", ref.ShopID),
					zap.Error(err),
				)
				continue
			}
			stats.Processed++
			if result.HasDrift {
				stats.Drifted++
			}
		}
		s.metrics.AddCompaniesProcessed(len(refs))

		afterID = refs[len(refs)-1].ID
		if len(refs) < s.cfg.BatchSize {
			break
		}
	}

	s.log.Info("sweep finished",
		zap.Int("processed", stats.Processed),
		zap.Int("drifted", stats.Drifted),
		zap.Int("failed", stats.Failed),
	)
	return stats, errs
}

func (s *Sweeper) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.Interval)

	for {
		runLag := s.clock.Now().Sub(nextRun)
		if runLag > 0 {
			s.metrics.ObserveRunLoopLag(runLag)
		}
		if _, err := s.RunOnce(ctx); err != nil {
			s.log.Warn("reconciliation sweep failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.Interval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
