// Package creditsync fans committed credit events out to external sinks
// without holding up the request that produced them.
package creditsync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	creditdomain "github.com/smallbiznis/tradecredit/internal/credit/domain"
	obsmetrics "github.com/smallbiznis/tradecredit/internal/observability/metrics"
	"go.uber.org/zap"
)

var ErrDispatcherStopped = errors.New("creditsync_dispatcher_stopped")

// Sink delivers one event to a downstream system.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, event creditdomain.CreditChanged) error
}

type DispatcherConfig struct {
	Workers int
	// QueueSize bounds each worker's queue.
	QueueSize       int
	DeliveryTimeout time.Duration
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = 15 * time.Second
	}
	return c
}

// Dispatcher routes each company to one worker queue so a company's events
// are delivered in publish order. A full queue drops the event; the next
// reconciliation or event for the same company repairs the downstream view.
type Dispatcher struct {
	cfg     DispatcherConfig
	sinks   []Sink
	log     *zap.Logger
	metrics *obsmetrics.Metrics

	queues []chan creditdomain.CreditChanged

	mu      sync.RWMutex
	started bool
	stopped bool
	wg      sync.WaitGroup
}

func NewDispatcher(cfg DispatcherConfig, log *zap.Logger, metrics *obsmetrics.Metrics, sinks ...Sink) *Dispatcher {
	cfg = cfg.withDefaults()
	queues := make([]chan creditdomain.CreditChanged, cfg.Workers)
	for i := range queues {
		queues[i] = make(chan creditdomain.CreditChanged, cfg.QueueSize)
	}
	return &Dispatcher{
		cfg:     cfg,
		sinks:   sinks,
		log:     log.Named("creditsync"),
		metrics: metrics,
		queues:  queues,
	}
}

var _ creditdomain.EventPublisher = (*Dispatcher)(nil)

func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.stopped {
		return
	}
	d.started = true
	for _, queue := range d.queues {
		d.wg.Add(1)
		go d.worker(queue)
	}
	d.log.Info("credit sync dispatcher started",
		zap.Int("workers", d.cfg.Workers),
		zap.Int("queue_size", d.cfg.QueueSize),
		zap.Int("sinks", len(d.sinks)),
	)
}

// Stop closes the queues and waits for in-flight deliveries, or for ctx.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	for _, queue := range d.queues {
		close(queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Publish enqueues the event and never blocks.
func (d *Dispatcher) Publish(ctx context.Context, event creditdomain.CreditChanged) {
	if len(d.sinks) == 0 {
		return
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		d.log.Warn("credit event published after shutdown", zap.String("company_id", event.CompanyID.String()))
		d.metrics.RecordSyncDropped(ctx)
		return
	}

	select {
	case d.queueFor(event.CompanyID) <- event:
	default:
		d.log.Warn("credit sync queue full, dropping event",
			zap.String("company_id", event.CompanyID.String()),
			zap.String("cause", string(event.Cause)),
		)
		d.metrics.RecordSyncDropped(ctx)
	}
}

func (d *Dispatcher) queueFor(companyID snowflake.ID) chan creditdomain.CreditChanged {
	return d.queues[uint64(companyID)%uint64(len(d.queues))]
}

func (d *Dispatcher) worker(queue <-chan creditdomain.CreditChanged) {
	defer d.wg.Done()
	for event := range queue {
		d.deliver(event)
	}
}

func (d *Dispatcher) deliver(event creditdomain.CreditChanged) {
	for _, sink := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.DeliveryTimeout)
		err := sink.Deliver(ctx, event)
		cancel()
		if err == nil {
			continue
		}
		d.metrics.RecordSyncFailure(context.Background(), sink.Name())
		d.log.Warn("credit sync delivery failed",
			zap.String("sink", sink.Name()),
			zap.String("shop_id", event.ShopID),
			zap.String("company_id", event.CompanyID.String()),
			zap.Error(err),
		)
	}
}
