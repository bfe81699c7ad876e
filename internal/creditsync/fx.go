package creditsync

import (
	"context"

	"github.com/smallbiznis/tradecredit/internal/config"
	creditdomain "github.com/smallbiznis/tradecredit/internal/credit/domain"
	obsmetrics "github.com/smallbiznis/tradecredit/internal/observability/metrics"
	"github.com/smallbiznis/tradecredit/internal/shopify"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("creditsync",
	fx.Provide(ProvideDispatcher),
	fx.Provide(func(d *Dispatcher) creditdomain.EventPublisher { return d }),
	fx.Invoke(registerLifecycle),
)

type Params struct {
	fx.In

	Lc      fx.Lifecycle
	Cfg     config.Config
	Log     *zap.Logger
	Metrics *obsmetrics.Metrics `optional:"true"`
	Shopify *shopify.Client     `optional:"true"`
}

func ProvideDispatcher(p Params) (*Dispatcher, error) {
	var sinks []Sink
	if p.Shopify != nil {
		sinks = append(sinks, NewShopifySink(p.Shopify))
	}
	if p.Cfg.Kafka.Enabled {
		kafka, err := DialKafkaSink(p.Cfg.Kafka.Brokers, p.Cfg.Kafka.Topic, p.Log, p.Metrics)
		if err != nil {
			return nil, err
		}
		p.Lc.Append(fx.Hook{
			OnStop: func(context.Context) error { return kafka.Close() },
		})
		sinks = append(sinks, kafka)
	}

	return NewDispatcher(DispatcherConfig{
		Workers:   p.Cfg.Sync.Workers,
		QueueSize: p.Cfg.Sync.QueueSize,
	}, p.Log, p.Metrics, sinks...), nil
}

func registerLifecycle(lc fx.Lifecycle, d *Dispatcher) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			d.Start()
			return nil
		},
		OnStop: d.Stop,
	})
}
