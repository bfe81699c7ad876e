package shopify

import (
	"errors"

	"github.com/smallbiznis/tradecredit/internal/config"
	orderdomain "github.com/smallbiznis/tradecredit/internal/order/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("shopify",
	fx.Provide(Provide),
	fx.Provide(func(c *Client) orderdomain.RemoteOrders {
		if c == nil {
			return nil
		}
		return c
	}),
)

// Provide returns nil when the integration is disabled so consumers fall
// back to local-only behaviour.
func Provide(cfg config.Config, log *zap.Logger) (*Client, error) {
	if !cfg.Shopify.Enabled {
		log.Info("shopify integration disabled")
		return nil, nil
	}
	c, err := NewClient(cfg.Shopify, log)
	if errors.Is(err, ErrNotConfigured) {
		log.Warn("shopify enabled without shop domain or access token, integration disabled")
		return nil, nil
	}
	return c, err
}

var _ orderdomain.RemoteOrders = (*Client)(nil)
