package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tradecredit/internal/clock"
	"github.com/smallbiznis/tradecredit/internal/company"
	"github.com/smallbiznis/tradecredit/internal/config"
	"github.com/smallbiznis/tradecredit/internal/credit"
	"github.com/smallbiznis/tradecredit/internal/creditsync"
	"github.com/smallbiznis/tradecredit/internal/lock"
	"github.com/smallbiznis/tradecredit/internal/migration"
	"github.com/smallbiznis/tradecredit/internal/observability"
	"github.com/smallbiznis/tradecredit/internal/order"
	"github.com/smallbiznis/tradecredit/internal/reconciliation"
	"github.com/smallbiznis/tradecredit/internal/server"
	"github.com/smallbiznis/tradecredit/internal/shopify"
	"github.com/smallbiznis/tradecredit/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		lock.Module,

		// Integrations
		shopify.Module,
		creditsync.Module,

		// Functional Domains
		company.Module,
		credit.Module,
		order.Module,
		reconciliation.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
