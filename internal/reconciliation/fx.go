package reconciliation

import (
	"github.com/smallbiznis/tradecredit/internal/reconciliation/repository"
	"github.com/smallbiznis/tradecredit/internal/reconciliation/service"
	"github.com/smallbiznis/tradecredit/internal/reconciliation/sweeper"
	"go.uber.org/fx"
)

var Module = fx.Module("reconciliation.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	sweeper.Module,
)
