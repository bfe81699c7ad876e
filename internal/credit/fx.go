package credit

import (
	"github.com/smallbiznis/tradecredit/internal/credit/domain"
	"github.com/smallbiznis/tradecredit/internal/credit/repository"
	"github.com/smallbiznis/tradecredit/internal/credit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("credit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(func(s *service.Service) domain.Service { return s }),
	fx.Provide(func(s *service.Service) domain.Ledger { return s }),
)
