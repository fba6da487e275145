package licensepool

import (
	"github.com/smallbiznis/creditline/internal/licensepool/repository"
	"github.com/smallbiznis/creditline/internal/licensepool/service"
	"go.uber.org/fx"
)

var Module = fx.Module("licensepool.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
