package limits

import (
	"github.com/smallbiznis/creditline/internal/limits/repository"
	"github.com/smallbiznis/creditline/internal/limits/service"
	"go.uber.org/fx"
)

var Module = fx.Module("limits.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
