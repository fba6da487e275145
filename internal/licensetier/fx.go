package licensetier

import (
	"context"

	"github.com/smallbiznis/creditline/internal/config"
	tierdomain "github.com/smallbiznis/creditline/internal/licensetier/domain"
	"github.com/smallbiznis/creditline/internal/licensetier/repository"
	"github.com/smallbiznis/creditline/internal/licensetier/service"
	"go.uber.org/fx"
)

var Module = fx.Module("license_tier.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Invoke(seedDefaults),
)

func seedDefaults(lc fx.Lifecycle, cfg config.Config, svc tierdomain.Service) {
	if !cfg.SeedDefaultTiers {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return svc.EnsureDefaults(ctx)
		},
	})
}
