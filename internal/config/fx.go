package config

import "go.uber.org/fx"

var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(providePricingTableHolder),
)

func providePricingTableHolder(cfg Config) (*PricingTableHolder, error) {
	return NewPricingTableHolder(cfg.PricingConfigPath)
}
