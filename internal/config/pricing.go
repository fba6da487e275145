package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// ModelPrice is the USD price per 1k input and output tokens for every model
// whose name contains Match.
type ModelPrice struct {
	Match       string  `mapstructure:"match"`
	InputPer1K  float64 `mapstructure:"input_per_1k"`
	OutputPer1K float64 `mapstructure:"output_per_1k"`
}

type PricingConfig struct {
	Default ModelPrice   `mapstructure:"default"`
	Models  []ModelPrice `mapstructure:"models"`
}

const DefaultModelMatch = "default"

func DefaultPricingConfig() PricingConfig {
	return PricingConfig{
		Default: ModelPrice{Match: DefaultModelMatch, InputPer1K: 0.002, OutputPer1K: 0.006},
		Models: []ModelPrice{
			{Match: "gpt-4o-mini", InputPer1K: 0.00015, OutputPer1K: 0.0006},
			{Match: "gpt-4o", InputPer1K: 0.0025, OutputPer1K: 0.01},
			{Match: "gpt-4-turbo", InputPer1K: 0.01, OutputPer1K: 0.03},
			{Match: "gpt-4", InputPer1K: 0.03, OutputPer1K: 0.06},
			{Match: "gpt-3.5-turbo", InputPer1K: 0.0005, OutputPer1K: 0.0015},
			{Match: "o1-mini", InputPer1K: 0.003, OutputPer1K: 0.012},
			{Match: "claude-3-5-sonnet", InputPer1K: 0.003, OutputPer1K: 0.015},
			{Match: "claude-3.5-sonnet", InputPer1K: 0.003, OutputPer1K: 0.015},
			{Match: "claude-3-opus", InputPer1K: 0.015, OutputPer1K: 0.075},
			{Match: "claude-3-sonnet", InputPer1K: 0.003, OutputPer1K: 0.015},
			{Match: "claude-3-haiku", InputPer1K: 0.00025, OutputPer1K: 0.00125},
			{Match: "gemini-1.5-pro", InputPer1K: 0.00125, OutputPer1K: 0.005},
			{Match: "gemini-1.5-flash", InputPer1K: 0.000075, OutputPer1K: 0.0003},
		},
	}
}

// PricingTableHolder keeps the current model pricing table and swaps it
// atomically when the backing file changes.
type PricingTableHolder struct {
	current atomic.Value // holds PricingConfig
	v       *viper.Viper
}

// NewPricingTableHolder loads pricing.yml from path, or from the default
// search paths when path is empty. A missing file in the search paths falls
// back to DefaultPricingConfig.
func NewPricingTableHolder(path string) (*PricingTableHolder, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("pricing")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/creditline")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("CREDITLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	holder := &PricingTableHolder{}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read pricing config: %w", err)
		}
		holder.current.Store(DefaultPricingConfig())
		return holder, nil
	}

	cfg, err := decodePricing(v)
	if err != nil {
		return nil, err
	}
	holder.v = v
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodePricing(v)
		if err != nil {
			zap.L().Warn("pricing config reload ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		zap.L().Info("pricing config reloaded", zap.String("file", e.Name), zap.Int("models", len(updated.Models)))
	})

	return holder, nil
}

// NewStaticPricingTableHolder returns a holder pinned to cfg.
func NewStaticPricingTableHolder(cfg PricingConfig) *PricingTableHolder {
	holder := &PricingTableHolder{}
	holder.current.Store(normalizePricing(cfg))
	return holder
}

func (h *PricingTableHolder) Get() PricingConfig {
	return h.current.Load().(PricingConfig)
}

// Reload re-reads the backing file on demand. Holders without a file keep
// their current table.
func (h *PricingTableHolder) Reload() error {
	if h.v == nil {
		return nil
	}
	if err := h.v.ReadInConfig(); err != nil {
		return fmt.Errorf("read pricing config: %w", err)
	}
	cfg, err := decodePricing(h.v)
	if err != nil {
		return err
	}
	h.current.Store(cfg)
	return nil
}

func decodePricing(v *viper.Viper) (PricingConfig, error) {
	var cfg PricingConfig
	if err := v.UnmarshalKey("pricing", &cfg); err != nil {
		return PricingConfig{}, fmt.Errorf("decode pricing config: %w", err)
	}
	if !v.IsSet("pricing.default") {
		cfg.Default = DefaultPricingConfig().Default
	}
	cfg = normalizePricing(cfg)
	if err := validatePricing(cfg); err != nil {
		return PricingConfig{}, err
	}
	return cfg, nil
}

func normalizePricing(cfg PricingConfig) PricingConfig {
	cfg.Default.Match = DefaultModelMatch
	models := make([]ModelPrice, 0, len(cfg.Models))
	for _, m := range cfg.Models {
		m.Match = strings.ToLower(strings.TrimSpace(m.Match))
		models = append(models, m)
	}
	cfg.Models = models
	return cfg
}

func validatePricing(cfg PricingConfig) error {
	if cfg.Default.InputPer1K < 0 || cfg.Default.OutputPer1K < 0 {
		return errors.New("pricing.default prices cannot be negative")
	}
	for i, m := range cfg.Models {
		if m.Match == "" {
			return fmt.Errorf("pricing.models[%d].match is required", i)
		}
		if m.InputPer1K < 0 || m.OutputPer1K < 0 {
			return fmt.Errorf("pricing.models[%d] prices cannot be negative", i)
		}
	}
	return nil
}
