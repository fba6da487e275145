package pricing

import (
	"strings"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/creditline/internal/config"
)

// estimatePer1K is the flat blended price used for pre-execution estimates.
var estimatePer1K = map[string]decimal.Decimal{
	"gpt-4":             decimal.RequireFromString("0.06"),
	"gpt-4-turbo":       decimal.RequireFromString("0.03"),
	"gpt-4o":            decimal.RequireFromString("0.01"),
	"gpt-4o-mini":       decimal.RequireFromString("0.0003"),
	"gpt-3.5-turbo":     decimal.RequireFromString("0.002"),
	"claude-3-opus":     decimal.RequireFromString("0.075"),
	"claude-3-sonnet":   decimal.RequireFromString("0.015"),
	"claude-3-haiku":    decimal.RequireFromString("0.00125"),
	"claude-3.5-sonnet": decimal.RequireFromString("0.015"),
	"default":           decimal.RequireFromString("0.01"),
}

// PriceForModel returns the table entry whose match is the longest substring
// of model, or the default entry.
func (e *Engine) PriceForModel(model string) config.ModelPrice {
	table := config.DefaultPricingConfig()
	if e.table != nil {
		table = e.table.Get()
	}
	name := strings.ToLower(strings.TrimSpace(model))
	best := table.Default
	bestLen := 0
	if name == "" {
		return best
	}
	for _, entry := range table.Models {
		if entry.Match == "" || !strings.Contains(name, entry.Match) {
			continue
		}
		if len(entry.Match) > bestLen {
			best = entry
			bestLen = len(entry.Match)
		}
	}
	return best
}

// EstimateCallCost prices one call's tokens from the model pricing table.
func (e *Engine) EstimateCallCost(model string, inputTokens, outputTokens int64) decimal.Decimal {
	price := e.PriceForModel(model)
	input := decimal.NewFromInt(inputTokens).Div(thousand).Mul(decimal.NewFromFloat(price.InputPer1K))
	output := decimal.NewFromInt(outputTokens).Div(thousand).Mul(decimal.NewFromFloat(price.OutputPer1K))
	return input.Add(output)
}
