// Package pricing converts reported or estimated USD usage cost into credits.
package pricing

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/creditline/internal/config"
	licensetierdomain "github.com/smallbiznis/creditline/internal/licensetier/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var thousand = decimal.NewFromInt(1000)

// TokenCounts is the token usage reported for one trace or call.
type TokenCounts struct {
	Input  int64 `json:"input_tokens"`
	Output int64 `json:"output_tokens"`
	Total  int64 `json:"total_tokens"`
}

// TraceCredits is the priced outcome of one trace.
type TraceCredits struct {
	CostUSD         decimal.Decimal `json:"cost_usd"`
	AdjustedCostUSD decimal.Decimal `json:"adjusted_cost_usd"`
	Credits         int64           `json:"credits"`
	Tokens          TokenCounts     `json:"tokens"`
}

// Breakdown aggregates priced traces under one key.
type Breakdown struct {
	TotalCostUSD decimal.Decimal `json:"total_cost_usd"`
	TotalCredits int64           `json:"total_credits"`
	TotalTokens  int64           `json:"total_tokens"`
	TraceCount   int64           `json:"trace_count"`
}

type Params struct {
	fx.In

	Log   *zap.Logger
	Table *config.PricingTableHolder
}

type Engine struct {
	log   *zap.Logger
	table *config.PricingTableHolder
}

func NewEngine(p Params) *Engine {
	return &Engine{
		log:   p.Log.Named("pricing.engine"),
		table: p.Table,
	}
}

// ExtractCost returns the first positive cost reported by a trace, or zero.
func (e *Engine) ExtractCost(trace map[string]any) decimal.Decimal {
	usage := usageObject(trace)
	for _, source := range []map[string]any{usage, trace} {
		for _, key := range []string{"totalCost", "cost", "total_cost"} {
			value, ok := ParseNumber(source[key])
			if ok && value.IsPositive() {
				return value
			}
		}
	}
	return decimal.Zero
}

func (e *Engine) ExtractTokens(trace map[string]any) TokenCounts {
	usage := usageObject(trace)
	counts := TokenCounts{
		Input:  firstInt(usage, "input", "inputTokens", "input_tokens", "promptTokens", "prompt_tokens"),
		Output: firstInt(usage, "output", "outputTokens", "output_tokens", "completionTokens", "completion_tokens"),
		Total:  firstInt(usage, "total", "totalTokens", "total_tokens"),
	}
	if counts.Total == 0 {
		counts.Total = counts.Input + counts.Output
	}
	return counts
}

// ApplyTierMultiplier scales cost by the tier multiplier and rounds to cents.
// Without a tier the cost is returned unchanged.
func (e *Engine) ApplyTierMultiplier(cost decimal.Decimal, tier *licensetierdomain.LicenseTier) decimal.Decimal {
	if tier == nil {
		return cost
	}
	return cost.Mul(tier.EffectiveMultiplier()).Round(2)
}

// CostToCredits truncates cost * credits_per_usd to whole credits.
func (e *Engine) CostToCredits(cost decimal.Decimal, tier *licensetierdomain.LicenseTier) int64 {
	if !cost.IsPositive() {
		return 0
	}
	return cost.Mul(tier.EffectiveCreditsPerUSD()).Truncate(0).IntPart()
}

func (e *Engine) ApplyMinimumCredits(credits int64, tier *licensetierdomain.LicenseTier) int64 {
	if minimum, ok := tier.FeatureInt(licensetierdomain.FeatureMinimumCreditsPerTrace); ok && minimum > 0 && credits < minimum {
		return minimum
	}
	return credits
}

func (e *Engine) ApplyMaximumCredits(credits int64, tier *licensetierdomain.LicenseTier) int64 {
	if maximum, ok := tier.FeatureInt(licensetierdomain.FeatureMaximumCreditsPerTrace); ok && maximum > 0 && credits > maximum {
		return maximum
	}
	return credits
}

// ClampCredits applies the tier's per-trace minimum and then its maximum.
func (e *Engine) ClampCredits(credits int64, tier *licensetierdomain.LicenseTier) int64 {
	return e.ApplyMaximumCredits(e.ApplyMinimumCredits(credits, tier), tier)
}

func (e *Engine) CalculateTraceCredits(trace map[string]any, tier *licensetierdomain.LicenseTier) TraceCredits {
	cost := e.ExtractCost(trace)
	adjusted := e.ApplyTierMultiplier(cost, tier)
	var credits int64
	if cost.IsPositive() {
		credits = e.ClampCredits(e.CostToCredits(adjusted, tier), tier)
	}
	return TraceCredits{
		CostUSD:         cost,
		AdjustedCostUSD: adjusted,
		Credits:         credits,
		Tokens:          e.ExtractTokens(trace),
	}
}

// EstimateCreditsForTokens prices a token count with the flat per-1k
// estimate table. Any tokens cost at least one credit.
func (e *Engine) EstimateCreditsForTokens(model string, tokens int64, tier *licensetierdomain.LicenseTier) int64 {
	if tokens <= 0 {
		return 0
	}
	price, ok := estimatePer1K[strings.ToLower(strings.TrimSpace(model))]
	if !ok {
		price = estimatePer1K[config.DefaultModelMatch]
	}
	cost := decimal.NewFromInt(tokens).Div(thousand).Mul(price)
	cost = e.ApplyTierMultiplier(cost, tier)
	credits := e.CostToCredits(cost, tier)
	if credits < 1 {
		credits = 1
	}
	return credits
}

func (e *Engine) CostBreakdownByModel(traces []map[string]any, tier *licensetierdomain.LicenseTier) map[string]*Breakdown {
	return e.breakdown(traces, tier, func(trace map[string]any) string {
		metadata, _ := trace["metadata"].(map[string]any)
		return stringValue(metadata["model"])
	})
}

func (e *Engine) CostBreakdownByUser(traces []map[string]any, tier *licensetierdomain.LicenseTier) map[string]*Breakdown {
	return e.breakdown(traces, tier, func(trace map[string]any) string {
		return stringValue(trace["user_id"])
	})
}

func (e *Engine) breakdown(traces []map[string]any, tier *licensetierdomain.LicenseTier, keyFn func(map[string]any) string) map[string]*Breakdown {
	out := make(map[string]*Breakdown)
	for _, trace := range traces {
		key := keyFn(trace)
		if key == "" {
			key = "unknown"
		}
		priced := e.CalculateTraceCredits(trace, tier)
		entry, ok := out[key]
		if !ok {
			entry = &Breakdown{TotalCostUSD: decimal.Zero}
			out[key] = entry
		}
		entry.TotalCostUSD = entry.TotalCostUSD.Add(priced.AdjustedCostUSD)
		entry.TotalCredits += priced.Credits
		entry.TotalTokens += priced.Tokens.Total
		entry.TraceCount++
	}
	return out
}

func usageObject(trace map[string]any) map[string]any {
	for _, key := range []string{"usage", "totalUsage"} {
		if usage, ok := trace[key].(map[string]any); ok {
			return usage
		}
	}
	return map[string]any{}
}

func firstInt(source map[string]any, keys ...string) int64 {
	for _, key := range keys {
		value, ok := ParseNumber(source[key])
		if ok && value.IsPositive() {
			return value.IntPart()
		}
	}
	return 0
}

// ParseNumber accepts the number shapes JSON decoding and callers produce.
func ParseNumber(raw any) (decimal.Decimal, bool) {
	switch v := raw.(type) {
	case nil:
		return decimal.Zero, false
	case decimal.Decimal:
		return v, true
	case float64:
		return decimal.NewFromFloat(v), true
	case float32:
		return decimal.NewFromFloat32(v), true
	case int:
		return decimal.NewFromInt(int64(v)), true
	case int32:
		return decimal.NewFromInt32(v), true
	case int64:
		return decimal.NewFromInt(v), true
	case json.Number:
		d, err := decimal.NewFromString(v.String())
		return d, err == nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		return d, err == nil
	default:
		return decimal.Zero, false
	}
}

func stringValue(raw any) string {
	switch v := raw.(type) {
	case string:
		return strings.TrimSpace(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return ""
	}
}
