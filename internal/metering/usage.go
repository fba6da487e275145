package metering

import (
	"strings"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/creditline/internal/pricing"
)

// Provider names the response shape a call was reported in.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderLangChain Provider = "langchain"
)

// ProviderResponse is one completed model call as reported by the workflow
// engine. Payload is the decoded response body of the provider or framework.
type ProviderResponse struct {
	Provider Provider       `json:"provider"`
	Model    string         `json:"model"`
	Payload  map[string]any `json:"payload"`
}

// UsageRecord is the canonical usage of one call.
type UsageRecord struct {
	Model        string          `json:"model"`
	InputTokens  int64           `json:"input_tokens"`
	OutputTokens int64           `json:"output_tokens"`
	TotalTokens  int64           `json:"total_tokens"`
	CostUSD      decimal.Decimal `json:"cost_usd"`
	CostReported bool            `json:"cost_reported"`
}

type usageAdapter interface {
	extract(resp ProviderResponse) (UsageRecord, error)
}

var adapters = map[Provider]usageAdapter{
	ProviderOpenAI:    openAIAdapter{},
	ProviderAnthropic: anthropicAdapter{},
	ProviderLangChain: langChainAdapter{},
}

var costKeys = []string{"cost", "total_cost", "usage_cost", "price", "total_price"}

// ExtractUsage converts a provider response into a UsageRecord. CostUSD is
// only set when the response reported it.
func ExtractUsage(resp ProviderResponse) (UsageRecord, error) {
	provider := Provider(strings.ToLower(strings.TrimSpace(string(resp.Provider))))
	if provider == "" {
		provider = detectProvider(resp.Payload)
	}
	adapter, ok := adapters[provider]
	if !ok {
		return UsageRecord{Model: modelOrUnknown(resp.Model)}, ErrUnsupportedProvider
	}
	record, err := adapter.extract(resp)
	if record.Model == "" {
		record.Model = modelOrUnknown(resp.Model)
	}
	if record.TotalTokens == 0 {
		record.TotalTokens = record.InputTokens + record.OutputTokens
	}
	return record, err
}

func detectProvider(payload map[string]any) Provider {
	for _, key := range []string{"llm_output", "usage_metadata", "response_metadata", "generation_info"} {
		if _, ok := payload[key]; ok {
			return ProviderLangChain
		}
	}
	usage := object(payload, "usage")
	if _, ok := usage["prompt_tokens"]; ok {
		return ProviderOpenAI
	}
	if _, ok := usage["input_tokens"]; ok {
		return ProviderAnthropic
	}
	return ProviderOpenAI
}

// openAIAdapter reads chat completion and responses API bodies.
type openAIAdapter struct{}

func (openAIAdapter) extract(resp ProviderResponse) (UsageRecord, error) {
	usage := object(resp.Payload, "usage")
	if len(usage) == 0 {
		return UsageRecord{Model: firstString(resp.Payload, "model")}, ErrUnrecognizedUsage
	}
	record := UsageRecord{
		Model:        firstString(resp.Payload, "model"),
		InputTokens:  firstInt(usage, "prompt_tokens", "input_tokens"),
		OutputTokens: firstInt(usage, "completion_tokens", "output_tokens"),
		TotalTokens:  firstInt(usage, "total_tokens"),
	}
	record.CostUSD, record.CostReported = firstCost(resp.Payload, usage)
	return record, nil
}

// anthropicAdapter reads messages API bodies.
type anthropicAdapter struct{}

func (anthropicAdapter) extract(resp ProviderResponse) (UsageRecord, error) {
	usage := object(resp.Payload, "usage")
	if len(usage) == 0 {
		return UsageRecord{Model: firstString(resp.Payload, "model")}, ErrUnrecognizedUsage
	}
	record := UsageRecord{
		Model:        firstString(resp.Payload, "model"),
		InputTokens:  firstInt(usage, "input_tokens"),
		OutputTokens: firstInt(usage, "output_tokens"),
	}
	record.CostUSD, record.CostReported = firstCost(resp.Payload, usage)
	return record, nil
}

// langChainAdapter reads LLMResult style payloads: llm_output.token_usage,
// message usage_metadata, response_metadata and generation_info.
type langChainAdapter struct{}

func (langChainAdapter) extract(resp ProviderResponse) (UsageRecord, error) {
	llmOutput := object(resp.Payload, "llm_output")
	responseMeta := object(resp.Payload, "response_metadata")
	generationInfo := object(resp.Payload, "generation_info")
	usageMeta := object(resp.Payload, "usage_metadata")

	var tokenUsage map[string]any
	for _, candidate := range []map[string]any{
		object(llmOutput, "token_usage"),
		object(llmOutput, "usage"),
		object(generationInfo, "usage"),
		object(generationInfo, "token_usage"),
		object(responseMeta, "token_usage"),
		object(responseMeta, "usage"),
		object(resp.Payload, "token_usage"),
		usageMeta,
	} {
		if len(candidate) > 0 {
			tokenUsage = candidate
			break
		}
	}

	model := firstString(llmOutput, "model_name", "model")
	if model == "" {
		model = firstString(responseMeta, "model_name", "model")
	}
	if model == "" {
		model = firstString(generationInfo, "model_name", "model")
	}
	if model == "" {
		model = firstString(tokenUsage, "model")
	}

	record := UsageRecord{Model: model}
	record.CostUSD, record.CostReported = firstCost(responseMeta, usageMeta, generationInfo, llmOutput, tokenUsage, resp.Payload)
	if len(tokenUsage) == 0 {
		return record, ErrUnrecognizedUsage
	}
	record.InputTokens = firstInt(tokenUsage, "prompt_tokens", "input_tokens")
	record.OutputTokens = firstInt(tokenUsage, "completion_tokens", "output_tokens")
	record.TotalTokens = firstInt(tokenUsage, "total_tokens")
	return record, nil
}

func object(source map[string]any, key string) map[string]any {
	if source == nil {
		return nil
	}
	value, _ := source[key].(map[string]any)
	return value
}

func firstString(source map[string]any, keys ...string) string {
	for _, key := range keys {
		if value, ok := source[key].(string); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

func firstInt(source map[string]any, keys ...string) int64 {
	for _, key := range keys {
		value, ok := pricing.ParseNumber(source[key])
		if ok && value.IsPositive() {
			return value.IntPart()
		}
	}
	return 0
}

func firstCost(sources ...map[string]any) (decimal.Decimal, bool) {
	for _, source := range sources {
		for _, key := range costKeys {
			value, ok := pricing.ParseNumber(source[key])
			if ok && value.IsPositive() {
				return value, true
			}
		}
	}
	return decimal.Zero, false
}

func modelOrUnknown(model string) string {
	model = strings.TrimSpace(model)
	if model == "" {
		return "unknown"
	}
	return model
}
