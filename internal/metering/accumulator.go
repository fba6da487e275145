package metering

import (
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ExecutionContext identifies one workflow execution.
type ExecutionContext struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
	FlowID   string `json:"flow_id"`
	TraceID  string `json:"trace_id"`
}

// State is the settlement state of an accumulator.
type State string

const (
	StateOpen       State = "open"
	StateFinalizing State = "finalizing"
	StateSettled    State = "settled"
	StateFailed     State = "failed"
)

// CostEstimator prices tokens when a call did not report its cost.
type CostEstimator interface {
	EstimateCallCost(model string, inputTokens, outputTokens int64) decimal.Decimal
}

// ModelUsage aggregates the calls made to one model.
type ModelUsage struct {
	InputTokens  int64           `json:"input_tokens"`
	OutputTokens int64           `json:"output_tokens"`
	TotalTokens  int64           `json:"total_tokens"`
	TotalCostUSD decimal.Decimal `json:"total_cost_usd"`
	CallCount    int64           `json:"call_count"`
}

// Usage is a snapshot of everything accumulated for an execution.
type Usage struct {
	InputTokens  int64                  `json:"input_tokens"`
	OutputTokens int64                  `json:"output_tokens"`
	TotalTokens  int64                  `json:"total_tokens"`
	CostUSD      decimal.Decimal        `json:"cost_usd"`
	CallCount    int                    `json:"llm_calls_count"`
	Models       map[string]*ModelUsage `json:"model_usage"`
}

// Accumulator collects the usage of every model call in one execution and
// is settled at most once.
type Accumulator struct {
	exec          ExecutionContext
	usageRecordID string
	estimator     CostEstimator
	log           *zap.Logger

	mu    sync.Mutex
	calls []UsageRecord
	usage Usage
	state State
}

// NewAccumulator starts accumulating for exec. Executions without a trace id
// get a generated ULID so the settlement can still be deduplicated.
func NewAccumulator(exec ExecutionContext, estimator CostEstimator, log *zap.Logger) *Accumulator {
	exec.UserID = strings.TrimSpace(exec.UserID)
	exec.TenantID = strings.TrimSpace(exec.TenantID)
	exec.FlowID = strings.TrimSpace(exec.FlowID)
	exec.TraceID = strings.TrimSpace(exec.TraceID)
	recordID := exec.TraceID
	if recordID == "" {
		recordID = ulid.Make().String()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Accumulator{
		exec:          exec,
		usageRecordID: recordID,
		estimator:     estimator,
		log: log.With(
			zap.String("user_id", exec.UserID),
			zap.String("tenant_id", exec.TenantID),
			zap.String("flow_id", exec.FlowID),
			zap.String("trace_id", recordID),
		),
		usage: Usage{CostUSD: decimal.Zero, Models: map[string]*ModelUsage{}},
		state: StateOpen,
	}
}

func (a *Accumulator) Execution() ExecutionContext { return a.exec }

// UsageRecordID is the idempotency key of the settlement.
func (a *Accumulator) UsageRecordID() string { return a.usageRecordID }

// RecordCall adds one call. Malformed usage never fails the call: it is
// recorded with whatever could be read and priced from the default table.
func (a *Accumulator) RecordCall(resp ProviderResponse) (UsageRecord, error) {
	record, err := ExtractUsage(resp)
	if err != nil {
		a.log.Warn("metering.usage.fallback",
			zap.String("provider", string(resp.Provider)),
			zap.String("model", record.Model),
			zap.Error(err),
		)
	}
	if !record.CostReported && a.estimator != nil {
		record.CostUSD = a.estimator.EstimateCallCost(record.Model, record.InputTokens, record.OutputTokens).Round(8)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == StateSettled || a.state == StateFinalizing {
		return record, ErrAlreadyFinalized
	}

	a.calls = append(a.calls, record)
	a.usage.InputTokens += record.InputTokens
	a.usage.OutputTokens += record.OutputTokens
	a.usage.TotalTokens += record.TotalTokens
	a.usage.CostUSD = a.usage.CostUSD.Add(record.CostUSD)
	a.usage.CallCount++

	model, ok := a.usage.Models[record.Model]
	if !ok {
		model = &ModelUsage{TotalCostUSD: decimal.Zero}
		a.usage.Models[record.Model] = model
	}
	model.InputTokens += record.InputTokens
	model.OutputTokens += record.OutputTokens
	model.TotalTokens += record.TotalTokens
	model.TotalCostUSD = model.TotalCostUSD.Add(record.CostUSD)
	model.CallCount++

	a.log.Info("metering.usage.captured",
		zap.String("model", record.Model),
		zap.Int64("input_tokens", record.InputTokens),
		zap.Int64("output_tokens", record.OutputTokens),
		zap.Int64("total_tokens", record.TotalTokens),
		zap.String("cost_usd", record.CostUSD.String()),
		zap.Bool("cost_reported", record.CostReported),
	)
	return record, nil
}

// Snapshot returns a copy of the accumulated usage.
func (a *Accumulator) Snapshot() Usage {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.usage
	out.Models = make(map[string]*ModelUsage, len(a.usage.Models))
	for name, model := range a.usage.Models {
		copied := *model
		out.Models[name] = &copied
	}
	return out
}

func (a *Accumulator) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Accumulator) beginFinalize() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch a.state {
	case StateSettled:
		return ErrAlreadyFinalized
	case StateFinalizing:
		return ErrFinalizeInProgress
	}
	a.state = StateFinalizing
	return nil
}

func (a *Accumulator) settle() {
	a.mu.Lock()
	a.state = StateSettled
	a.mu.Unlock()
}

// fail keeps the accumulated usage so finalize can be retried.
func (a *Accumulator) fail() {
	a.mu.Lock()
	a.state = StateFailed
	a.mu.Unlock()
}
