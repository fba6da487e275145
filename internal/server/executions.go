package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/creditline/internal/authorization"
	creditsdomain "github.com/smallbiznis/creditline/internal/credits/domain"
	licensetierdomain "github.com/smallbiznis/creditline/internal/licensetier/domain"
	"github.com/smallbiznis/creditline/internal/metering"
	"github.com/smallbiznis/creditline/internal/pricing"
)

type startExecutionRequest struct {
	UserID           string `json:"user_id"`
	FlowID           string `json:"flow_id"`
	TraceID          string `json:"trace_id"`
	EstimatedCredits int64  `json:"estimated_credits"`
}

type executionView struct {
	UsageRecordID string                     `json:"usage_record_id"`
	State         metering.State             `json:"state"`
	Execution     metering.ExecutionContext  `json:"execution"`
	Usage         metering.Usage             `json:"usage"`
	Check         *creditsdomain.CheckResult `json:"check,omitempty"`
	Call          *metering.UsageRecord      `json:"call,omitempty"`
	Result        *metering.FinalizeResult   `json:"result,omitempty"`
}

func newExecutionView(acc *metering.Accumulator) executionView {
	return executionView{
		UsageRecordID: acc.UsageRecordID(),
		State:         acc.State(),
		Execution:     acc.Execution(),
		Usage:         acc.Snapshot(),
	}
}

// StartExecution gates an execution on the user's balance and opens its
// accumulator. Users without a license run unbilled.
func (s *Server) StartExecution(c *gin.Context) {
	var req startExecutionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	ctx := c.Request.Context()

	user, err := s.userSvc.Get(ctx, strings.TrimSpace(req.UserID))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.authorize(c, user.TenantID, authorization.ObjectExecution, authorization.ActionExecutionStart); err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.allowIngest(c, user.TenantID); err != nil {
		AbortWithError(c, err)
		return
	}

	estimated, err := s.estimateCredits(c, req.EstimatedCredits, req.FlowID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	check, err := s.creditsSvc.CheckCanExecute(ctx, user.ID, estimated)
	switch {
	case errors.Is(err, creditsdomain.ErrNoActiveLicense):
		check = &creditsdomain.CheckResult{CanExecute: true, Unbilled: true}
	case err != nil:
		AbortWithError(c, err)
		return
	}

	acc := s.meteringSvc.NewAccumulator(metering.ExecutionContext{
		UserID:   user.ID,
		TenantID: user.TenantID,
		FlowID:   req.FlowID,
		TraceID:  req.TraceID,
	})
	settled, err := s.ledgerSvc.FindDeduction(ctx, acc.UsageRecordID())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if settled != nil {
		AbortWithError(c, metering.ErrAlreadyFinalized)
		return
	}
	if err := s.executions.Put(acc); err != nil {
		AbortWithError(c, err)
		return
	}

	view := newExecutionView(acc)
	view.Check = check
	c.JSON(http.StatusOK, gin.H{"data": view})
}

// executionInScope loads the open accumulator for the path trace id and
// authorizes the caller in its tenant.
func (s *Server) executionInScope(c *gin.Context, action string) (*metering.Accumulator, error) {
	acc, err := s.executions.Get(c.Param("trace_id"))
	if err != nil {
		return nil, err
	}
	if err := s.authorize(c, acc.Execution().TenantID, authorization.ObjectExecution, action); err != nil {
		return nil, err
	}
	return acc, nil
}

func (s *Server) RecordExecutionCall(c *gin.Context) {
	var req metering.ProviderResponse
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	acc, err := s.executionInScope(c, authorization.ActionExecutionRecord)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.allowIngest(c, acc.Execution().TenantID); err != nil {
		AbortWithError(c, err)
		return
	}

	record, err := s.meteringSvc.RecordCall(c.Request.Context(), acc, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	view := newExecutionView(acc)
	view.Call = &record
	c.JSON(http.StatusOK, gin.H{"data": view})
}

// FinalizeExecution settles the execution. A failed settlement keeps its
// usage and may be retried.
func (s *Server) FinalizeExecution(c *gin.Context) {
	acc, err := s.executionInScope(c, authorization.ActionExecutionFinalize)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.meteringSvc.FinalizeAndDeduct(c.Request.Context(), acc)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	view := newExecutionView(acc)
	view.Result = result
	c.JSON(http.StatusOK, gin.H{"data": view})
}

type estimatePricingRequest struct {
	Model  string         `json:"model"`
	Tokens int64          `json:"tokens"`
	TierID string         `json:"tier_id"`
	Trace  map[string]any `json:"trace"`
}

type estimatePricingResponse struct {
	Credits int64                 `json:"credits"`
	TierID  string                `json:"tier_id,omitempty"`
	Trace   *pricing.TraceCredits `json:"trace,omitempty"`
}

// EstimatePricing prices either a reported trace or a bare token count.
func (s *Server) EstimatePricing(c *gin.Context) {
	var req estimatePricingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.Trace == nil && req.Tokens <= 0 {
		AbortWithError(c, newValidationError("tokens", "invalid_tokens", "tokens or trace is required"))
		return
	}

	var tier *licensetierdomain.LicenseTier
	if tierID := strings.TrimSpace(req.TierID); tierID != "" {
		found, err := s.tierSvc.Get(c.Request.Context(), tierID)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		tier = found
	}

	resp := estimatePricingResponse{}
	if tier != nil {
		resp.TierID = tier.ID
	}
	if req.Trace != nil {
		priced := s.pricingEngine.CalculateTraceCredits(req.Trace, tier)
		resp.Credits = priced.Credits
		resp.Trace = &priced
	} else {
		resp.Credits = s.pricingEngine.EstimateCreditsForTokens(req.Model, req.Tokens, tier)
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
