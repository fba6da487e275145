package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/creditline/internal/authorization"
	creditsdomain "github.com/smallbiznis/creditline/internal/credits/domain"
	ledgerdomain "github.com/smallbiznis/creditline/internal/ledger/domain"
	licensepooldomain "github.com/smallbiznis/creditline/internal/licensepool/domain"
	licensetierdomain "github.com/smallbiznis/creditline/internal/licensetier/domain"
	limitsdomain "github.com/smallbiznis/creditline/internal/limits/domain"
	"github.com/smallbiznis/creditline/internal/metering"
	subscriptiondomain "github.com/smallbiznis/creditline/internal/subscription/domain"
	tenantdomain "github.com/smallbiznis/creditline/internal/tenant/domain"
	userdomain "github.com/smallbiznis/creditline/internal/user/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
	Details map[string]any    `json:"details,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

// errorClass maps a group of domain sentinels onto one HTTP status.
type errorClass struct {
	status  int
	errType string
	errs    []error
}

var errorClasses = []errorClass{
	{http.StatusUnauthorized, "unauthorized", []error{
		ErrUnauthorized,
		authorization.ErrInvalidActor,
	}},
	{http.StatusForbidden, "forbidden", []error{
		ErrForbidden,
		authorization.ErrForbidden,
	}},
	{http.StatusForbidden, "limit_exceeded", []error{
		limitsdomain.ErrFlowLimitExceeded,
		limitsdomain.ErrAPICallLimitExceeded,
	}},
	{http.StatusPaymentRequired, "insufficient_credits", []error{
		ledgerdomain.ErrInsufficientCredits,
	}},
	{http.StatusUnprocessableEntity, "unprocessable", []error{
		licensepooldomain.ErrNoActiveLicense,
		subscriptiondomain.ErrSubscriptionNotActive,
	}},
	{http.StatusNotFound, "not_found", []error{
		ErrNotFound,
		tenantdomain.ErrTenantNotFound,
		licensetierdomain.ErrTierNotFound,
		userdomain.ErrUserNotFound,
		licensepooldomain.ErrPoolNotFound,
		subscriptiondomain.ErrSubscriptionNotFound,
		metering.ErrExecutionNotFound,
		gorm.ErrRecordNotFound,
	}},
	{http.StatusConflict, "conflict", []error{
		licensepooldomain.ErrAlreadyLicensed,
		licensepooldomain.ErrPoolExhausted,
		licensepooldomain.ErrPoolReductionBelowAssigned,
		licensetierdomain.ErrTierInUse,
		licensetierdomain.ErrTierNameTaken,
		tenantdomain.ErrTenantInUse,
		tenantdomain.ErrSlugUnavailable,
		userdomain.ErrEmailTaken,
		subscriptiondomain.ErrActiveSubscriptionExists,
		ledgerdomain.ErrDuplicateUsageRecord,
		ledgerdomain.ErrNothingToRefund,
		metering.ErrAlreadyFinalized,
		metering.ErrFinalizeInProgress,
		metering.ErrExecutionExists,
	}},
	{http.StatusTooManyRequests, "rate_limited", []error{
		ErrRateLimited,
	}},
	{http.StatusServiceUnavailable, "service_unavailable", []error{
		ErrServiceUnavailable,
	}},
}

var validationErrs = []error{
	ErrInvalidRequest,
	authorization.ErrInvalidTenant,
	authorization.ErrInvalidObject,
	authorization.ErrInvalidAction,
	tenantdomain.ErrInvalidTenantID,
	tenantdomain.ErrInvalidTenantName,
	tenantdomain.ErrInvalidStatus,
	tenantdomain.ErrInvalidPageToken,
	licensetierdomain.ErrInvalidTierID,
	licensetierdomain.ErrInvalidTierName,
	licensetierdomain.ErrInvalidDefaultCredits,
	licensetierdomain.ErrInvalidCreditsPerUSD,
	licensetierdomain.ErrInvalidMultiplier,
	licensetierdomain.ErrInvalidLimit,
	licensetierdomain.ErrInvalidPrice,
	userdomain.ErrInvalidUserID,
	userdomain.ErrInvalidEmail,
	userdomain.ErrInvalidRole,
	userdomain.ErrInvalidTenantID,
	licensepooldomain.ErrInvalidTotalCount,
	licensepooldomain.ErrInvalidTenantID,
	licensepooldomain.ErrInvalidTierID,
	licensepooldomain.ErrInvalidUserID,
	ledgerdomain.ErrInvalidCredits,
	ledgerdomain.ErrInvalidUserID,
	ledgerdomain.ErrInvalidTransactionType,
	ledgerdomain.ErrInvalidPageToken,
	creditsdomain.ErrInvalidUserID,
	creditsdomain.ErrInvalidTenantID,
	creditsdomain.ErrInvalidFlowID,
	limitsdomain.ErrInvalidUserID,
	subscriptiondomain.ErrInvalidSubscriptionID,
	subscriptiondomain.ErrInvalidTenantID,
	subscriptiondomain.ErrInvalidTierID,
	subscriptiondomain.ErrInvalidLicenseCount,
	subscriptiondomain.ErrInvalidAmount,
	metering.ErrInvalidExecution,
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if sentinel := matchSentinel(err, validationErrs); sentinel != nil {
		code := sentinel.Error()
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	for _, class := range errorClasses {
		if sentinel := matchSentinel(err, class.errs); sentinel != nil {
			return class.status, errorPayload{
				Type:    class.errType,
				Message: sentinel.Error(),
				Details: errorDetails(err),
			}
		}
	}

	return http.StatusInternalServerError, errorPayload{
		Type:    "internal_error",
		Message: "internal server error",
	}
}

func matchSentinel(err error, sentinels []error) error {
	for _, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			return sentinel
		}
	}
	return nil
}

// errorDetails exposes the counters carried by pool, credit and limit errors.
func errorDetails(err error) map[string]any {
	var poolErr *licensepooldomain.PoolError
	if errors.As(err, &poolErr) {
		return map[string]any{
			"tenant_id": poolErr.TenantID,
			"tier_id":   poolErr.TierID,
			"available": poolErr.Available,
			"assigned":  poolErr.Assigned,
			"requested": poolErr.Requested,
		}
	}
	var creditsErr *ledgerdomain.InsufficientCreditsError
	if errors.As(err, &creditsErr) {
		return map[string]any{
			"user_id":   creditsErr.UserID,
			"required":  creditsErr.Required,
			"available": creditsErr.Available,
		}
	}
	var limitErr *limitsdomain.LimitError
	if errors.As(err, &limitErr) {
		return map[string]any{
			"limit_type": string(limitErr.Kind),
			"user_id":    limitErr.UserID,
			"current":    limitErr.Current,
			"limit":      limitErr.Limit,
		}
	}
	return nil
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	default:
		return "invalid value"
	}
}

// classifyErrorForLog feeds the request logger the same type and code the
// client sees.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	code := payload.Message
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}
