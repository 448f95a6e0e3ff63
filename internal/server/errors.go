package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	coupondomain "github.com/smallbiznis/quota/internal/coupon/domain"
	entitlementdomain "github.com/smallbiznis/quota/internal/entitlement/domain"
	"github.com/smallbiznis/quota/internal/failure"
	"github.com/smallbiznis/quota/internal/ratelimit"
	usagedomain "github.com/smallbiznis/quota/internal/usage/domain"
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
	Reason  string            `json:"reason,omitempty"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrTenantRequired     = errors.New("tenant_required")
	ErrCallerRequired     = errors.New("caller_required")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

// hardCapError carries the allowance verdict that refused a usage record.
type hardCapError struct {
	result entitlementdomain.AllowanceResult
}

func (e *hardCapError) Error() string {
	return "hard_cap_reached: " + string(e.result.Resource)
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

	if isValidationError(err) {
		code := validationErrorCode(err)
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

	var nre *coupondomain.NotRedeemableError
	var capErr *hardCapError
	var recordCapErr *usagedomain.HardCapError
	switch {
	case errors.As(err, &nre):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "coupon_not_redeemable",
			Message: "coupon cannot be redeemed",
			Reason:  string(nre.Reason),
		}
	case errors.As(err, &capErr):
		return http.StatusForbidden, errorPayload{
			Type:    "hard_cap_reached",
			Message: "plan allowance exhausted",
			Reason:  string(capErr.result.Resource),
		}
	case errors.As(err, &recordCapErr):
		return http.StatusForbidden, errorPayload{
			Type:    "hard_cap_reached",
			Message: "plan allowance exhausted",
			Reason:  string(recordCapErr.Resource),
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, usagedomain.ErrPeriodClosed):
		return http.StatusConflict, errorPayload{
			Type:    "period_closed",
			Message: "billing period is closed",
		}
	case errors.Is(err, entitlementdomain.ErrPlanInUse):
		return http.StatusConflict, errorPayload{
			Type:    "plan_in_use",
			Message: "plan terms are fixed once a tenant references the plan",
		}
	case errors.Is(err, coupondomain.ErrCouponExists),
		errors.Is(err, entitlementdomain.ErrSubscriptionExists):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "conflict",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, failure.ErrStoreUnavailable),
		errors.Is(err, failure.ErrConcurrencyConflict),
		errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	case errors.Is(err, failure.ErrConfiguration):
		return http.StatusInternalServerError, errorPayload{
			Type:    "configuration_error",
			Message: "tenant configuration is incomplete",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog returns the error type and code attached to request logs.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	code := payload.Reason
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	if code == "" {
		code = http.StatusText(status)
	}
	return payload.Type, code
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ErrTenantRequired),
		errors.Is(err, ErrCallerRequired),
		errors.Is(err, ratelimit.ErrInvalidKey):
		return true
	case isEntitlementValidationError(err),
		isUsageValidationError(err),
		isCouponValidationError(err):
		return true
	default:
		return false
	}
}

func isEntitlementValidationError(err error) bool {
	switch {
	case errors.Is(err, entitlementdomain.ErrInvalidTenant),
		errors.Is(err, entitlementdomain.ErrInvalidPlan),
		errors.Is(err, entitlementdomain.ErrInvalidPlanName),
		errors.Is(err, entitlementdomain.ErrInvalidPrice),
		errors.Is(err, entitlementdomain.ErrInvalidAllowance),
		errors.Is(err, entitlementdomain.ErrInvalidResource),
		errors.Is(err, entitlementdomain.ErrInvalidQuantity),
		errors.Is(err, entitlementdomain.ErrInvalidModule),
		errors.Is(err, entitlementdomain.ErrInvalidTimezone):
		return true
	default:
		return false
	}
}

func isUsageValidationError(err error) bool {
	switch {
	case errors.Is(err, usagedomain.ErrInvalidTenant),
		errors.Is(err, usagedomain.ErrInvalidResource),
		errors.Is(err, usagedomain.ErrInvalidQuantity),
		errors.Is(err, usagedomain.ErrInvalidOccurredAt),
		errors.Is(err, usagedomain.ErrInvalidPeriod),
		errors.Is(err, usagedomain.ErrInvalidPageToken):
		return true
	default:
		return false
	}
}

func isCouponValidationError(err error) bool {
	switch {
	case errors.Is(err, coupondomain.ErrInvalidCode),
		errors.Is(err, coupondomain.ErrInvalidKind),
		errors.Is(err, coupondomain.ErrInvalidValue),
		errors.Is(err, coupondomain.ErrInvalidWindow),
		errors.Is(err, coupondomain.ErrInvalidCaps),
		errors.Is(err, coupondomain.ErrInvalidCaller),
		errors.Is(err, coupondomain.ErrInvalidAmount),
		errors.Is(err, coupondomain.ErrInvalidTransaction):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, entitlementdomain.ErrPlanNotFound),
		errors.Is(err, entitlementdomain.ErrSubscriptionMissing),
		errors.Is(err, coupondomain.ErrCouponNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ratelimit.ErrInvalidKey):
		return "caller_required"
	default:
		return err.Error()
	}
}

func validationErrorField(code string) string {
	switch {
	case code == "invalid_request":
		return "request"
	case strings.HasPrefix(code, "invalid_"):
		return strings.TrimPrefix(code, "invalid_")
	case strings.HasSuffix(code, "_required"):
		return strings.TrimSuffix(code, "_required")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch {
	case code == "invalid_request":
		return "invalid request"
	case strings.HasSuffix(code, "_required"):
		return "value is required"
	default:
		return "invalid value"
	}
}
