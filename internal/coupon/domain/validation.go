package domain

import (
	"github.com/shopspring/decimal"
)

// Reason names why a coupon was not valid. Checks run in a fixed order so
// the same request always reports the same reason.
type Reason string

const (
	ReasonNotFound            Reason = "not_found"
	ReasonNotYetValid         Reason = "not_yet_valid"
	ReasonExpired             Reason = "expired"
	ReasonExhausted           Reason = "exhausted"
	ReasonAlreadyUsedByCaller Reason = "already_used_by_caller"
	ReasonPlanNotEligible     Reason = "plan_not_eligible"
	ReasonProviderRejected    Reason = "provider_rejected"
)

// Validation is the outcome of Validate. Invalid coupons are a value with a
// Reason, not an error.
type Validation struct {
	Valid       bool            `json:"valid"`
	Reason      Reason          `json:"reason,omitempty"`
	Code        string          `json:"code"`
	Kind        Kind            `json:"kind,omitempty"`
	Amount      decimal.Decimal `json:"amount"`
	Discount    decimal.Decimal `json:"discount"`
	FinalAmount decimal.Decimal `json:"final_amount"`
	// Degraded is set when the payment provider could not be consulted and
	// the local verdict was used on its own.
	Degraded bool `json:"degraded,omitempty"`
}

func Invalid(code string, amount decimal.Decimal, reason Reason) Validation {
	return Validation{
		Valid:       false,
		Reason:      reason,
		Code:        code,
		Amount:      amount,
		Discount:    decimal.Zero,
		FinalAmount: amount,
	}
}

// NotRedeemableError is returned by Redeem when a cap or validity window
// was violated at redemption time.
type NotRedeemableError struct {
	Reason Reason
}

func (e *NotRedeemableError) Error() string {
	return ErrCouponNotRedeemable.Error() + ": " + string(e.Reason)
}

func (e *NotRedeemableError) Is(target error) bool {
	return target == ErrCouponNotRedeemable
}
