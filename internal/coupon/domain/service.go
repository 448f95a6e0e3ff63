package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, coupon *Coupon) error
	Get(ctx context.Context, db *gorm.DB, code string) (*Coupon, error)
	GetForUpdate(ctx context.Context, db *gorm.DB, code string) (*Coupon, error)
	SetActive(ctx context.Context, db *gorm.DB, code string, active bool, now time.Time) (bool, error)
	// IncrementUses bumps uses_so_far unless the total cap is reached and
	// reports whether the row was updated.
	IncrementUses(ctx context.Context, db *gorm.DB, code string, now time.Time) (bool, error)

	CountRedemptions(ctx context.Context, db *gorm.DB, code, callerID string) (int64, error)
	FindRedemption(ctx context.Context, db *gorm.DB, code, callerID, externalTransactionID string) (*Redemption, error)
	InsertRedemption(ctx context.Context, db *gorm.DB, redemption *Redemption) error
}

// ProviderChecker consults a payment provider's copy of a coupon.
type ProviderChecker interface {
	Name() string
	Check(ctx context.Context, providerCouponID string) (ProviderResult, error)
}

type ProviderResult struct {
	Valid  bool
	Detail string
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Coupon, error)
	Get(ctx context.Context, code string) (*Coupon, error)
	SetActive(ctx context.Context, code string, active bool) (*Coupon, error)

	Validate(ctx context.Context, req ValidateRequest) (Validation, error)
	Redeem(ctx context.Context, req RedeemRequest) (*Redemption, error)
}

type CreateRequest struct {
	Code             string          `json:"code"`
	Kind             Kind            `json:"kind"`
	Value            decimal.Decimal `json:"value"`
	ValidFrom        time.Time       `json:"valid_from"`
	ValidUntil       time.Time       `json:"valid_until"`
	MaxTotalUses     *int64          `json:"max_total_uses"`
	MaxUsesPerCaller int64           `json:"max_uses_per_caller"`
	EligiblePlans    []string        `json:"eligible_plans"`
	ProviderCouponID *string         `json:"provider_coupon_id"`
	Metadata         map[string]any  `json:"metadata"`
}

type ValidateRequest struct {
	Code     string          `json:"code"`
	CallerID string          `json:"caller_id"`
	PlanID   string          `json:"plan_id"`
	Amount   decimal.Decimal `json:"amount"`
}

type RedeemRequest struct {
	Code                  string `json:"code"`
	CallerID              string `json:"caller_id"`
	ExternalTransactionID string `json:"external_transaction_id"`
}

var (
	ErrInvalidCode         = errors.New("invalid_code")
	ErrInvalidKind         = errors.New("invalid_kind")
	ErrInvalidValue        = errors.New("invalid_value")
	ErrInvalidWindow       = errors.New("invalid_validity_window")
	ErrInvalidCaps         = errors.New("invalid_caps")
	ErrInvalidCaller       = errors.New("invalid_caller")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidTransaction  = errors.New("invalid_external_transaction_id")
	ErrCouponExists        = errors.New("coupon_exists")
	ErrCouponNotFound      = errors.New("coupon_not_found")
	ErrCouponNotRedeemable = errors.New("coupon_not_redeemable")
)
