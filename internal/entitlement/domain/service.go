package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Repository interface {
	GetPlan(ctx context.Context, db *gorm.DB, planID string) (*Plan, error)
	// GetPlanForShare blocks concurrent term edits until the transaction ends.
	GetPlanForShare(ctx context.Context, db *gorm.DB, planID string) (*Plan, error)
	GetPlanForUpdate(ctx context.Context, db *gorm.DB, planID string) (*Plan, error)
	// PlanReferenced reports whether any subscription uses planID now or
	// any recorded plan change ever moved a tenant onto or off it.
	PlanReferenced(ctx context.Context, db *gorm.DB, planID string) (bool, error)
	UpsertPlan(ctx context.Context, db *gorm.DB, plan *Plan) error
	ReplaceAllowances(ctx context.Context, db *gorm.DB, planID string, allowances []PlanAllowance) error

	GetSubscription(ctx context.Context, db *gorm.DB, tenantID string) (*Subscription, error)
	GetSubscriptionForUpdate(ctx context.Context, db *gorm.DB, tenantID string) (*Subscription, error)
	InsertSubscription(ctx context.Context, db *gorm.DB, sub *Subscription) error
	// SwapPlan writes plan and modules only when the stored version still
	// equals expectedVersion. It reports whether the row was updated.
	SwapPlan(ctx context.Context, db *gorm.DB, tenantID string, expectedVersion int64, planID string, modules []string, now time.Time) (bool, error)

	InsertPlanChange(ctx context.Context, db *gorm.DB, change *PlanChange) error
	ListPlanChanges(ctx context.Context, db *gorm.DB, tenantID string) ([]PlanChange, error)
}

// UsageReader exposes the metered quantity of one resource in one period.
type UsageReader interface {
	GetQuantity(ctx context.Context, db *gorm.DB, tenantID, periodKey string, resource ResourceKind) (int64, error)
}

type Service interface {
	UpsertPlan(ctx context.Context, req UpsertPlanRequest) (*Plan, error)
	GetPlan(ctx context.Context, planID string) (*Plan, error)

	Subscribe(ctx context.Context, req SubscribeRequest) (*Subscription, error)
	ResolveTenant(ctx context.Context, tenantID string) (*TenantPlan, error)
	HasModule(ctx context.Context, tenantID, module string) (bool, error)

	CheckAllowance(ctx context.Context, tenantID string, resource ResourceKind, quantity int64) (AllowanceResult, error)
	ApplyPlanChange(ctx context.Context, tenantID, newPlanID string) (ModuleDiff, error)
	ListPlanChanges(ctx context.Context, tenantID string) ([]PlanChange, error)
}

type AllowanceInput struct {
	Resource         ResourceKind    `json:"resource"`
	Included         int64           `json:"included"`
	OverageUnitPrice decimal.Decimal `json:"overage_unit_price"`
	HardCap          bool            `json:"hard_cap"`
}

type UpsertPlanRequest struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	PricePerMonth decimal.Decimal  `json:"price_per_month"`
	Modules       []string         `json:"modules"`
	Allowances    []AllowanceInput `json:"allowances"`
}

type SubscribeRequest struct {
	TenantID string `json:"tenant_id"`
	PlanID   string `json:"plan_id"`
	Timezone string `json:"timezone"`
}

type AllowanceOutcome string

const (
	OutcomeWithinLimit AllowanceOutcome = "within_limit"
	OutcomeWouldExceed AllowanceOutcome = "would_exceed"
	OutcomeRejected    AllowanceOutcome = "rejected"
)

// AllowanceResult is the verdict of CheckAllowance. WouldExceed is not an
// error; the operation proceeds and the overage is billed.
type AllowanceResult struct {
	Outcome     AllowanceOutcome `json:"outcome"`
	Resource    ResourceKind     `json:"resource"`
	PeriodKey   string           `json:"period"`
	Used        int64            `json:"used"`
	Requested   int64            `json:"requested"`
	Included    int64            `json:"included"`
	Unlimited   bool             `json:"unlimited"`
	HardCap     bool             `json:"hard_cap"`
	OverageCost decimal.Decimal  `json:"overage_cost"`
}

func (r AllowanceResult) Rejected() bool { return r.Outcome == OutcomeRejected }

var (
	ErrInvalidTenant       = errors.New("invalid_tenant")
	ErrInvalidPlan         = errors.New("invalid_plan")
	ErrInvalidPlanName     = errors.New("invalid_plan_name")
	ErrInvalidPrice        = errors.New("invalid_price")
	ErrInvalidAllowance    = errors.New("invalid_allowance")
	ErrInvalidResource     = errors.New("invalid_resource")
	ErrInvalidQuantity     = errors.New("invalid_quantity")
	ErrInvalidModule       = errors.New("invalid_module")
	ErrInvalidTimezone     = errors.New("invalid_timezone")
	ErrPlanNotFound        = errors.New("plan_not_found")
	ErrPlanInUse           = errors.New("plan_in_use")
	ErrSubscriptionExists  = errors.New("subscription_exists")
	ErrSubscriptionMissing = errors.New("subscription_not_found")
)
