package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	entitlementdomain "github.com/smallbiznis/quota/internal/entitlement/domain"
	"gorm.io/gorm"
)

type Repository interface {
	EnsurePeriod(ctx context.Context, db *gorm.DB, period *BillingPeriod) error
	GetPeriod(ctx context.Context, db *gorm.DB, tenantID, periodKey string) (*BillingPeriod, error)
	GetPeriodForUpdate(ctx context.Context, db *gorm.DB, tenantID, periodKey string) (*BillingPeriod, error)
	ListPeriods(ctx context.Context, db *gorm.DB, tenantID, beforeKey string, limit int) ([]BillingPeriod, error)
	UpdateCost(ctx context.Context, db *gorm.DB, tenantID, periodKey string, cost decimal.Decimal, now time.Time) error

	IncrementUsage(ctx context.Context, db *gorm.DB, usage PeriodUsage) error
	ListUsage(ctx context.Context, db *gorm.DB, tenantID, periodKey string) ([]PeriodUsage, error)
	GetQuantity(ctx context.Context, db *gorm.DB, tenantID, periodKey string, resource entitlementdomain.ResourceKind) (int64, error)

	// ListOpenPeriods returns open periods keyed before beforeKey, ordered by
	// (period_key, tenant_id) and strictly after the cursor.
	ListOpenPeriods(ctx context.Context, db *gorm.DB, beforeKey string, after PeriodCursor, limit int) ([]OpenPeriod, error)
	ClosePeriod(ctx context.Context, db *gorm.DB, tenantID, periodKey string, closedAt time.Time) (bool, error)
}

type Service interface {
	Record(ctx context.Context, req RecordRequest) (*BillingPeriod, error)
	GetCurrentPeriod(ctx context.Context, tenantID string) (*BillingPeriod, error)
	PercentageOf(ctx context.Context, tenantID string, resource entitlementdomain.ResourceKind) (float64, error)
	CurrentUsage(ctx context.Context, tenantID string) (*CurrentUsage, error)
	ListPeriods(ctx context.Context, req ListPeriodsRequest) (*ListPeriodsResponse, error)
	ClosePeriods(ctx context.Context, req ClosePeriodsRequest) (ClosePeriodsResult, error)
}

type RecordRequest struct {
	TenantID   string                         `json:"tenant_id"`
	Resource   entitlementdomain.ResourceKind `json:"resource"`
	Quantity   int64                          `json:"quantity"`
	OccurredAt time.Time                      `json:"occurred_at"`
	// EnforceHardCap refuses the record when a hard-capped allowance would be
	// exceeded. The check runs under the period row lock.
	EnforceHardCap bool `json:"-"`
}

// MaxFutureSkew is how far past the current time OccurredAt may lie.
const MaxFutureSkew = 5 * time.Minute

// HardCapError reports a record refused by a hard-capped allowance.
type HardCapError struct {
	Resource  entitlementdomain.ResourceKind
	PeriodKey string
	Used      int64
	Requested int64
	Included  int64
}

func (e *HardCapError) Error() string {
	return "hard_cap_reached: " + string(e.Resource)
}

type ResourceUsage struct {
	Resource   entitlementdomain.ResourceKind `json:"resource"`
	Used       int64                          `json:"used"`
	Limit      int64                          `json:"limit"`
	Unlimited  bool                           `json:"unlimited"`
	Percentage float64                        `json:"percentage"`
	Cost       decimal.Decimal                `json:"cost"`
	HardCap    bool                           `json:"hard_cap"`
}

type UsageWarning struct {
	Resource   entitlementdomain.ResourceKind `json:"resource"`
	Percentage float64                        `json:"percentage"`
}

// CurrentUsage is the caller-facing view of the open billing period.
// Warnings are derived on read and never stored.
type CurrentUsage struct {
	TenantID    string          `json:"tenant_id"`
	PlanID      string          `json:"plan_id"`
	Period      string          `json:"period"`
	PerResource []ResourceUsage `json:"per_resource"`
	TotalCost   decimal.Decimal `json:"total_cost"`
	Warnings    []UsageWarning  `json:"warnings"`
}

// PeriodCursor marks the last candidate a close pass examined.
type PeriodCursor struct {
	PeriodKey string
	TenantID  string
}

type ClosePeriodsRequest struct {
	Before time.Time
	Limit  int
	After  PeriodCursor
}

type ClosePeriodsResult struct {
	Closed int
	// Next resumes the pass after the last candidate, closed or skipped.
	Next PeriodCursor
	// Done is set once fewer than Limit candidates remained.
	Done bool
}

type ListPeriodsRequest struct {
	TenantID  string `json:"tenant_id"`
	PageToken string `json:"page_token"`
	PageSize  int    `json:"page_size"`
}

type ListPeriodsResponse struct {
	Periods       []BillingPeriod `json:"periods"`
	NextPageToken string          `json:"next_page_token,omitempty"`
	HasMore       bool            `json:"has_more"`
}

var (
	ErrInvalidTenant     = errors.New("invalid_tenant")
	ErrInvalidResource   = errors.New("invalid_resource")
	ErrInvalidQuantity   = errors.New("invalid_quantity")
	ErrInvalidOccurredAt = errors.New("invalid_occurred_at")
	ErrInvalidPeriod     = errors.New("invalid_period")
	ErrInvalidPageToken  = errors.New("invalid_page_token")
	ErrPeriodClosed      = errors.New("period_closed")
)
