// Package domain contains billing period models and the usage read model.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
	entitlementdomain "github.com/smallbiznis/quota/internal/entitlement/domain"
)

// BillingPeriod accumulates a tenant's usage for one calendar month of its
// timezone. It is created by the first usage event of the month and is
// immutable once ClosedAt is set.
type BillingPeriod struct {
	TenantID    string          `gorm:"column:tenant_id;size:191;primaryKey" json:"tenant_id"`
	PeriodKey   string          `gorm:"column:period_key;size:191;primaryKey" json:"period_key"`
	Timezone    string          `gorm:"column:timezone;type:text;not null;default:UTC" json:"timezone"`
	CostAccrued decimal.Decimal `gorm:"column:cost_accrued;not null" json:"cost_accrued"`
	ClosedAt    *time.Time      `gorm:"column:closed_at;index" json:"closed_at,omitempty"`
	CreatedAt   time.Time       `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"column:updated_at;not null" json:"updated_at"`

	Usage map[entitlementdomain.ResourceKind]int64 `gorm:"-" json:"usage"`
}

func (BillingPeriod) TableName() string { return "billing_periods" }

func (p BillingPeriod) Closed() bool { return p.ClosedAt != nil }

// PeriodUsage is one counter of a billing period.
type PeriodUsage struct {
	TenantID  string                         `gorm:"column:tenant_id;size:191;primaryKey" json:"tenant_id"`
	PeriodKey string                         `gorm:"column:period_key;size:191;primaryKey" json:"period_key"`
	Resource  entitlementdomain.ResourceKind `gorm:"column:resource;size:191;primaryKey" json:"resource"`
	Quantity  int64                          `gorm:"column:quantity;not null" json:"quantity"`
	UpdatedAt time.Time                      `gorm:"column:updated_at;not null" json:"updated_at"`
}

func (PeriodUsage) TableName() string { return "billing_period_usages" }

// OpenPeriod is a closing candidate.
type OpenPeriod struct {
	TenantID  string `gorm:"column:tenant_id" json:"tenant_id"`
	PeriodKey string `gorm:"column:period_key" json:"period_key"`
	Timezone  string `gorm:"column:timezone" json:"timezone"`
}
