package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Plan is a pricing template. Its allowances are loaded separately.
type Plan struct {
	ID            string          `gorm:"column:id;size:191;primaryKey" json:"id"`
	Name          string          `gorm:"column:name;type:text;not null" json:"name"`
	PricePerMonth decimal.Decimal `gorm:"column:price_per_month;not null" json:"price_per_month"`
	Modules       pq.StringArray  `gorm:"column:modules;type:text;not null" json:"modules"`
	CreatedAt     time.Time       `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"column:updated_at;not null" json:"updated_at"`

	Allowances []PlanAllowance `gorm:"-" json:"allowances,omitempty"`
}

func (Plan) TableName() string { return "plans" }

// Allowance returns the plan limit for resource. A resource the plan does not
// list has no allowance row and is reported as missing.
func (p Plan) Allowance(resource ResourceKind) (PlanAllowance, bool) {
	for _, a := range p.Allowances {
		if a.Resource == resource {
			return a, true
		}
	}
	return PlanAllowance{}, false
}

// AccruedCost prices the overage of every counter in usage.
func (p Plan) AccruedCost(usage map[ResourceKind]int64) decimal.Decimal {
	total := decimal.Zero
	for resource, used := range usage {
		if allowance, ok := p.Allowance(resource); ok {
			total = total.Add(allowance.OverageCost(used))
		}
	}
	return total
}

// SameTerms reports whether p and other price and entitle identically.
// The display name is not part of the terms.
func (p Plan) SameTerms(other Plan) bool {
	if !p.PricePerMonth.Equal(other.PricePerMonth) {
		return false
	}
	if !DiffModules(p.Modules, other.Modules).Empty() {
		return false
	}
	if len(p.Allowances) != len(other.Allowances) {
		return false
	}
	for _, a := range p.Allowances {
		b, ok := other.Allowance(a.Resource)
		if !ok || a.Included != b.Included || a.HardCap != b.HardCap || !a.OverageUnitPrice.Equal(b.OverageUnitPrice) {
			return false
		}
	}
	return true
}

// PlanAllowance is the included quantity of one resource per billing period.
// Included == 0 means unlimited.
type PlanAllowance struct {
	PlanID           string          `gorm:"column:plan_id;size:191;primaryKey" json:"plan_id"`
	Resource         ResourceKind    `gorm:"column:resource;size:191;primaryKey" json:"resource"`
	Included         int64           `gorm:"column:included;not null" json:"included"`
	OverageUnitPrice decimal.Decimal `gorm:"column:overage_unit_price;not null" json:"overage_unit_price"`
	HardCap          bool            `gorm:"column:hard_cap;not null;default:false" json:"hard_cap"`
}

func (PlanAllowance) TableName() string { return "plan_allowances" }

func (a PlanAllowance) Unlimited() bool { return a.Included <= 0 }

// OverageUnits is the part of used above the included quantity.
func (a PlanAllowance) OverageUnits(used int64) int64 {
	if a.Unlimited() || used <= a.Included {
		return 0
	}
	return used - a.Included
}

func (a PlanAllowance) OverageCost(used int64) decimal.Decimal {
	return a.OverageUnitPrice.Mul(decimal.NewFromInt(a.OverageUnits(used)))
}

// Fraction is used/included, or 0 when the allowance is unlimited.
func (a PlanAllowance) Fraction(used int64) float64 {
	if a.Unlimited() || used <= 0 {
		return 0
	}
	return float64(used) / float64(a.Included)
}

// Subscription binds a tenant to one plan. Version guards plan changes.
type Subscription struct {
	TenantID  string         `gorm:"column:tenant_id;size:191;primaryKey" json:"tenant_id"`
	PlanID    string         `gorm:"column:plan_id;size:191;not null;index" json:"plan_id"`
	Modules   pq.StringArray `gorm:"column:modules;type:text;not null" json:"modules"`
	Timezone  string         `gorm:"column:timezone;type:text;not null;default:UTC" json:"timezone"`
	Version   int64          `gorm:"column:version;not null;default:1" json:"version"`
	CreatedAt time.Time      `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt time.Time      `gorm:"column:updated_at;not null" json:"updated_at"`
}

func (Subscription) TableName() string { return "subscriptions" }

// Location resolves the subscription timezone, UTC when unset.
func (s Subscription) Location() (*time.Location, error) {
	return LoadLocation(s.Timezone)
}

type ChangeDirection string

const (
	ChangeUpgrade   ChangeDirection = "upgrade"
	ChangeDowngrade ChangeDirection = "downgrade"
	ChangeLateral   ChangeDirection = "lateral"
)

// DirectionOf classifies a change by the monthly price difference.
func DirectionOf(delta decimal.Decimal) ChangeDirection {
	switch delta.Sign() {
	case 1:
		return ChangeUpgrade
	case -1:
		return ChangeDowngrade
	default:
		return ChangeLateral
	}
}

// PlanChange is the append-only audit row of an applied plan change.
type PlanChange struct {
	ID          snowflake.ID      `gorm:"column:id;primaryKey" json:"id"`
	TenantID    string            `gorm:"column:tenant_id;size:191;not null;index" json:"tenant_id"`
	FromPlanID  string            `gorm:"column:from_plan_id;type:text;not null" json:"from_plan_id"`
	ToPlanID    string            `gorm:"column:to_plan_id;type:text;not null" json:"to_plan_id"`
	Direction   ChangeDirection   `gorm:"column:direction;type:text;not null" json:"direction"`
	Activated   pq.StringArray    `gorm:"column:activated;type:text;not null" json:"activated"`
	Deactivated pq.StringArray    `gorm:"column:deactivated;type:text;not null" json:"deactivated"`
	PriceDelta  decimal.Decimal   `gorm:"column:price_delta;not null" json:"price_delta"`
	Metadata    datatypes.JSONMap `gorm:"column:metadata" json:"metadata,omitempty"`
	ChangedAt   time.Time         `gorm:"column:changed_at;not null" json:"changed_at"`
}

func (PlanChange) TableName() string { return "plan_changes" }

// TenantPlan is the resolved entitlement context of a tenant.
type TenantPlan struct {
	Subscription Subscription
	Plan         Plan
	Location     *time.Location
}
