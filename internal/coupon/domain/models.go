package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type Kind string

const (
	KindPercentage  Kind = "PERCENTAGE"
	KindFixedAmount Kind = "FIXED_AMOUNT"
)

func (k Kind) Valid() bool {
	return k == KindPercentage || k == KindFixedAmount
}

// Coupon is an operator-defined discount code. Expired and exhausted are
// derived from ValidUntil and UsesSoFar; only IsActive is a stored flag.
type Coupon struct {
	Code             string            `gorm:"column:code;size:191;primaryKey" json:"code"`
	Kind             Kind              `gorm:"column:kind;type:text;not null" json:"kind"`
	Value            decimal.Decimal   `gorm:"column:value;not null" json:"value"`
	ValidFrom        time.Time         `gorm:"column:valid_from;not null" json:"valid_from"`
	ValidUntil       time.Time         `gorm:"column:valid_until;not null" json:"valid_until"`
	MaxTotalUses     *int64            `gorm:"column:max_total_uses" json:"max_total_uses,omitempty"`
	MaxUsesPerCaller int64             `gorm:"column:max_uses_per_caller;not null;default:1" json:"max_uses_per_caller"`
	EligiblePlans    pq.StringArray    `gorm:"column:eligible_plans;type:text;not null" json:"eligible_plans"`
	UsesSoFar        int64             `gorm:"column:uses_so_far;not null;default:0" json:"uses_so_far"`
	IsActive         bool              `gorm:"column:is_active;not null;default:true" json:"is_active"`
	ProviderCouponID *string           `gorm:"column:provider_coupon_id;type:text" json:"provider_coupon_id,omitempty"`
	Metadata         datatypes.JSONMap `gorm:"column:metadata" json:"metadata,omitempty"`
	CreatedAt        time.Time         `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt        time.Time         `gorm:"column:updated_at;not null" json:"updated_at"`
}

func (Coupon) TableName() string { return "coupons" }

type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusExpired   Status = "expired"
	StatusExhausted Status = "exhausted"
)

// Status derives the lifecycle state at now.
func (c Coupon) Status(now time.Time) Status {
	switch {
	case !c.IsActive:
		return StatusInactive
	case now.After(c.ValidUntil):
		return StatusExpired
	case c.Exhausted():
		return StatusExhausted
	default:
		return StatusActive
	}
}

func (c Coupon) Exhausted() bool {
	return c.MaxTotalUses != nil && c.UsesSoFar >= *c.MaxTotalUses
}

// EligibleFor reports whether planID may use the coupon. An empty list
// admits every plan; a restricted coupon needs a plan to check against.
func (c Coupon) EligibleFor(planID string) bool {
	if len(c.EligiblePlans) == 0 {
		return true
	}
	for _, p := range c.EligiblePlans {
		if p == planID {
			return true
		}
	}
	return false
}

// Discount is the amount taken off amount, rounded to cents and never more
// than amount itself.
func (c Coupon) Discount(amount decimal.Decimal) decimal.Decimal {
	if amount.Sign() <= 0 {
		return decimal.Zero
	}
	var off decimal.Decimal
	switch c.Kind {
	case KindPercentage:
		off = amount.Mul(c.Value).Div(decimal.NewFromInt(100))
	case KindFixedAmount:
		off = decimal.Min(c.Value, amount)
	default:
		return decimal.Zero
	}
	off = off.Round(2)
	if off.GreaterThan(amount) {
		return amount
	}
	return off
}

// Redemption is one successful use of a coupon. Rows are append-only.
type Redemption struct {
	ID                    snowflake.ID `gorm:"column:id;primaryKey" json:"id"`
	CouponCode            string       `gorm:"column:coupon_code;size:191;not null;uniqueIndex:ux_coupon_redemptions_txn,priority:1;index:ix_coupon_redemptions_caller,priority:1" json:"coupon_code"`
	CallerID              string       `gorm:"column:caller_id;size:191;not null;uniqueIndex:ux_coupon_redemptions_txn,priority:2;index:ix_coupon_redemptions_caller,priority:2" json:"caller_id"`
	ExternalTransactionID string       `gorm:"column:external_transaction_id;type:text;not null;uniqueIndex:ux_coupon_redemptions_txn,priority:3" json:"external_transaction_id"`
	RedeemedAt            time.Time    `gorm:"column:redeemed_at;not null" json:"redeemed_at"`
}

func (Redemption) TableName() string { return "coupon_redemptions" }
