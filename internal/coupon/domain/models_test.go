package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestDiscount(t *testing.T) {
	d := decimal.RequireFromString

	tests := []struct {
		name   string
		kind   Kind
		value  string
		amount string
		want   string
	}{
		{name: "percentage", kind: KindPercentage, value: "20", amount: "100", want: "20"},
		{name: "percentage rounds to cents", kind: KindPercentage, value: "15", amount: "9.99", want: "1.5"},
		{name: "full percentage", kind: KindPercentage, value: "100", amount: "42.10", want: "42.1"},
		{name: "fixed", kind: KindFixedAmount, value: "5", amount: "29", want: "5"},
		{name: "fixed capped at amount", kind: KindFixedAmount, value: "50", amount: "29", want: "29"},
		{name: "zero amount", kind: KindFixedAmount, value: "5", amount: "0", want: "0"},
		{name: "unknown kind", kind: Kind("BOGO"), value: "5", amount: "29", want: "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Coupon{Kind: tt.kind, Value: d(tt.value)}
			got := c.Discount(d(tt.amount))
			assert.True(t, got.Equal(d(tt.want)), "got %s want %s", got, tt.want)
		})
	}
}

func TestStatus(t *testing.T) {
	now := time.Date(2025, time.March, 14, 0, 0, 0, 0, time.UTC)
	one := int64(1)

	base := Coupon{IsActive: true, ValidFrom: now.AddDate(0, -1, 0), ValidUntil: now.AddDate(0, 1, 0)}
	assert.Equal(t, StatusActive, base.Status(now))

	inactive := base
	inactive.IsActive = false
	assert.Equal(t, StatusInactive, inactive.Status(now))

	assert.Equal(t, StatusExpired, base.Status(now.AddDate(0, 2, 0)))

	exhausted := base
	exhausted.MaxTotalUses = &one
	exhausted.UsesSoFar = 1
	assert.Equal(t, StatusExhausted, exhausted.Status(now))
	assert.True(t, exhausted.Exhausted())

	assert.False(t, base.Exhausted(), "no total cap")
}

func TestEligibleFor(t *testing.T) {
	open := Coupon{}
	assert.True(t, open.EligibleFor("pro"))
	assert.True(t, open.EligibleFor(""))

	restricted := Coupon{EligiblePlans: []string{"pro", "enterprise"}}
	assert.True(t, restricted.EligibleFor("pro"))
	assert.False(t, restricted.EligibleFor("basic"))
	assert.False(t, restricted.EligibleFor(""))
}

func TestNotRedeemableError(t *testing.T) {
	err := error(&NotRedeemableError{Reason: ReasonExhausted})
	assert.True(t, errors.Is(err, ErrCouponNotRedeemable))
	assert.Contains(t, err.Error(), "exhausted")

	v := Invalid("SAVE20", decimal.NewFromInt(100), ReasonExpired)
	assert.False(t, v.Valid)
	assert.True(t, v.Discount.IsZero())
	assert.True(t, v.FinalAmount.Equal(decimal.NewFromInt(100)))
}
