package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/quota/internal/clock"
	coupondomain "github.com/smallbiznis/quota/internal/coupon/domain"
	"github.com/smallbiznis/quota/internal/coupon/repository"
	"github.com/smallbiznis/quota/internal/failure"
	"github.com/smallbiznis/quota/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testNow = time.Date(2025, time.March, 14, 10, 0, 0, 0, time.UTC)

type fakeProvider struct {
	result coupondomain.ProviderResult
	err    error
	calls  int
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Check(context.Context, string) (coupondomain.ProviderResult, error) {
	f.calls++
	return f.result, f.err
}

type harness struct {
	svc   *Service
	db    *gorm.DB
	clock *clock.FakeClock
}

func newHarness(t *testing.T, checker coupondomain.ProviderChecker, policy failure.Policy) *harness {
	t.Helper()

	db := dbtest.Open(t, &coupondomain.Coupon{}, &coupondomain.Redemption{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	clk := clock.NewFakeClock(testNow)
	svc := New(Params{
		DB:       db,
		Log:      zap.NewNop(),
		Clock:    clk,
		GenID:    node,
		Repo:     repository.Provide(),
		Provider: checker,
		Policy:   ProviderPolicy{OnFailure: policy},
	}).(*Service)

	return &harness{svc: svc, db: db, clock: clk}
}

func (h *harness) create(t *testing.T, req coupondomain.CreateRequest) *coupondomain.Coupon {
	t.Helper()
	if req.Kind == "" {
		req.Kind = coupondomain.KindPercentage
	}
	if req.Value.IsZero() {
		req.Value = decimal.NewFromInt(20)
	}
	if req.ValidFrom.IsZero() {
		req.ValidFrom = time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	}
	if req.ValidUntil.IsZero() {
		req.ValidUntil = time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC)
	}
	c, err := h.svc.Create(context.Background(), req)
	require.NoError(t, err)
	return c
}

func (h *harness) redemptionCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.db.Model(&coupondomain.Redemption{}).Count(&n).Error)
	return n
}

func validateReq(code, caller string) coupondomain.ValidateRequest {
	return coupondomain.ValidateRequest{Code: code, CallerID: caller, PlanID: "pro", Amount: decimal.NewFromInt(100)}
}

func TestSave20Scenario(t *testing.T) {
	h := newHarness(t, nil, "")
	ctx := context.Background()
	total := int64(100)
	h.create(t, coupondomain.CreateRequest{Code: "save20", MaxTotalUses: &total})

	v, err := h.svc.Validate(ctx, validateReq("SAVE20", "caller-1"))
	require.NoError(t, err)
	assert.True(t, v.Valid)
	assert.Equal(t, "SAVE20", v.Code)
	assert.True(t, v.Discount.Equal(decimal.NewFromInt(20)))
	assert.True(t, v.FinalAmount.Equal(decimal.NewFromInt(80)))

	r, err := h.svc.Redeem(ctx, coupondomain.RedeemRequest{Code: "SAVE20", CallerID: "caller-1", ExternalTransactionID: "txn-1"})
	require.NoError(t, err)
	assert.Equal(t, "SAVE20", r.CouponCode)

	c, err := h.svc.Get(ctx, "save20")
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.UsesSoFar)

	v, err = h.svc.Validate(ctx, validateReq("SAVE20", "caller-1"))
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.Equal(t, coupondomain.ReasonAlreadyUsedByCaller, v.Reason)
	assert.True(t, v.FinalAmount.Equal(decimal.NewFromInt(100)))

	_, err = h.svc.Redeem(ctx, coupondomain.RedeemRequest{Code: "SAVE20", CallerID: "caller-1", ExternalTransactionID: "txn-2"})
	var nre *coupondomain.NotRedeemableError
	require.ErrorAs(t, err, &nre)
	assert.Equal(t, coupondomain.ReasonAlreadyUsedByCaller, nre.Reason)

	v, err = h.svc.Validate(ctx, validateReq("SAVE20", "caller-2"))
	require.NoError(t, err)
	assert.True(t, v.Valid)
}

func TestRedeemIsIdempotent(t *testing.T) {
	h := newHarness(t, nil, "")
	ctx := context.Background()
	h.create(t, coupondomain.CreateRequest{Code: "WELCOME"})

	req := coupondomain.RedeemRequest{Code: "WELCOME", CallerID: "caller-1", ExternalTransactionID: "txn-1"}
	first, err := h.svc.Redeem(ctx, req)
	require.NoError(t, err)

	second, err := h.svc.Redeem(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	c, err := h.svc.Get(ctx, "WELCOME")
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.UsesSoFar)
	assert.Equal(t, int64(1), h.redemptionCount(t))
}

func TestValidateExpiredWritesNothing(t *testing.T) {
	h := newHarness(t, nil, "")
	ctx := context.Background()
	h.create(t, coupondomain.CreateRequest{Code: "SPRING"})

	h.clock.Set(time.Date(2025, time.April, 2, 0, 0, 0, 0, time.UTC))
	before, err := h.svc.Get(ctx, "SPRING")
	require.NoError(t, err)

	v, err := h.svc.Validate(ctx, validateReq("SPRING", "caller-1"))
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.Equal(t, coupondomain.ReasonExpired, v.Reason)

	after, err := h.svc.Get(ctx, "SPRING")
	require.NoError(t, err)
	assert.Equal(t, before.UsesSoFar, after.UsesSoFar)
	assert.True(t, before.UpdatedAt.Equal(after.UpdatedAt))
	assert.Zero(t, h.redemptionCount(t))

	_, err = h.svc.Redeem(ctx, coupondomain.RedeemRequest{Code: "SPRING", CallerID: "caller-1", ExternalTransactionID: "txn-1"})
	assert.ErrorIs(t, err, coupondomain.ErrCouponNotRedeemable)
	assert.Zero(t, h.redemptionCount(t))
}

func TestValidateCheckOrder(t *testing.T) {
	h := newHarness(t, nil, "")
	ctx := context.Background()
	one := int64(1)

	h.create(t, coupondomain.CreateRequest{Code: "OFF", EligiblePlans: []string{"enterprise"}})
	_, err := h.svc.SetActive(ctx, "OFF", false)
	require.NoError(t, err)

	h.create(t, coupondomain.CreateRequest{
		Code:          "LATER",
		ValidFrom:     time.Date(2025, time.March, 20, 0, 0, 0, 0, time.UTC),
		EligiblePlans: []string{"enterprise"},
	})
	h.create(t, coupondomain.CreateRequest{Code: "ONCE", MaxTotalUses: &one, EligiblePlans: []string{"enterprise"}})
	_, err = h.svc.Redeem(ctx, coupondomain.RedeemRequest{Code: "ONCE", CallerID: "caller-x", ExternalTransactionID: "txn-x"})
	require.NoError(t, err)

	h.create(t, coupondomain.CreateRequest{Code: "ENTERPRISE", EligiblePlans: []string{"enterprise"}})

	tests := []struct {
		code string
		want coupondomain.Reason
	}{
		{code: "MISSING", want: coupondomain.ReasonNotFound},
		{code: "OFF", want: coupondomain.ReasonNotFound},
		{code: "LATER", want: coupondomain.ReasonNotYetValid},
		{code: "ONCE", want: coupondomain.ReasonExhausted},
		{code: "ENTERPRISE", want: coupondomain.ReasonPlanNotEligible},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			v, err := h.svc.Validate(ctx, validateReq(tt.code, "caller-1"))
			require.NoError(t, err)
			assert.False(t, v.Valid)
			assert.Equal(t, tt.want, v.Reason)
		})
	}

	t.Run("expired wins over plan", func(t *testing.T) {
		h.clock.Set(time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC))
		defer h.clock.Set(testNow)
		v, err := h.svc.Validate(ctx, validateReq("ENTERPRISE", "caller-1"))
		require.NoError(t, err)
		assert.Equal(t, coupondomain.ReasonExpired, v.Reason)
	})

	t.Run("restricted coupon without plan", func(t *testing.T) {
		req := validateReq("ENTERPRISE", "caller-1")
		req.PlanID = ""
		v, err := h.svc.Validate(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, coupondomain.ReasonPlanNotEligible, v.Reason)
	})
}

func TestRedeemRespectsTotalCap(t *testing.T) {
	h := newHarness(t, nil, "")
	ctx := context.Background()
	two := int64(2)
	h.create(t, coupondomain.CreateRequest{Code: "PAIR", MaxTotalUses: &two})

	for i, caller := range []string{"a", "b"} {
		_, err := h.svc.Redeem(ctx, coupondomain.RedeemRequest{Code: "PAIR", CallerID: caller, ExternalTransactionID: "txn"})
		require.NoError(t, err, "redeem %d", i)
	}

	_, err := h.svc.Redeem(ctx, coupondomain.RedeemRequest{Code: "PAIR", CallerID: "c", ExternalTransactionID: "txn"})
	var nre *coupondomain.NotRedeemableError
	require.ErrorAs(t, err, &nre)
	assert.Equal(t, coupondomain.ReasonExhausted, nre.Reason)

	c, err := h.svc.Get(ctx, "PAIR")
	require.NoError(t, err)
	assert.Equal(t, int64(2), c.UsesSoFar)
	assert.Equal(t, int64(2), h.redemptionCount(t))
}

func TestProviderFailurePolicy(t *testing.T) {
	ctx := context.Background()
	providerID := "co_123"
	unreachable := errors.New("dial tcp: connection refused")

	t.Run("fail open degrades", func(t *testing.T) {
		p := &fakeProvider{err: unreachable}
		h := newHarness(t, p, failure.PolicyFailOpen)
		h.create(t, coupondomain.CreateRequest{Code: "MIRROR", ProviderCouponID: &providerID})

		v, err := h.svc.Validate(ctx, validateReq("MIRROR", "caller-1"))
		require.NoError(t, err)
		assert.True(t, v.Valid)
		assert.True(t, v.Degraded)
		assert.Equal(t, 1, p.calls)
	})

	t.Run("fail closed errors", func(t *testing.T) {
		p := &fakeProvider{err: unreachable}
		h := newHarness(t, p, failure.PolicyFailClosed)
		h.create(t, coupondomain.CreateRequest{Code: "MIRROR", ProviderCouponID: &providerID})

		_, err := h.svc.Validate(ctx, validateReq("MIRROR", "caller-1"))
		assert.ErrorIs(t, err, failure.ErrStoreUnavailable)
	})

	t.Run("provider rejects", func(t *testing.T) {
		p := &fakeProvider{result: coupondomain.ProviderResult{Valid: false, Detail: "deleted"}}
		h := newHarness(t, p, failure.PolicyFailOpen)
		h.create(t, coupondomain.CreateRequest{Code: "MIRROR", ProviderCouponID: &providerID})

		v, err := h.svc.Validate(ctx, validateReq("MIRROR", "caller-1"))
		require.NoError(t, err)
		assert.Equal(t, coupondomain.ReasonProviderRejected, v.Reason)
	})

	t.Run("local rejection skips provider", func(t *testing.T) {
		p := &fakeProvider{result: coupondomain.ProviderResult{Valid: true}}
		h := newHarness(t, p, failure.PolicyFailOpen)
		h.create(t, coupondomain.CreateRequest{Code: "MIRROR", ProviderCouponID: &providerID, EligiblePlans: []string{"enterprise"}})
		h.create(t, coupondomain.CreateRequest{Code: "LOCAL"})

		v, err := h.svc.Validate(ctx, validateReq("MIRROR", "caller-1"))
		require.NoError(t, err)
		assert.Equal(t, coupondomain.ReasonPlanNotEligible, v.Reason)

		v, err = h.svc.Validate(ctx, validateReq("LOCAL", "caller-1"))
		require.NoError(t, err)
		assert.True(t, v.Valid)
		assert.Zero(t, p.calls)
	})
}

func TestCreateValidation(t *testing.T) {
	h := newHarness(t, nil, "")
	ctx := context.Background()
	from := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	until := from.AddDate(0, 1, 0)
	zero := int64(0)

	tests := []struct {
		name string
		req  coupondomain.CreateRequest
		want error
	}{
		{name: "blank code", req: coupondomain.CreateRequest{Code: " ", Kind: coupondomain.KindPercentage, Value: decimal.NewFromInt(10), ValidUntil: until}, want: coupondomain.ErrInvalidCode},
		{name: "kind", req: coupondomain.CreateRequest{Code: "X", Kind: "BOGO", Value: decimal.NewFromInt(10), ValidUntil: until}, want: coupondomain.ErrInvalidKind},
		{name: "zero value", req: coupondomain.CreateRequest{Code: "X", Kind: coupondomain.KindFixedAmount, ValidUntil: until}, want: coupondomain.ErrInvalidValue},
		{name: "over 100 percent", req: coupondomain.CreateRequest{Code: "X", Kind: coupondomain.KindPercentage, Value: decimal.NewFromInt(101), ValidUntil: until}, want: coupondomain.ErrInvalidValue},
		{name: "window", req: coupondomain.CreateRequest{Code: "X", Kind: coupondomain.KindPercentage, Value: decimal.NewFromInt(10), ValidFrom: until, ValidUntil: from}, want: coupondomain.ErrInvalidWindow},
		{name: "total cap", req: coupondomain.CreateRequest{Code: "X", Kind: coupondomain.KindPercentage, Value: decimal.NewFromInt(10), ValidUntil: until, MaxTotalUses: &zero}, want: coupondomain.ErrInvalidCaps},
		{name: "caller cap", req: coupondomain.CreateRequest{Code: "X", Kind: coupondomain.KindPercentage, Value: decimal.NewFromInt(10), ValidUntil: until, MaxUsesPerCaller: -1}, want: coupondomain.ErrInvalidCaps},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.Create(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	c := h.create(t, coupondomain.CreateRequest{Code: "dup", EligiblePlans: []string{"pro", " pro", ""}})
	assert.Equal(t, int64(1), c.MaxUsesPerCaller)
	assert.Equal(t, []string{"pro"}, []string(c.EligiblePlans))

	_, err := h.svc.Create(ctx, coupondomain.CreateRequest{Code: "DUP", Kind: coupondomain.KindPercentage, Value: decimal.NewFromInt(5), ValidUntil: until})
	assert.ErrorIs(t, err, coupondomain.ErrCouponExists)
}

func TestSetActive(t *testing.T) {
	h := newHarness(t, nil, "")
	ctx := context.Background()
	h.create(t, coupondomain.CreateRequest{Code: "TOGGLE"})

	c, err := h.svc.SetActive(ctx, "toggle", false)
	require.NoError(t, err)
	assert.False(t, c.IsActive)
	assert.Equal(t, coupondomain.StatusInactive, c.Status(h.clock.Now()))

	c, err = h.svc.SetActive(ctx, "TOGGLE", true)
	require.NoError(t, err)
	assert.True(t, c.IsActive)

	_, err = h.svc.SetActive(ctx, "NOPE", true)
	assert.ErrorIs(t, err, coupondomain.ErrCouponNotFound)

	_, err = h.svc.Get(ctx, "NOPE")
	assert.ErrorIs(t, err, coupondomain.ErrCouponNotFound)
}

func TestValidateRejectsBadInput(t *testing.T) {
	h := newHarness(t, nil, "")
	ctx := context.Background()

	_, err := h.svc.Validate(ctx, coupondomain.ValidateRequest{Code: "", CallerID: "c"})
	assert.ErrorIs(t, err, coupondomain.ErrInvalidCode)

	_, err = h.svc.Validate(ctx, coupondomain.ValidateRequest{Code: "X", CallerID: " "})
	assert.ErrorIs(t, err, coupondomain.ErrInvalidCaller)

	_, err = h.svc.Validate(ctx, coupondomain.ValidateRequest{Code: "X", CallerID: "c", Amount: decimal.NewFromInt(-1)})
	assert.ErrorIs(t, err, coupondomain.ErrInvalidAmount)

	_, err = h.svc.Redeem(ctx, coupondomain.RedeemRequest{Code: "X", CallerID: "c"})
	assert.ErrorIs(t, err, coupondomain.ErrInvalidTransaction)
}
