package service

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	coupondomain "github.com/smallbiznis/quota/internal/coupon/domain"
	"github.com/smallbiznis/quota/internal/failure"
	"github.com/smallbiznis/quota/internal/observability/logger"
	"github.com/smallbiznis/quota/internal/observability/tracing"
	"github.com/smallbiznis/quota/pkg/db"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var hundred = decimal.NewFromInt(100)

// Validate checks a coupon for a pending purchase of amount. Checks run in
// this order and the first failing one is reported:
//
//  1. exists and is active
//  2. validity window has started
//  3. validity window has not ended
//  4. total uses below the cap
//  5. caller uses below the per-caller cap
//  6. plan is eligible
//  7. payment provider agrees
//
// Validate never writes.
func (s *Service) Validate(ctx context.Context, req coupondomain.ValidateRequest) (result coupondomain.Validation, err error) {
	code := normalizeCode(req.Code)
	if code == "" {
		return coupondomain.Validation{}, coupondomain.ErrInvalidCode
	}
	callerID := strings.TrimSpace(req.CallerID)
	if callerID == "" {
		return coupondomain.Validation{}, coupondomain.ErrInvalidCaller
	}
	if req.Amount.IsNegative() {
		return coupondomain.Validation{}, coupondomain.ErrInvalidAmount
	}
	amount := req.Amount

	ctx, span := tracing.StartSpan(ctx, "coupon", "coupon.validate",
		attribute.String("coupon_code", code),
		attribute.String("plan_id", req.PlanID),
	)
	defer func() {
		span.SetAttributes(attribute.String("reason", string(result.Reason)))
		tracing.EndSpan(span, err)
	}()

	coupon, err := s.repo.Get(ctx, s.db, code)
	if err != nil {
		return coupondomain.Validation{}, db.WrapStoreErr("coupon.validate", err)
	}
	if coupon == nil || !coupon.IsActive {
		return s.reject(ctx, code, amount, coupondomain.ReasonNotFound), nil
	}

	now := s.clock.Now()
	if reason, ok := localReason(coupon, now); !ok {
		return s.reject(ctx, code, amount, reason), nil
	}

	used, err := s.repo.CountRedemptions(ctx, s.db, code, callerID)
	if err != nil {
		return coupondomain.Validation{}, db.WrapStoreErr("coupon.validate", err)
	}
	if coupon.MaxUsesPerCaller > 0 && used >= coupon.MaxUsesPerCaller {
		return s.reject(ctx, code, amount, coupondomain.ReasonAlreadyUsedByCaller), nil
	}

	if !coupon.EligibleFor(strings.TrimSpace(req.PlanID)) {
		return s.reject(ctx, code, amount, coupondomain.ReasonPlanNotEligible), nil
	}

	degraded := false
	if s.provider != nil && coupon.ProviderCouponID != nil {
		res, err := s.checkProvider(ctx, *coupon.ProviderCouponID)
		switch {
		case err != nil && s.policy == failure.PolicyFailClosed:
			return coupondomain.Validation{}, failure.StoreUnavailable("coupon.provider", err)
		case err != nil:
			degraded = true
			s.metrics.RecordStoreFailure(ctx, "coupon_provider", string(s.policy))
			logger.WithContext(ctx, s.log).Warn("coupon provider unreachable, using local verdict",
				zap.String("provider", s.provider.Name()),
				zap.Error(err),
			)
		case !res.Valid:
			logger.WithContext(ctx, s.log).Info("coupon rejected by provider",
				zap.String("provider", s.provider.Name()),
				zap.String("detail", res.Detail),
			)
			return s.reject(ctx, code, amount, coupondomain.ReasonProviderRejected), nil
		}
	}

	discount := coupon.Discount(amount)
	s.metrics.RecordCouponValidation(ctx, "valid")
	return coupondomain.Validation{
		Valid:       true,
		Code:        code,
		Kind:        coupon.Kind,
		Amount:      amount,
		Discount:    discount,
		FinalAmount: amount.Sub(discount),
		Degraded:    degraded,
	}, nil
}

// localReason applies the stored-state checks 2 to 4.
func localReason(c *coupondomain.Coupon, now time.Time) (coupondomain.Reason, bool) {
	switch {
	case now.Before(c.ValidFrom):
		return coupondomain.ReasonNotYetValid, false
	case now.After(c.ValidUntil):
		return coupondomain.ReasonExpired, false
	case c.Exhausted():
		return coupondomain.ReasonExhausted, false
	default:
		return "", true
	}
}

func (s *Service) reject(ctx context.Context, code string, amount decimal.Decimal, reason coupondomain.Reason) coupondomain.Validation {
	s.metrics.RecordCouponValidation(ctx, string(reason))
	return coupondomain.Invalid(code, amount, reason)
}

func (s *Service) checkProvider(ctx context.Context, providerCouponID string) (coupondomain.ProviderResult, error) {
	start := time.Now()
	res, err := s.provider.Check(ctx, providerCouponID)

	outcome := "valid"
	switch {
	case err != nil:
		outcome = "error"
	case !res.Valid:
		outcome = "rejected"
	}
	s.metrics.ObserveProviderCheck(ctx, s.provider.Name(), outcome, time.Since(start))
	return res, err
}
