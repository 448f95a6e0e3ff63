package service

import (
	"context"

	"github.com/shopspring/decimal"
	entitlementdomain "github.com/smallbiznis/quota/internal/entitlement/domain"
	"github.com/smallbiznis/quota/internal/observability/logger"
	"github.com/smallbiznis/quota/internal/observability/tracing"
	usagedomain "github.com/smallbiznis/quota/internal/usage/domain"
	"github.com/smallbiznis/quota/pkg/db"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// CheckAllowance decides whether quantity more units of resource fit the
// tenant's plan in the current period. It does not record anything.
func (s *Service) CheckAllowance(ctx context.Context, tenantID string, resource entitlementdomain.ResourceKind, quantity int64) (result entitlementdomain.AllowanceResult, err error) {
	resource, err = entitlementdomain.ParseResource(string(resource))
	if err != nil {
		return entitlementdomain.AllowanceResult{}, err
	}
	if quantity <= 0 {
		return entitlementdomain.AllowanceResult{}, entitlementdomain.ErrInvalidQuantity
	}

	ctx, span := tracing.StartSpan(ctx, "entitlement", "entitlement.check_allowance",
		attribute.String("tenant_id", tenantID),
		attribute.String("resource", string(resource)),
	)
	defer func() { tracing.EndSpan(span, err) }()

	tp, err := s.ResolveTenant(ctx, tenantID)
	if err != nil {
		return entitlementdomain.AllowanceResult{}, err
	}

	periodKey := usagedomain.PeriodKey(s.clock.Now(), tp.Location)
	used, err := s.usage.GetQuantity(ctx, s.db, tp.Subscription.TenantID, periodKey, resource)
	if err != nil {
		return entitlementdomain.AllowanceResult{}, db.WrapStoreErr("entitlement.check_allowance", err)
	}

	allowance, ok := tp.Plan.Allowance(resource)
	result = evaluate(allowance, ok, used, quantity)
	result.Resource = resource
	result.PeriodKey = periodKey

	s.metrics.RecordAllowanceCheck(ctx, string(resource), string(result.Outcome))
	if result.Outcome != entitlementdomain.OutcomeWithinLimit {
		logger.WithContext(ctx, s.log).Info("allowance exceeded",
			zap.String("resource", string(resource)),
			zap.String("outcome", string(result.Outcome)),
			zap.Int64("used", used),
			zap.Int64("requested", quantity),
			zap.Int64("included", result.Included),
		)
	}
	return result, nil
}

// evaluate applies one allowance to a pending request. Only the units this
// request pushes past the included quantity are priced.
func evaluate(allowance entitlementdomain.PlanAllowance, found bool, used, quantity int64) entitlementdomain.AllowanceResult {
	result := entitlementdomain.AllowanceResult{
		Outcome:     entitlementdomain.OutcomeWithinLimit,
		Used:        used,
		Requested:   quantity,
		OverageCost: decimal.Zero,
	}
	if !found || allowance.Unlimited() {
		result.Unlimited = true
		return result
	}

	result.Included = allowance.Included
	result.HardCap = allowance.HardCap
	if used+quantity <= allowance.Included {
		return result
	}
	if allowance.HardCap {
		result.Outcome = entitlementdomain.OutcomeRejected
		return result
	}

	extra := allowance.OverageUnits(used+quantity) - allowance.OverageUnits(used)
	result.Outcome = entitlementdomain.OutcomeWouldExceed
	result.OverageCost = allowance.OverageUnitPrice.Mul(decimal.NewFromInt(extra))
	return result
}
