package service

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/quota/internal/clock"
	entitlementdomain "github.com/smallbiznis/quota/internal/entitlement/domain"
	"github.com/smallbiznis/quota/internal/failure"
	"github.com/smallbiznis/quota/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/quota/internal/observability/metrics"
	"github.com/smallbiznis/quota/internal/observability/tracing"
	usagedomain "github.com/smallbiznis/quota/internal/usage/domain"
	"github.com/smallbiznis/quota/pkg/db"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	Clock        clock.Clock
	Repo         usagedomain.Repository
	Entitlements entitlementdomain.Service
	Metrics      *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	clock        clock.Clock
	repo         usagedomain.Repository
	entitlements entitlementdomain.Service
	metrics      *obsmetrics.Metrics
}

func New(p Params) usagedomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.System()
	}
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("usage.service"),
		clock:        clk,
		repo:         p.Repo,
		entitlements: p.Entitlements,
		metrics:      p.Metrics,
	}
}

// Record adds quantity to the tenant's counter for the period containing
// OccurredAt and recomputes the accrued overage cost from the raw counters.
// Callers record each billable event once; Record does not deduplicate.
func (s *Service) Record(ctx context.Context, req usagedomain.RecordRequest) (period *usagedomain.BillingPeriod, err error) {
	tenantID := strings.TrimSpace(req.TenantID)
	if tenantID == "" {
		return nil, usagedomain.ErrInvalidTenant
	}
	resource, err := entitlementdomain.ParseResource(string(req.Resource))
	if err != nil {
		return nil, usagedomain.ErrInvalidResource
	}
	if req.Quantity <= 0 {
		return nil, usagedomain.ErrInvalidQuantity
	}
	now := s.clock.Now()
	occurredAt := req.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = now
	}
	if occurredAt.After(now.Add(usagedomain.MaxFutureSkew)) {
		return nil, usagedomain.ErrInvalidOccurredAt
	}

	ctx, span := tracing.StartSpan(ctx, "usage", "usage.record",
		attribute.String("tenant_id", tenantID),
		attribute.String("resource", string(resource)),
	)
	defer func() { tracing.EndSpan(span, err) }()

	tp, err := s.entitlements.ResolveTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	periodKey := usagedomain.PeriodKey(occurredAt, tp.Location)

	var overage int64
	err = failure.RetryConflicts(ctx, func(ctx context.Context) error {
		return db.InTx(ctx, s.db, "usage.record", func(tx *gorm.DB) error {
			var err error
			period, overage, err = s.increment(ctx, tx, tp, periodKey, resource, req.Quantity, req.EnforceHardCap)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordUsage(ctx, string(resource), req.Quantity, overage)
	logger.WithContext(ctx, s.log).Debug("usage recorded",
		zap.String("tenant_id", tenantID),
		zap.String("period", periodKey),
		zap.String("resource", string(resource)),
		zap.Int64("quantity", req.Quantity),
		zap.Int64("total", period.Usage[resource]),
		zap.String("cost_accrued", period.CostAccrued.String()),
	)
	return period, nil
}

func (s *Service) increment(
	ctx context.Context,
	tx *gorm.DB,
	tp *entitlementdomain.TenantPlan,
	periodKey string,
	resource entitlementdomain.ResourceKind,
	quantity int64,
	enforceHardCap bool,
) (*usagedomain.BillingPeriod, int64, error) {
	tenantID := tp.Subscription.TenantID
	now := s.clock.Now()

	err := s.repo.EnsurePeriod(ctx, tx, &usagedomain.BillingPeriod{
		TenantID:    tenantID,
		PeriodKey:   periodKey,
		Timezone:    tp.Location.String(),
		CostAccrued: decimal.Zero,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return nil, 0, db.WrapStoreErr("usage.record", err)
	}

	period, err := s.repo.GetPeriodForUpdate(ctx, tx, tenantID, periodKey)
	if err != nil {
		return nil, 0, db.WrapStoreErr("usage.record", err)
	}
	if period == nil {
		return nil, 0, failure.ErrConcurrencyConflict
	}
	if period.Closed() {
		return nil, 0, usagedomain.ErrPeriodClosed
	}
	if allowance, ok := tp.Plan.Allowance(resource); enforceHardCap && ok && allowance.HardCap && !allowance.Unlimited() {
		used, err := s.repo.GetQuantity(ctx, tx, tenantID, periodKey, resource)
		if err != nil {
			return nil, 0, db.WrapStoreErr("usage.record", err)
		}
		if used+quantity > allowance.Included {
			return nil, 0, &usagedomain.HardCapError{
				Resource:  resource,
				PeriodKey: periodKey,
				Used:      used,
				Requested: quantity,
				Included:  allowance.Included,
			}
		}
	}

	err = s.repo.IncrementUsage(ctx, tx, usagedomain.PeriodUsage{
		TenantID:  tenantID,
		PeriodKey: periodKey,
		Resource:  resource,
		Quantity:  quantity,
		UpdatedAt: now,
	})
	if err != nil {
		return nil, 0, db.WrapStoreErr("usage.record", err)
	}

	rows, err := s.repo.ListUsage(ctx, tx, tenantID, periodKey)
	if err != nil {
		return nil, 0, db.WrapStoreErr("usage.record", err)
	}
	usage := toUsageMap(rows)
	cost := tp.Plan.AccruedCost(usage)
	if err := s.repo.UpdateCost(ctx, tx, tenantID, periodKey, cost, now); err != nil {
		return nil, 0, db.WrapStoreErr("usage.record", err)
	}

	var overage int64
	if allowance, ok := tp.Plan.Allowance(resource); ok {
		overage = allowance.OverageUnits(usage[resource]) - allowance.OverageUnits(usage[resource]-quantity)
	}

	period.CostAccrued = cost
	period.UpdatedAt = now
	period.Usage = usage
	return period, overage, nil
}

// GetCurrentPeriod returns the open period of the tenant's current month.
// A month without usage yields an empty period that is not persisted.
func (s *Service) GetCurrentPeriod(ctx context.Context, tenantID string) (*usagedomain.BillingPeriod, error) {
	tp, err := s.resolve(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return s.currentPeriod(ctx, tp)
}

func (s *Service) currentPeriod(ctx context.Context, tp *entitlementdomain.TenantPlan) (*usagedomain.BillingPeriod, error) {
	tenantID := tp.Subscription.TenantID
	periodKey := usagedomain.PeriodKey(s.clock.Now(), tp.Location)

	period, err := s.repo.GetPeriod(ctx, s.db, tenantID, periodKey)
	if err != nil {
		return nil, db.WrapStoreErr("usage.current_period", err)
	}
	if period == nil {
		return &usagedomain.BillingPeriod{
			TenantID:    tenantID,
			PeriodKey:   periodKey,
			Timezone:    tp.Location.String(),
			CostAccrued: decimal.Zero,
			Usage:       map[entitlementdomain.ResourceKind]int64{},
		}, nil
	}

	rows, err := s.repo.ListUsage(ctx, s.db, tenantID, periodKey)
	if err != nil {
		return nil, db.WrapStoreErr("usage.current_period", err)
	}
	period.Usage = toUsageMap(rows)
	return period, nil
}

// PercentageOf returns used/allowance for the current period as a fraction.
// A resource without allowance, or with allowance 0, reports 0.
func (s *Service) PercentageOf(ctx context.Context, tenantID string, resource entitlementdomain.ResourceKind) (float64, error) {
	resource, err := entitlementdomain.ParseResource(string(resource))
	if err != nil {
		return 0, usagedomain.ErrInvalidResource
	}
	tp, err := s.resolve(ctx, tenantID)
	if err != nil {
		return 0, err
	}

	allowance, ok := tp.Plan.Allowance(resource)
	if !ok || allowance.Unlimited() {
		return 0, nil
	}
	periodKey := usagedomain.PeriodKey(s.clock.Now(), tp.Location)
	used, err := s.repo.GetQuantity(ctx, s.db, tp.Subscription.TenantID, periodKey, resource)
	if err != nil {
		return 0, db.WrapStoreErr("usage.percentage_of", err)
	}
	return allowance.Fraction(used), nil
}

// CurrentUsage builds the read model for the open period.
func (s *Service) CurrentUsage(ctx context.Context, tenantID string) (*usagedomain.CurrentUsage, error) {
	tp, err := s.resolve(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	period, err := s.currentPeriod(ctx, tp)
	if err != nil {
		return nil, err
	}
	return buildCurrentUsage(tp, period), nil
}

func buildCurrentUsage(tp *entitlementdomain.TenantPlan, period *usagedomain.BillingPeriod) *usagedomain.CurrentUsage {
	view := &usagedomain.CurrentUsage{
		TenantID:    tp.Subscription.TenantID,
		PlanID:      tp.Plan.ID,
		Period:      period.PeriodKey,
		PerResource: make([]usagedomain.ResourceUsage, 0, len(entitlementdomain.Resources())),
		TotalCost:   decimal.Zero,
		Warnings:    []usagedomain.UsageWarning{},
	}

	for _, resource := range entitlementdomain.Resources() {
		used := period.Usage[resource]
		allowance, ok := tp.Plan.Allowance(resource)
		line := usagedomain.ResourceUsage{
			Resource:  resource,
			Used:      used,
			Unlimited: !ok || allowance.Unlimited(),
			Cost:      decimal.Zero,
		}
		if ok {
			fraction := allowance.Fraction(used)
			line.Limit = allowance.Included
			line.HardCap = allowance.HardCap
			line.Percentage = usagedomain.Percent(fraction)
			line.Cost = allowance.OverageCost(used).Round(2)
			if !line.Unlimited && fraction >= usagedomain.WarningThreshold {
				view.Warnings = append(view.Warnings, usagedomain.UsageWarning{
					Resource:   resource,
					Percentage: line.Percentage,
				})
			}
		}
		view.TotalCost = view.TotalCost.Add(line.Cost)
		view.PerResource = append(view.PerResource, line)
	}
	return view
}

func (s *Service) resolve(ctx context.Context, tenantID string) (*entitlementdomain.TenantPlan, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, usagedomain.ErrInvalidTenant
	}
	return s.entitlements.ResolveTenant(ctx, tenantID)
}

func toUsageMap(rows []usagedomain.PeriodUsage) map[entitlementdomain.ResourceKind]int64 {
	usage := make(map[entitlementdomain.ResourceKind]int64, len(rows))
	for _, row := range rows {
		usage[row.Resource] += row.Quantity
	}
	return usage
}
