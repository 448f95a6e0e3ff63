package service

import (
	"context"
	"strings"

	"github.com/lib/pq"
	entitlementdomain "github.com/smallbiznis/quota/internal/entitlement/domain"
	"github.com/smallbiznis/quota/internal/failure"
	"github.com/smallbiznis/quota/internal/observability/logger"
	"github.com/smallbiznis/quota/internal/observability/tracing"
	"github.com/smallbiznis/quota/pkg/db"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ApplyPlanChange moves tenantID to newPlanID and returns the module diff.
// The subscription row is written with a version compare-and-swap; a lost
// race is replayed a bounded number of times.
func (s *Service) ApplyPlanChange(ctx context.Context, tenantID, newPlanID string) (diff entitlementdomain.ModuleDiff, err error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return entitlementdomain.ModuleDiff{}, entitlementdomain.ErrInvalidTenant
	}
	newPlanID = strings.TrimSpace(newPlanID)
	if newPlanID == "" {
		return entitlementdomain.ModuleDiff{}, entitlementdomain.ErrInvalidPlan
	}

	ctx, span := tracing.StartSpan(ctx, "entitlement", "entitlement.apply_plan_change",
		attribute.String("tenant_id", tenantID),
		attribute.String("plan_id", newPlanID),
	)
	defer func() { tracing.EndSpan(span, err) }()

	var change entitlementdomain.PlanChange
	err = failure.RetryConflicts(ctx, func(ctx context.Context) error {
		return db.InTx(ctx, s.db, "entitlement.apply_plan_change", func(tx *gorm.DB) error {
			var err error
			change, err = s.swapPlan(ctx, tx, tenantID, newPlanID)
			return err
		})
	})
	if err != nil {
		return entitlementdomain.ModuleDiff{}, err
	}

	s.metrics.RecordPlanChange(ctx, string(change.Direction))
	logger.WithContext(ctx, s.log).Info("plan changed",
		zap.String("tenant_id", tenantID),
		zap.String("from_plan_id", change.FromPlanID),
		zap.String("to_plan_id", change.ToPlanID),
		zap.String("direction", string(change.Direction)),
		zap.String("price_delta", change.PriceDelta.String()),
		zap.Strings("activated", change.Activated),
		zap.Strings("deactivated", change.Deactivated),
	)
	return entitlementdomain.ModuleDiff{
		Activate:   []string(change.Activated),
		Deactivate: []string(change.Deactivated),
	}, nil
}

func (s *Service) swapPlan(ctx context.Context, tx *gorm.DB, tenantID, newPlanID string) (entitlementdomain.PlanChange, error) {
	sub, err := s.repo.GetSubscriptionForUpdate(ctx, tx, tenantID)
	if err != nil {
		return entitlementdomain.PlanChange{}, db.WrapStoreErr("entitlement.apply_plan_change", err)
	}
	if sub == nil {
		return entitlementdomain.PlanChange{}, failure.Configuration("tenant %s: %s", tenantID, entitlementdomain.ErrSubscriptionMissing)
	}

	next, err := s.repo.GetPlanForShare(ctx, tx, newPlanID)
	if err != nil {
		return entitlementdomain.PlanChange{}, db.WrapStoreErr("entitlement.apply_plan_change", err)
	}
	if next == nil {
		return entitlementdomain.PlanChange{}, entitlementdomain.ErrPlanNotFound
	}
	current, err := s.repo.GetPlan(ctx, tx, sub.PlanID)
	if err != nil {
		return entitlementdomain.PlanChange{}, db.WrapStoreErr("entitlement.apply_plan_change", err)
	}
	if current == nil {
		return entitlementdomain.PlanChange{}, failure.Configuration("tenant %s references missing plan %s", tenantID, sub.PlanID)
	}

	modules := entitlementdomain.NormalizeModules(next.Modules)
	diff := entitlementdomain.DiffModules(sub.Modules, modules)
	now := s.clock.Now()

	swapped, err := s.repo.SwapPlan(ctx, tx, tenantID, sub.Version, next.ID, modules, now)
	if err != nil {
		return entitlementdomain.PlanChange{}, db.WrapStoreErr("entitlement.apply_plan_change", err)
	}
	if !swapped {
		return entitlementdomain.PlanChange{}, failure.ErrConcurrencyConflict
	}

	delta := priceDelta(*current, *next)
	change := entitlementdomain.PlanChange{
		ID:          s.genID.Generate(),
		TenantID:    tenantID,
		FromPlanID:  current.ID,
		ToPlanID:    next.ID,
		Direction:   entitlementdomain.DirectionOf(delta),
		Activated:   pq.StringArray(diff.Activate),
		Deactivated: pq.StringArray(diff.Deactivate),
		PriceDelta:  delta,
		Metadata: datatypes.JSONMap{
			"from_version": sub.Version,
			"to_version":   sub.Version + 1,
		},
		ChangedAt: now,
	}
	if err := s.repo.InsertPlanChange(ctx, tx, &change); err != nil {
		return entitlementdomain.PlanChange{}, db.WrapStoreErr("entitlement.apply_plan_change", err)
	}
	return change, nil
}
