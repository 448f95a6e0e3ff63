package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/quota/internal/cache"
	"github.com/smallbiznis/quota/internal/clock"
	entitlementdomain "github.com/smallbiznis/quota/internal/entitlement/domain"
	"github.com/smallbiznis/quota/internal/failure"
	"github.com/smallbiznis/quota/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/quota/internal/observability/metrics"
	"github.com/smallbiznis/quota/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const planCacheTTL = 5 * time.Minute

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	Clock   clock.Clock
	GenID   *snowflake.Node
	Repo    entitlementdomain.Repository
	Usage   entitlementdomain.UsageReader
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	clock   clock.Clock
	genID   *snowflake.Node
	repo    entitlementdomain.Repository
	usage   entitlementdomain.UsageReader
	metrics *obsmetrics.Metrics
	plans   cache.Cache[string, entitlementdomain.Plan]
}

func New(p Params) entitlementdomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.System()
	}
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("entitlement.service"),
		clock:   clk,
		genID:   p.GenID,
		repo:    p.Repo,
		usage:   p.Usage,
		metrics: p.Metrics,
		plans:   cache.NewTTLCache[string, entitlementdomain.Plan](),
	}
}

func (s *Service) UpsertPlan(ctx context.Context, req entitlementdomain.UpsertPlanRequest) (*entitlementdomain.Plan, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, entitlementdomain.ErrInvalidPlanName
	}
	// Plans created without an id are keyed by their slugged name.
	planID := strings.TrimSpace(req.ID)
	if planID == "" {
		planID = slug.Make(name)
	}
	if planID == "" {
		return nil, entitlementdomain.ErrInvalidPlan
	}
	if req.PricePerMonth.IsNegative() {
		return nil, entitlementdomain.ErrInvalidPrice
	}

	allowances := make([]entitlementdomain.PlanAllowance, 0, len(req.Allowances))
	seen := make(map[entitlementdomain.ResourceKind]struct{}, len(req.Allowances))
	for _, in := range req.Allowances {
		resource, err := entitlementdomain.ParseResource(string(in.Resource))
		if err != nil {
			return nil, err
		}
		if _, dup := seen[resource]; dup {
			return nil, entitlementdomain.ErrInvalidAllowance
		}
		seen[resource] = struct{}{}
		if in.Included < 0 || in.OverageUnitPrice.IsNegative() {
			return nil, entitlementdomain.ErrInvalidAllowance
		}
		if in.HardCap && in.Included == 0 {
			return nil, entitlementdomain.ErrInvalidAllowance
		}
		allowances = append(allowances, entitlementdomain.PlanAllowance{
			PlanID:           planID,
			Resource:         resource,
			Included:         in.Included,
			OverageUnitPrice: in.OverageUnitPrice,
			HardCap:          in.HardCap,
		})
	}

	now := s.clock.Now()
	plan := &entitlementdomain.Plan{
		ID:            planID,
		Name:          name,
		PricePerMonth: req.PricePerMonth,
		Modules:       pq.StringArray(entitlementdomain.NormalizeModules(req.Modules)),
		CreatedAt:     now,
		UpdatedAt:     now,
		Allowances:    allowances,
	}

	err := db.InTx(ctx, s.db, "entitlement.upsert_plan", func(tx *gorm.DB) error {
		existing, err := s.repo.GetPlanForUpdate(ctx, tx, planID)
		if err != nil {
			return db.WrapStoreErr("entitlement.upsert_plan", err)
		}
		if existing != nil && !existing.SameTerms(*plan) {
			// Subscribers derive modules and prices from the plan they
			// reference, so its terms are frozen from the first reference on.
			referenced, err := s.repo.PlanReferenced(ctx, tx, planID)
			if err != nil {
				return db.WrapStoreErr("entitlement.upsert_plan", err)
			}
			if referenced {
				return entitlementdomain.ErrPlanInUse
			}
		}
		if existing != nil {
			plan.CreatedAt = existing.CreatedAt
		}
		if err := s.repo.UpsertPlan(ctx, tx, plan); err != nil {
			return db.WrapStoreErr("entitlement.upsert_plan", err)
		}
		if err := s.repo.ReplaceAllowances(ctx, tx, planID, allowances); err != nil {
			return db.WrapStoreErr("entitlement.upsert_plan", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.plans.Delete(planID)
	logger.WithContext(ctx, s.log).Info("plan saved",
		zap.String("plan_id", planID),
		zap.Int("allowances", len(allowances)),
		zap.Strings("modules", plan.Modules),
	)
	return plan, nil
}

func (s *Service) GetPlan(ctx context.Context, planID string) (*entitlementdomain.Plan, error) {
	planID = strings.TrimSpace(planID)
	if planID == "" {
		return nil, entitlementdomain.ErrInvalidPlan
	}
	plan, err := s.repo.GetPlan(ctx, s.db, planID)
	if err != nil {
		return nil, db.WrapStoreErr("entitlement.get_plan", err)
	}
	if plan == nil {
		return nil, entitlementdomain.ErrPlanNotFound
	}
	return plan, nil
}

// loadPlan reads through the plan cache. It only serves plans a subscription
// references, whose terms UpsertPlan no longer changes. A missing plan
// returns nil, nil.
func (s *Service) loadPlan(ctx context.Context, tx *gorm.DB, planID string) (*entitlementdomain.Plan, error) {
	if cached, ok := s.plans.Get(planID); ok {
		return &cached, nil
	}
	plan, err := s.repo.GetPlan(ctx, tx, planID)
	if err != nil {
		return nil, db.WrapStoreErr("entitlement.get_plan", err)
	}
	if plan == nil {
		return nil, nil
	}
	s.plans.Set(planID, *plan, planCacheTTL)
	return plan, nil
}

func (s *Service) Subscribe(ctx context.Context, req entitlementdomain.SubscribeRequest) (*entitlementdomain.Subscription, error) {
	tenantID := strings.TrimSpace(req.TenantID)
	if tenantID == "" {
		return nil, entitlementdomain.ErrInvalidTenant
	}
	planID := strings.TrimSpace(req.PlanID)
	if planID == "" {
		return nil, entitlementdomain.ErrInvalidPlan
	}
	timezone := strings.TrimSpace(req.Timezone)
	if timezone == "" {
		timezone = entitlementdomain.DefaultTimezone
	}
	if _, err := entitlementdomain.LoadLocation(timezone); err != nil {
		return nil, err
	}

	var sub *entitlementdomain.Subscription
	err := db.InTx(ctx, s.db, "entitlement.subscribe", func(tx *gorm.DB) error {
		plan, err := s.repo.GetPlanForShare(ctx, tx, planID)
		if err != nil {
			return db.WrapStoreErr("entitlement.subscribe", err)
		}
		if plan == nil {
			return entitlementdomain.ErrPlanNotFound
		}

		existing, err := s.repo.GetSubscription(ctx, tx, tenantID)
		if err != nil {
			return db.WrapStoreErr("entitlement.subscribe", err)
		}
		if existing != nil {
			return entitlementdomain.ErrSubscriptionExists
		}

		now := s.clock.Now()
		sub = &entitlementdomain.Subscription{
			TenantID:  tenantID,
			PlanID:    plan.ID,
			Modules:   pq.StringArray(entitlementdomain.NormalizeModules(plan.Modules)),
			Timezone:  timezone,
			Version:   1,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.repo.InsertSubscription(ctx, tx, sub); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return entitlementdomain.ErrSubscriptionExists
			}
			return db.WrapStoreErr("entitlement.subscribe", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.WithContext(ctx, s.log).Info("tenant subscribed",
		zap.String("tenant_id", tenantID),
		zap.String("plan_id", planID),
		zap.String("timezone", timezone),
	)
	return sub, nil
}

// ResolveTenant loads the subscription and plan of tenantID. A tenant without
// either is a configuration error, never an unlimited default.
func (s *Service) ResolveTenant(ctx context.Context, tenantID string) (*entitlementdomain.TenantPlan, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, entitlementdomain.ErrInvalidTenant
	}
	return s.resolveTenant(ctx, s.db, tenantID)
}

func (s *Service) resolveTenant(ctx context.Context, tx *gorm.DB, tenantID string) (*entitlementdomain.TenantPlan, error) {
	sub, err := s.repo.GetSubscription(ctx, tx, tenantID)
	if err != nil {
		return nil, db.WrapStoreErr("entitlement.resolve_tenant", err)
	}
	if sub == nil {
		return nil, failure.Configuration("tenant %s: %s", tenantID, entitlementdomain.ErrSubscriptionMissing)
	}
	plan, err := s.loadPlan(ctx, tx, sub.PlanID)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, failure.Configuration("tenant %s references missing plan %s", tenantID, sub.PlanID)
	}
	loc, err := sub.Location()
	if err != nil {
		return nil, failure.Configuration("tenant %s has invalid timezone %q", tenantID, sub.Timezone)
	}
	return &entitlementdomain.TenantPlan{
		Subscription: *sub,
		Plan:         *plan,
		Location:     loc,
	}, nil
}

func (s *Service) HasModule(ctx context.Context, tenantID, module string) (bool, error) {
	module = strings.TrimSpace(module)
	if module == "" {
		return false, entitlementdomain.ErrInvalidModule
	}
	tp, err := s.ResolveTenant(ctx, tenantID)
	if err != nil {
		return false, err
	}
	for _, m := range tp.Subscription.Modules {
		if m == module {
			return true, nil
		}
	}
	return false, nil
}

func (s *Service) ListPlanChanges(ctx context.Context, tenantID string) ([]entitlementdomain.PlanChange, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, entitlementdomain.ErrInvalidTenant
	}
	changes, err := s.repo.ListPlanChanges(ctx, s.db, tenantID)
	if err != nil {
		return nil, db.WrapStoreErr("entitlement.list_plan_changes", err)
	}
	return changes, nil
}

func priceDelta(from, to entitlementdomain.Plan) decimal.Decimal {
	return to.PricePerMonth.Sub(from.PricePerMonth)
}
