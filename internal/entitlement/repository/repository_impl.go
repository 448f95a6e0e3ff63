package repository

import (
	"context"
	"strings"
	"time"

	"github.com/lib/pq"
	entitlementdomain "github.com/smallbiznis/quota/internal/entitlement/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() entitlementdomain.Repository {
	return &repo{}
}

func (r *repo) GetPlan(ctx context.Context, db *gorm.DB, planID string) (*entitlementdomain.Plan, error) {
	return r.findPlan(ctx, db, planID, "")
}

func (r *repo) GetPlanForShare(ctx context.Context, db *gorm.DB, planID string) (*entitlementdomain.Plan, error) {
	return r.findPlan(ctx, db, planID, " FOR SHARE")
}

func (r *repo) GetPlanForUpdate(ctx context.Context, db *gorm.DB, planID string) (*entitlementdomain.Plan, error) {
	return r.findPlan(ctx, db, planID, " FOR UPDATE")
}

func (r *repo) findPlan(ctx context.Context, db *gorm.DB, planID, lock string) (*entitlementdomain.Plan, error) {
	query := `SELECT id, name, price_per_month, modules, created_at, updated_at
		 FROM plans WHERE id = ?`
	if lock != "" && supportsRowLocks(db) {
		query += lock
	}

	var plan entitlementdomain.Plan
	err := db.WithContext(ctx).Raw(query, planID).Scan(&plan).Error
	if err != nil {
		return nil, err
	}
	if plan.ID == "" {
		return nil, nil
	}

	var allowances []entitlementdomain.PlanAllowance
	err = db.WithContext(ctx).Raw(
		`SELECT plan_id, resource, included, overage_unit_price, hard_cap
		 FROM plan_allowances WHERE plan_id = ? ORDER BY resource`,
		planID,
	).Scan(&allowances).Error
	if err != nil {
		return nil, err
	}
	plan.Allowances = allowances
	return &plan, nil
}

func (r *repo) PlanReferenced(ctx context.Context, db *gorm.DB, planID string) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT
		   (SELECT COUNT(*) FROM subscriptions WHERE plan_id = ?) +
		   (SELECT COUNT(*) FROM plan_changes WHERE from_plan_id = ? OR to_plan_id = ?)`,
		planID, planID, planID,
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repo) UpsertPlan(ctx context.Context, db *gorm.DB, plan *entitlementdomain.Plan) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "price_per_month", "modules", "updated_at"}),
	}).Create(plan).Error
}

func (r *repo) ReplaceAllowances(ctx context.Context, db *gorm.DB, planID string, allowances []entitlementdomain.PlanAllowance) error {
	if err := db.WithContext(ctx).Exec(`DELETE FROM plan_allowances WHERE plan_id = ?`, planID).Error; err != nil {
		return err
	}
	if len(allowances) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(&allowances).Error
}

func (r *repo) GetSubscription(ctx context.Context, db *gorm.DB, tenantID string) (*entitlementdomain.Subscription, error) {
	return r.findSubscription(ctx, db, tenantID, false)
}

func (r *repo) GetSubscriptionForUpdate(ctx context.Context, db *gorm.DB, tenantID string) (*entitlementdomain.Subscription, error) {
	return r.findSubscription(ctx, db, tenantID, true)
}

func (r *repo) findSubscription(ctx context.Context, db *gorm.DB, tenantID string, lock bool) (*entitlementdomain.Subscription, error) {
	query := `SELECT tenant_id, plan_id, modules, timezone, version, created_at, updated_at
		 FROM subscriptions WHERE tenant_id = ?`
	if lock && supportsRowLocks(db) {
		query += " FOR UPDATE"
	}

	var sub entitlementdomain.Subscription
	if err := db.WithContext(ctx).Raw(query, tenantID).Scan(&sub).Error; err != nil {
		return nil, err
	}
	if sub.TenantID == "" {
		return nil, nil
	}
	return &sub, nil
}

func (r *repo) InsertSubscription(ctx context.Context, db *gorm.DB, sub *entitlementdomain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO subscriptions (tenant_id, plan_id, modules, timezone, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sub.TenantID,
		sub.PlanID,
		sub.Modules,
		sub.Timezone,
		sub.Version,
		sub.CreatedAt,
		sub.UpdatedAt,
	).Error
}

func (r *repo) SwapPlan(ctx context.Context, db *gorm.DB, tenantID string, expectedVersion int64, planID string, modules []string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET plan_id = ?, modules = ?, version = version + 1, updated_at = ?
		 WHERE tenant_id = ? AND version = ?`,
		planID,
		pq.StringArray(modules),
		now,
		tenantID,
		expectedVersion,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) InsertPlanChange(ctx context.Context, db *gorm.DB, change *entitlementdomain.PlanChange) error {
	return db.WithContext(ctx).Create(change).Error
}

func (r *repo) ListPlanChanges(ctx context.Context, db *gorm.DB, tenantID string) ([]entitlementdomain.PlanChange, error) {
	var changes []entitlementdomain.PlanChange
	err := db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("changed_at ASC").
		Order("id ASC").
		Find(&changes).Error
	if err != nil {
		return nil, err
	}
	return changes, nil
}

func supportsRowLocks(db *gorm.DB) bool {
	if db == nil || db.Dialector == nil {
		return false
	}
	switch strings.ToLower(db.Dialector.Name()) {
	case "postgres", "mysql":
		return true
	default:
		return false
	}
}
