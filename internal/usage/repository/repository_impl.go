package repository

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	entitlementdomain "github.com/smallbiznis/quota/internal/entitlement/domain"
	usagedomain "github.com/smallbiznis/quota/internal/usage/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() usagedomain.Repository {
	return &repo{}
}

// ProvideReader exposes the counter lookup to the entitlement resolver.
func ProvideReader(r usagedomain.Repository) entitlementdomain.UsageReader {
	return r
}

func (r *repo) EnsurePeriod(ctx context.Context, db *gorm.DB, period *usagedomain.BillingPeriod) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "period_key"}},
		DoNothing: true,
	}).Create(period).Error
}

func (r *repo) GetPeriod(ctx context.Context, db *gorm.DB, tenantID, periodKey string) (*usagedomain.BillingPeriod, error) {
	return r.findPeriod(ctx, db, tenantID, periodKey, false)
}

func (r *repo) GetPeriodForUpdate(ctx context.Context, db *gorm.DB, tenantID, periodKey string) (*usagedomain.BillingPeriod, error) {
	return r.findPeriod(ctx, db, tenantID, periodKey, true)
}

func (r *repo) findPeriod(ctx context.Context, db *gorm.DB, tenantID, periodKey string, lock bool) (*usagedomain.BillingPeriod, error) {
	query := `SELECT tenant_id, period_key, timezone, cost_accrued, closed_at, created_at, updated_at
		 FROM billing_periods WHERE tenant_id = ? AND period_key = ?`
	if lock && supportsRowLocks(db) {
		query += " FOR UPDATE"
	}

	var period usagedomain.BillingPeriod
	if err := db.WithContext(ctx).Raw(query, tenantID, periodKey).Scan(&period).Error; err != nil {
		return nil, err
	}
	if period.TenantID == "" {
		return nil, nil
	}
	return &period, nil
}

func (r *repo) ListPeriods(ctx context.Context, db *gorm.DB, tenantID, beforeKey string, limit int) ([]usagedomain.BillingPeriod, error) {
	stmt := db.WithContext(ctx).
		Model(&usagedomain.BillingPeriod{}).
		Where("tenant_id = ?", tenantID)
	if beforeKey != "" {
		stmt = stmt.Where("period_key < ?", beforeKey)
	}

	var periods []usagedomain.BillingPeriod
	err := stmt.Order("period_key DESC").Limit(limit).Find(&periods).Error
	if err != nil {
		return nil, err
	}
	return periods, nil
}

func (r *repo) UpdateCost(ctx context.Context, db *gorm.DB, tenantID, periodKey string, cost decimal.Decimal, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE billing_periods
		 SET cost_accrued = ?, updated_at = ?
		 WHERE tenant_id = ? AND period_key = ?`,
		cost,
		now,
		tenantID,
		periodKey,
	).Error
}

// IncrementUsage adds usage.Quantity to the stored counter in one statement.
func (r *repo) IncrementUsage(ctx context.Context, db *gorm.DB, usage usagedomain.PeriodUsage) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tenant_id"}, {Name: "period_key"}, {Name: "resource"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"quantity":   gorm.Expr("billing_period_usages.quantity + ?", usage.Quantity),
			"updated_at": usage.UpdatedAt,
		}),
	}).Create(&usage).Error
}

func (r *repo) ListUsage(ctx context.Context, db *gorm.DB, tenantID, periodKey string) ([]usagedomain.PeriodUsage, error) {
	var rows []usagedomain.PeriodUsage
	err := db.WithContext(ctx).Raw(
		`SELECT tenant_id, period_key, resource, quantity, updated_at
		 FROM billing_period_usages
		 WHERE tenant_id = ? AND period_key = ?
		 ORDER BY resource`,
		tenantID,
		periodKey,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) GetQuantity(ctx context.Context, db *gorm.DB, tenantID, periodKey string, resource entitlementdomain.ResourceKind) (int64, error) {
	var quantity int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(quantity), 0)
		 FROM billing_period_usages
		 WHERE tenant_id = ? AND period_key = ? AND resource = ?`,
		tenantID,
		periodKey,
		resource,
	).Scan(&quantity).Error
	if err != nil {
		return 0, err
	}
	return quantity, nil
}

func (r *repo) ListOpenPeriods(ctx context.Context, db *gorm.DB, beforeKey string, after usagedomain.PeriodCursor, limit int) ([]usagedomain.OpenPeriod, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []usagedomain.OpenPeriod
	err := db.WithContext(ctx).Raw(
		`SELECT tenant_id, period_key, timezone
		 FROM billing_periods
		 WHERE closed_at IS NULL AND period_key < ?
		   AND (period_key > ? OR (period_key = ? AND tenant_id > ?))
		 ORDER BY period_key ASC, tenant_id ASC
		 LIMIT ?`,
		beforeKey,
		after.PeriodKey,
		after.PeriodKey,
		after.TenantID,
		limit,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) ClosePeriod(ctx context.Context, db *gorm.DB, tenantID, periodKey string, closedAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE billing_periods
		 SET closed_at = ?, updated_at = ?
		 WHERE tenant_id = ? AND period_key = ? AND closed_at IS NULL`,
		closedAt,
		closedAt,
		tenantID,
		periodKey,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
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
