package repository

import (
	"context"
	"strings"
	"time"

	coupondomain "github.com/smallbiznis/quota/internal/coupon/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() coupondomain.Repository {
	return &repo{}
}

const couponColumns = `code, kind, value, valid_from, valid_until, max_total_uses, max_uses_per_caller,
		 eligible_plans, uses_so_far, is_active, provider_coupon_id, metadata, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, coupon *coupondomain.Coupon) error {
	return db.WithContext(ctx).Create(coupon).Error
}

func (r *repo) Get(ctx context.Context, db *gorm.DB, code string) (*coupondomain.Coupon, error) {
	return r.find(ctx, db, code, false)
}

func (r *repo) GetForUpdate(ctx context.Context, db *gorm.DB, code string) (*coupondomain.Coupon, error) {
	return r.find(ctx, db, code, true)
}

func (r *repo) find(ctx context.Context, db *gorm.DB, code string, lock bool) (*coupondomain.Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM coupons WHERE code = ?`
	if lock && supportsRowLocks(db) {
		query += " FOR UPDATE"
	}

	var coupon coupondomain.Coupon
	if err := db.WithContext(ctx).Raw(query, code).Scan(&coupon).Error; err != nil {
		return nil, err
	}
	if coupon.Code == "" {
		return nil, nil
	}
	return &coupon, nil
}

func (r *repo) SetActive(ctx context.Context, db *gorm.DB, code string, active bool, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE coupons SET is_active = ?, updated_at = ? WHERE code = ?`,
		active,
		now,
		code,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) IncrementUses(ctx context.Context, db *gorm.DB, code string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE coupons
		 SET uses_so_far = uses_so_far + 1, updated_at = ?
		 WHERE code = ? AND (max_total_uses IS NULL OR uses_so_far < max_total_uses)`,
		now,
		code,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) CountRedemptions(ctx context.Context, db *gorm.DB, code, callerID string) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM coupon_redemptions WHERE coupon_code = ? AND caller_id = ?`,
		code,
		callerID,
	).Scan(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *repo) FindRedemption(ctx context.Context, db *gorm.DB, code, callerID, externalTransactionID string) (*coupondomain.Redemption, error) {
	var redemption coupondomain.Redemption
	err := db.WithContext(ctx).Raw(
		`SELECT id, coupon_code, caller_id, external_transaction_id, redeemed_at
		 FROM coupon_redemptions
		 WHERE coupon_code = ? AND caller_id = ? AND external_transaction_id = ?`,
		code,
		callerID,
		externalTransactionID,
	).Scan(&redemption).Error
	if err != nil {
		return nil, err
	}
	if redemption.ID == 0 {
		return nil, nil
	}
	return &redemption, nil
}

func (r *repo) InsertRedemption(ctx context.Context, db *gorm.DB, redemption *coupondomain.Redemption) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO coupon_redemptions (id, coupon_code, caller_id, external_transaction_id, redeemed_at)
		 VALUES (?, ?, ?, ?, ?)`,
		redemption.ID,
		redemption.CouponCode,
		redemption.CallerID,
		redemption.ExternalTransactionID,
		redemption.RedeemedAt,
	).Error
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
