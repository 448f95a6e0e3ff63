package service

import (
	"context"
	"errors"
	"strings"

	coupondomain "github.com/smallbiznis/quota/internal/coupon/domain"
	"github.com/smallbiznis/quota/internal/failure"
	"github.com/smallbiznis/quota/internal/observability/logger"
	"github.com/smallbiznis/quota/pkg/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Redeem records one use of a coupon after the discounted transaction has
// completed. Replaying the same (code, caller, external transaction) returns
// the original redemption without counting it again.
func (s *Service) Redeem(ctx context.Context, req coupondomain.RedeemRequest) (*coupondomain.Redemption, error) {
	code := normalizeCode(req.Code)
	if code == "" {
		return nil, coupondomain.ErrInvalidCode
	}
	callerID := strings.TrimSpace(req.CallerID)
	if callerID == "" {
		return nil, coupondomain.ErrInvalidCaller
	}
	txnID := strings.TrimSpace(req.ExternalTransactionID)
	if txnID == "" {
		return nil, coupondomain.ErrInvalidTransaction
	}

	var (
		redemption *coupondomain.Redemption
		replayed   bool
	)
	err := failure.RetryConflicts(ctx, func(ctx context.Context) error {
		return db.InTx(ctx, s.db, "coupon.redeem", func(tx *gorm.DB) error {
			var err error
			redemption, replayed, err = s.redeem(ctx, tx, code, callerID, txnID)
			return err
		})
	})
	if err != nil {
		if reason, ok := notRedeemableReason(err); ok {
			s.metrics.RecordCouponRedemption(ctx, "rejected")
			logger.WithContext(ctx, s.log).Info("coupon redemption refused", zap.String("reason", string(reason)))
		}
		return nil, err
	}

	if replayed {
		s.metrics.RecordCouponRedemption(ctx, "replayed")
		logger.WithContext(ctx, s.log).Debug("coupon redemption replayed", zap.String("redemption_id", redemption.ID.String()))
		return redemption, nil
	}
	s.metrics.RecordCouponRedemption(ctx, "redeemed")
	logger.WithContext(ctx, s.log).Info("coupon redeemed", zap.String("redemption_id", redemption.ID.String()))
	return redemption, nil
}

func (s *Service) redeem(ctx context.Context, tx *gorm.DB, code, callerID, txnID string) (*coupondomain.Redemption, bool, error) {
	existing, err := s.repo.FindRedemption(ctx, tx, code, callerID, txnID)
	if err != nil {
		return nil, false, db.WrapStoreErr("coupon.redeem", err)
	}
	if existing != nil {
		return existing, true, nil
	}

	coupon, err := s.repo.GetForUpdate(ctx, tx, code)
	if err != nil {
		return nil, false, db.WrapStoreErr("coupon.redeem", err)
	}
	if coupon == nil || !coupon.IsActive {
		return nil, false, &coupondomain.NotRedeemableError{Reason: coupondomain.ReasonNotFound}
	}
	now := s.clock.Now()
	if reason, ok := localReason(coupon, now); !ok {
		return nil, false, &coupondomain.NotRedeemableError{Reason: reason}
	}

	used, err := s.repo.CountRedemptions(ctx, tx, code, callerID)
	if err != nil {
		return nil, false, db.WrapStoreErr("coupon.redeem", err)
	}
	if coupon.MaxUsesPerCaller > 0 && used >= coupon.MaxUsesPerCaller {
		return nil, false, &coupondomain.NotRedeemableError{Reason: coupondomain.ReasonAlreadyUsedByCaller}
	}

	redemption := &coupondomain.Redemption{
		ID:                    s.genID.Generate(),
		CouponCode:            code,
		CallerID:              callerID,
		ExternalTransactionID: txnID,
		RedeemedAt:            now,
	}
	if err := s.repo.InsertRedemption(ctx, tx, redemption); err != nil {
		if db.IsDuplicateKeyErr(err) {
			// A concurrent replay won; the retry will find its row.
			return nil, false, failure.ErrConcurrencyConflict
		}
		return nil, false, db.WrapStoreErr("coupon.redeem", err)
	}

	ok, err := s.repo.IncrementUses(ctx, tx, code, now)
	if err != nil {
		return nil, false, db.WrapStoreErr("coupon.redeem", err)
	}
	if !ok {
		return nil, false, &coupondomain.NotRedeemableError{Reason: coupondomain.ReasonExhausted}
	}
	return redemption, false, nil
}

func notRedeemableReason(err error) (coupondomain.Reason, bool) {
	var nre *coupondomain.NotRedeemableError
	if errors.As(err, &nre) {
		return nre.Reason, true
	}
	return "", false
}
