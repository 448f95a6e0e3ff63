package service

import (
	"context"
	"strings"
	"time"

	entitlementdomain "github.com/smallbiznis/quota/internal/entitlement/domain"
	"github.com/smallbiznis/quota/internal/observability/logger"
	usagedomain "github.com/smallbiznis/quota/internal/usage/domain"
	"github.com/smallbiznis/quota/pkg/db"
	"github.com/smallbiznis/quota/pkg/db/pagination"
	"go.uber.org/zap"
)

const (
	defaultPeriodPageSize = 12
	maxPeriodPageSize     = 120
	defaultCloseBatch     = 100
)

// earliestZone is the furthest-ahead UTC offset in use. No tenant month can
// have ended before the month boundary observed there.
var earliestZone = time.FixedZone("UTC+14", 14*60*60)

// ListPeriods pages through the tenant's billing history, newest first.
func (s *Service) ListPeriods(ctx context.Context, req usagedomain.ListPeriodsRequest) (*usagedomain.ListPeriodsResponse, error) {
	tenantID := strings.TrimSpace(req.TenantID)
	if tenantID == "" {
		return nil, usagedomain.ErrInvalidTenant
	}
	cursor, err := pagination.DecodeCursor(strings.TrimSpace(req.PageToken))
	if err != nil {
		return nil, usagedomain.ErrInvalidPageToken
	}
	limit := pagination.PageSize(req.PageSize, defaultPeriodPageSize, maxPeriodPageSize)

	rows, err := s.repo.ListPeriods(ctx, s.db, tenantID, cursor.Key, limit+1)
	if err != nil {
		return nil, db.WrapStoreErr("usage.list_periods", err)
	}
	rows, page, err := pagination.Trim(rows, limit, func(p usagedomain.BillingPeriod) string {
		return p.PeriodKey
	})
	if err != nil {
		return nil, err
	}

	for i := range rows {
		usage, err := s.repo.ListUsage(ctx, s.db, tenantID, rows[i].PeriodKey)
		if err != nil {
			return nil, db.WrapStoreErr("usage.list_periods", err)
		}
		rows[i].Usage = toUsageMap(usage)
	}

	return &usagedomain.ListPeriodsResponse{
		Periods:       rows,
		NextPageToken: page.NextPageToken,
		HasMore:       page.HasMore,
	}, nil
}

// ClosePeriods examines up to req.Limit open periods after req.After and
// closes those whose month, in the period's own timezone, ended at or before
// req.Before. Periods that are not yet due are skipped, and the returned
// cursor moves past them so the next batch does not see them again.
func (s *Service) ClosePeriods(ctx context.Context, req usagedomain.ClosePeriodsRequest) (usagedomain.ClosePeriodsResult, error) {
	log := logger.WithContext(ctx, s.log)
	limit := req.Limit
	if limit <= 0 {
		limit = defaultCloseBatch
	}
	result := usagedomain.ClosePeriodsResult{Next: req.After}

	candidates, err := s.repo.ListOpenPeriods(ctx, s.db, usagedomain.PeriodKey(req.Before, earliestZone), req.After, limit)
	if err != nil {
		return result, db.WrapStoreErr("usage.close_periods", err)
	}
	result.Done = len(candidates) < limit

	for _, c := range candidates {
		closed, err := s.closeCandidate(ctx, log, c, req.Before)
		if err != nil {
			return result, err
		}
		result.Next = usagedomain.PeriodCursor{PeriodKey: c.PeriodKey, TenantID: c.TenantID}
		if closed {
			result.Closed++
		}
	}
	return result, nil
}

func (s *Service) closeCandidate(ctx context.Context, log *zap.Logger, c usagedomain.OpenPeriod, before time.Time) (bool, error) {
	loc, err := entitlementdomain.LoadLocation(c.Timezone)
	if err != nil {
		log.Warn("skip period with invalid timezone",
			zap.String("tenant_id", c.TenantID),
			zap.String("period", c.PeriodKey),
			zap.String("timezone", c.Timezone),
		)
		return false, nil
	}
	_, end, err := usagedomain.PeriodBounds(c.PeriodKey, loc)
	if err != nil {
		log.Warn("skip period with invalid key",
			zap.String("tenant_id", c.TenantID),
			zap.String("period", c.PeriodKey),
		)
		return false, nil
	}
	if end.After(before) {
		return false, nil
	}

	ok, err := s.repo.ClosePeriod(ctx, s.db, c.TenantID, c.PeriodKey, s.clock.Now())
	if err != nil {
		return false, db.WrapStoreErr("usage.close_periods", err)
	}
	if ok {
		log.Info("billing period closed",
			zap.String("tenant_id", c.TenantID),
			zap.String("period", c.PeriodKey),
		)
	}
	return ok, nil
}
