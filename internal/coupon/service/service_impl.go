package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/lib/pq"
	"github.com/smallbiznis/quota/internal/clock"
	coupondomain "github.com/smallbiznis/quota/internal/coupon/domain"
	"github.com/smallbiznis/quota/internal/failure"
	"github.com/smallbiznis/quota/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/quota/internal/observability/metrics"
	"github.com/smallbiznis/quota/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	GenID    *snowflake.Node
	Repo     coupondomain.Repository
	Provider coupondomain.ProviderChecker `optional:"true"`
	Policy   ProviderPolicy               `optional:"true"`
	Metrics  *obsmetrics.Metrics          `optional:"true"`
}

// ProviderPolicy decides what Validate does when the provider is unreachable.
type ProviderPolicy struct {
	OnFailure failure.Policy
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	genID    *snowflake.Node
	repo     coupondomain.Repository
	provider coupondomain.ProviderChecker
	policy   failure.Policy
	metrics  *obsmetrics.Metrics
}

func New(p Params) coupondomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.System()
	}
	policy := p.Policy.OnFailure
	if policy == "" {
		policy = failure.PolicyFailOpen
	}
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("coupon.service"),
		clock:    clk,
		genID:    p.GenID,
		repo:     p.Repo,
		provider: p.Provider,
		policy:   policy,
		metrics:  p.Metrics,
	}
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (s *Service) Create(ctx context.Context, req coupondomain.CreateRequest) (*coupondomain.Coupon, error) {
	code := normalizeCode(req.Code)
	if code == "" {
		return nil, coupondomain.ErrInvalidCode
	}
	if !req.Kind.Valid() {
		return nil, coupondomain.ErrInvalidKind
	}
	if req.Value.Sign() <= 0 {
		return nil, coupondomain.ErrInvalidValue
	}
	if req.Kind == coupondomain.KindPercentage && req.Value.GreaterThan(hundred) {
		return nil, coupondomain.ErrInvalidValue
	}

	now := s.clock.Now()
	validFrom := req.ValidFrom
	if validFrom.IsZero() {
		validFrom = now
	}
	if req.ValidUntil.IsZero() || !req.ValidUntil.After(validFrom) {
		return nil, coupondomain.ErrInvalidWindow
	}
	if req.MaxTotalUses != nil && *req.MaxTotalUses <= 0 {
		return nil, coupondomain.ErrInvalidCaps
	}
	perCaller := req.MaxUsesPerCaller
	if perCaller < 0 {
		return nil, coupondomain.ErrInvalidCaps
	}
	if perCaller == 0 {
		perCaller = 1
	}

	var providerID *string
	if req.ProviderCouponID != nil {
		if id := strings.TrimSpace(*req.ProviderCouponID); id != "" {
			providerID = &id
		}
	}

	coupon := &coupondomain.Coupon{
		Code:             code,
		Kind:             req.Kind,
		Value:            req.Value,
		ValidFrom:        validFrom.UTC(),
		ValidUntil:       req.ValidUntil.UTC(),
		MaxTotalUses:     req.MaxTotalUses,
		MaxUsesPerCaller: perCaller,
		EligiblePlans:    pq.StringArray(normalizePlans(req.EligiblePlans)),
		IsActive:         true,
		ProviderCouponID: providerID,
		Metadata:         datatypes.JSONMap(req.Metadata),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.repo.Insert(ctx, s.db, coupon); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, coupondomain.ErrCouponExists
		}
		return nil, db.WrapStoreErr("coupon.create", err)
	}

	logger.WithContext(ctx, s.log).Info("coupon created",
		zap.String("kind", string(coupon.Kind)),
		zap.String("value", coupon.Value.String()),
		zap.Time("valid_until", coupon.ValidUntil),
	)
	return coupon, nil
}

func (s *Service) Get(ctx context.Context, code string) (*coupondomain.Coupon, error) {
	code = normalizeCode(code)
	if code == "" {
		return nil, coupondomain.ErrInvalidCode
	}
	coupon, err := s.repo.Get(ctx, s.db, code)
	if err != nil {
		return nil, db.WrapStoreErr("coupon.get", err)
	}
	if coupon == nil {
		return nil, coupondomain.ErrCouponNotFound
	}
	return coupon, nil
}

// SetActive flips the operator flag. Expired and exhausted coupons stay
// unusable whatever the flag says.
func (s *Service) SetActive(ctx context.Context, code string, active bool) (*coupondomain.Coupon, error) {
	code = normalizeCode(code)
	if code == "" {
		return nil, coupondomain.ErrInvalidCode
	}
	ok, err := s.repo.SetActive(ctx, s.db, code, active, s.clock.Now())
	if err != nil {
		return nil, db.WrapStoreErr("coupon.set_active", err)
	}
	if !ok {
		return nil, coupondomain.ErrCouponNotFound
	}
	logger.WithContext(ctx, s.log).Info("coupon activation changed", zap.Bool("active", active))
	return s.Get(ctx, code)
}

func normalizePlans(plans []string) []string {
	out := make([]string, 0, len(plans))
	seen := make(map[string]struct{}, len(plans))
	for _, p := range plans {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
