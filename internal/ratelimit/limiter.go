package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/smallbiznis/quota/internal/clock"
	"github.com/smallbiznis/quota/internal/config"
	"github.com/smallbiznis/quota/internal/failure"
	"github.com/smallbiznis/quota/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/quota/internal/observability/metrics"
	"github.com/smallbiznis/quota/internal/observability/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// LimiterConfig controls key namespacing and the default failure policy.
type LimiterConfig struct {
	KeyPrefix     string
	FailurePolicy failure.Policy
}

// Limiter decides whether a caller may proceed under a Policy.
type Limiter struct {
	counter  Counter
	clock    clock.Clock
	log      *zap.Logger
	metrics  *obsmetrics.Metrics
	profiles *config.RateLimitProfilesHolder
	cfg      LimiterConfig
}

func NewLimiter(counter Counter, clk clock.Clock, log *zap.Logger, metrics *obsmetrics.Metrics, profiles *config.RateLimitProfilesHolder, cfg LimiterConfig) *Limiter {
	if clk == nil {
		clk = clock.System()
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.FailurePolicy == "" {
		cfg.FailurePolicy = failure.PolicyFailClosed
	}
	if profiles == nil {
		profiles = config.NewStaticRateLimitProfilesHolder(config.DefaultRateLimitProfiles())
	}
	return &Limiter{
		counter:  counter,
		clock:    clk,
		log:      log.Named("ratelimit.limiter"),
		metrics:  metrics,
		profiles: profiles,
		cfg:      cfg,
	}
}

// CheckProfile applies the named profile from configuration.
func (l *Limiter) CheckProfile(ctx context.Context, profile, callerKey string) (Decision, error) {
	name := strings.ToLower(strings.TrimSpace(profile))
	p, ok := l.profiles.Profile(name)
	if !ok {
		return Decision{}, failure.Configuration("unknown rate limit profile %q", profile)
	}
	return l.Check(ctx, callerKey, Policy{
		Name:          name,
		MaxRequests:   p.MaxRequests,
		Window:        p.Window,
		FailurePolicy: p.FailurePolicy,
	})
}

// Check counts this request against policy for callerKey. Denied requests
// are counted too.
//
// Check always returns a usable Decision. When the counter store fails the
// Decision follows the failure policy (Degraded is set) and the error wraps
// failure.ErrStoreUnavailable.
func (l *Limiter) Check(ctx context.Context, callerKey string, policy Policy) (Decision, error) {
	callerKey = strings.TrimSpace(callerKey)
	if callerKey == "" {
		return Decision{}, ErrInvalidKey
	}
	if err := policy.validate(); err != nil {
		return Decision{}, err
	}
	if policy.Name == "" {
		policy.Name = "default"
	}

	ctx, span := tracing.StartSpan(ctx, "ratelimit", "ratelimit.check",
		attribute.String("profile", policy.Name),
		attribute.Int64("max_requests", policy.MaxRequests),
	)
	record, err := l.counter.Increment(ctx, l.key(policy.Name, callerKey), policy.Window)
	tracing.EndSpan(span, err)
	if err != nil {
		return l.degrade(ctx, policy, err)
	}

	decision := decide(record, policy.MaxRequests, l.clock.Now())
	l.metrics.RecordRateLimitDecision(ctx, policy.Name, decision.Allowed, false)
	if !decision.Allowed {
		logger.WithContext(ctx, l.log).Debug("rate limit exceeded",
			zap.String("profile", policy.Name),
			zap.Int64("count", record.Count),
			zap.Int64("retry_after_seconds", decision.RetryAfterSeconds),
		)
	}
	return decision, nil
}

func decide(record WindowRecord, max int64, now time.Time) Decision {
	if record.Count <= max {
		return Decision{
			Allowed:   true,
			Limit:     max,
			Remaining: max - record.Count,
			ResetAt:   record.ResetAt,
		}
	}
	return Decision{
		Allowed:           false,
		Limit:             max,
		Remaining:         0,
		ResetAt:           record.ResetAt,
		RetryAfterSeconds: retryAfterSeconds(record.ResetAt, now),
	}
}

// retryAfterSeconds is ceil((resetAt-now)/1s), never below one second.
func retryAfterSeconds(resetAt, now time.Time) int64 {
	wait := resetAt.Sub(now)
	seconds := int64(math.Ceil(float64(wait) / float64(time.Second)))
	if seconds < 1 {
		return 1
	}
	return seconds
}

func (l *Limiter) degrade(ctx context.Context, policy Policy, cause error) (Decision, error) {
	if !errors.Is(cause, failure.ErrStoreUnavailable) {
		return Decision{}, cause
	}

	// Check validated the override, so this only resolves the default.
	mode, err := failure.ParsePolicy(policy.FailurePolicy, l.cfg.FailurePolicy)
	if err != nil {
		return Decision{}, err
	}

	l.metrics.RecordStoreFailure(ctx, "ratelimit", string(mode))
	l.metrics.RecordRateLimitDecision(ctx, policy.Name, mode.FailOpen(), true)
	logger.WithContext(ctx, l.log).Warn("rate limit counter unavailable",
		zap.String("profile", policy.Name),
		zap.String("failure_policy", string(mode)),
		zap.Error(cause),
	)

	if mode.FailOpen() {
		return Decision{
			Allowed:   true,
			Limit:     policy.MaxRequests,
			Remaining: policy.MaxRequests,
			Degraded:  true,
		}, cause
	}
	return Decision{
		Allowed:           false,
		Limit:             policy.MaxRequests,
		RetryAfterSeconds: 1,
		Degraded:          true,
	}, cause
}

func (l *Limiter) key(profile, callerKey string) string {
	prefix := strings.TrimSpace(l.cfg.KeyPrefix)
	if prefix == "" {
		return fmt.Sprintf("%s:%s", profile, callerKey)
	}
	return fmt.Sprintf("%s:%s:%s", prefix, profile, callerKey)
}
