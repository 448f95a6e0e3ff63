package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/smallbiznis/quota/internal/failure"
)

var (
	ErrInvalidKey    = errors.New("invalid_rate_limit_key")
	ErrInvalidWindow = errors.New("invalid_rate_limit_window")
	ErrInvalidPolicy = errors.New("invalid_rate_limit_policy")
)

// WindowRecord is the state of one fixed window for one key.
type WindowRecord struct {
	Key     string
	Count   int64
	ResetAt time.Time
}

// Counter increments fixed-window counters atomically per key.
//
// When no record exists for key, or the stored window has ended, the counter
// starts a fresh window with Count=1 and ResetAt=now+window. Otherwise it
// increments Count and keeps ResetAt.
type Counter interface {
	Increment(ctx context.Context, key string, window time.Duration) (WindowRecord, error)
}

// Policy is a request budget: at most MaxRequests per Window for one caller.
type Policy struct {
	Name          string
	MaxRequests   int64
	Window        time.Duration
	FailurePolicy string
}

func (p Policy) validate() error {
	if p.MaxRequests <= 0 {
		return ErrInvalidPolicy
	}
	if p.Window <= 0 {
		return ErrInvalidWindow
	}
	if _, err := failure.ParsePolicy(p.FailurePolicy, failure.PolicyFailClosed); err != nil {
		return err
	}
	return nil
}

// Decision is the outcome of a rate limit check. Degraded marks decisions
// taken by the failure policy because the counter store was unreachable.
type Decision struct {
	Allowed           bool
	Limit             int64
	Remaining         int64
	ResetAt           time.Time
	RetryAfterSeconds int64
	Degraded          bool
}

// Headers returns the response headers advertising the decision.
func (d Decision) Headers() map[string]string {
	headers := map[string]string{
		"X-RateLimit-Limit":     strconv.FormatInt(d.Limit, 10),
		"X-RateLimit-Remaining": strconv.FormatInt(d.Remaining, 10),
	}
	if !d.ResetAt.IsZero() {
		headers["X-RateLimit-Reset"] = strconv.FormatInt(d.ResetAt.Unix(), 10)
	}
	if !d.Allowed {
		headers["Retry-After"] = strconv.FormatInt(d.RetryAfterSeconds, 10)
	}
	return headers
}
