package failure

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// MaxConflictAttempts bounds how often an optimistic write is replayed.
const MaxConflictAttempts = 3

// RetryConflicts runs op until it succeeds, fails with anything other than
// ErrConcurrencyConflict, or exhausts MaxConflictAttempts. An exhausted retry
// surfaces as ErrStoreUnavailable.
func RetryConflicts(ctx context.Context, op func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 50 * time.Millisecond

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := op(ctx)
		switch {
		case err == nil:
			return struct{}{}, nil
		case errors.Is(err, ErrConcurrencyConflict):
			return struct{}{}, err
		default:
			return struct{}{}, backoff.Permanent(err)
		}
	}, backoff.WithBackOff(b), backoff.WithMaxTries(MaxConflictAttempts))
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrConcurrencyConflict) {
		return fmt.Errorf("%w: retries exhausted: %w", ErrStoreUnavailable, err)
	}
	return err
}
