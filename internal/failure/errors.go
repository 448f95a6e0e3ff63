// Package failure holds the error taxonomy shared by the quota engine.
//
// Business rejections (denied requests, invalid coupons, exceeded allowances)
// are returned as values by each component. The errors here are reserved for
// conditions the caller cannot fix by changing its input.
package failure

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration means required setup is missing, for example a tenant
	// without a plan. It is never replaced by an unlimited default.
	ErrConfiguration = errors.New("configuration_error")
	// ErrStoreUnavailable means the counter or relational store could not be reached.
	ErrStoreUnavailable = errors.New("store_unavailable")
	// ErrConcurrencyConflict means an optimistic version check lost a race.
	ErrConcurrencyConflict = errors.New("concurrency_conflict")
)

// StoreUnavailable wraps a backend error so both the taxonomy sentinel and the
// cause remain reachable through errors.Is.
func StoreUnavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

// Configuration wraps a missing or invalid setup detail.
func Configuration(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// Classified reports whether err already carries one of the taxonomy sentinels.
func Classified(err error) bool {
	return errors.Is(err, ErrConfiguration) ||
		errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, ErrConcurrencyConflict)
}
