package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/smallbiznis/quota/internal/failure"
	"gorm.io/gorm"
)

// WrapStoreErr classifies a driver error for callers above the repository
// layer. Replayable transaction failures become ErrConcurrencyConflict,
// everything else ErrStoreUnavailable. Already classified errors pass through.
func WrapStoreErr(op string, err error) error {
	if err == nil || failure.Classified(err) {
		return err
	}
	if IsRetryableTxErr(err) {
		return fmt.Errorf("%s: %w: %w", op, failure.ErrConcurrencyConflict, err)
	}
	return failure.StoreUnavailable(op, err)
}

// InTx runs fn inside a transaction on gdb. Errors returned by fn come back
// unchanged; begin and commit failures are classified with WrapStoreErr.
func InTx(ctx context.Context, gdb *gorm.DB, op string, fn func(tx *gorm.DB) error) error {
	var fnErr error
	err := gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fnErr = fn(tx)
		return fnErr
	})
	if err == nil {
		return nil
	}
	if fnErr != nil && errors.Is(err, fnErr) {
		return fnErr
	}
	return WrapStoreErr(op, err)
}
