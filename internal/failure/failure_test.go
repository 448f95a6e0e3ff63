package failure

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryConflicts(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name         string
		errs         []error
		wantAttempts int
		wantIs       []error
	}{
		{
			name:         "succeeds first try",
			errs:         []error{nil},
			wantAttempts: 1,
		},
		{
			name:         "succeeds after one conflict",
			errs:         []error{ErrConcurrencyConflict, nil},
			wantAttempts: 2,
		},
		{
			name:         "exhausted conflicts become store unavailable",
			errs:         []error{ErrConcurrencyConflict, ErrConcurrencyConflict, ErrConcurrencyConflict, nil},
			wantAttempts: 3,
			wantIs:       []error{ErrStoreUnavailable, ErrConcurrencyConflict},
		},
		{
			name:         "other errors are not retried",
			errs:         []error{boom, nil},
			wantAttempts: 1,
			wantIs:       []error{boom},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			attempts := 0
			err := RetryConflicts(context.Background(), func(context.Context) error {
				e := tc.errs[attempts]
				attempts++
				return e
			})

			assert.Equal(t, tc.wantAttempts, attempts)
			if len(tc.wantIs) == 0 {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			for _, target := range tc.wantIs {
				assert.ErrorIs(t, err, target)
			}
		})
	}
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("", PolicyFailClosed)
	require.NoError(t, err)
	assert.Equal(t, PolicyFailClosed, p)

	p, err = ParsePolicy("Fail-Open", PolicyFailClosed)
	require.NoError(t, err)
	assert.True(t, p.FailOpen())

	_, err = ParsePolicy("sometimes", PolicyFailClosed)
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestStoreUnavailableKeepsCause(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := StoreUnavailable("counter.increment", cause)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.Nil(t, StoreUnavailable("noop", nil))
}
