package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeriodKey(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	at := time.Date(2025, time.January, 31, 20, 0, 0, 0, time.UTC)
	assert.Equal(t, "2025-01", PeriodKey(at, nil))
	assert.Equal(t, "2025-02", PeriodKey(at, tokyo))
}

func TestPeriodBounds(t *testing.T) {
	start, end, err := PeriodBounds("2024-02", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC), end)

	_, _, err = PeriodBounds("2024/02", time.UTC)
	assert.ErrorIs(t, err, ErrInvalidPeriod)
}

func TestPercent(t *testing.T) {
	tests := []struct {
		fraction float64
		want     float64
	}{
		{0, 0},
		{0.8, 80},
		{0.33333, 33.33},
		{0.66666, 66.67},
		{1.1, 110},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Percent(tt.fraction))
	}
}
