package domain

import (
	"fmt"
	"math"
	"time"
)

const periodKeyLayout = "2006-01"

// PeriodKey is the calendar month of at in loc, formatted "2006-01".
func PeriodKey(at time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return at.In(loc).Format(periodKeyLayout)
}

// PeriodBounds returns the half-open interval [start, end) of key in loc.
func PeriodBounds(key string, loc *time.Location) (time.Time, time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	month, err := time.ParseInLocation(periodKeyLayout, key, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, key)
	}
	return month, month.AddDate(0, 1, 0), nil
}

// WarningThreshold is the allowance fraction at which the read model warns.
const WarningThreshold = 0.8

// Percent converts a fraction into a percentage rounded to two decimals.
func Percent(fraction float64) float64 {
	return math.Round(fraction*100*100) / 100
}
