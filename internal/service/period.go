package service

import (
	"fmt"
	"time"
)

// parsePeriod converts a statement period like "2026-02" into the UTC
// half-open interval [first of month, first of next month).
func parsePeriod(period string) (time.Time, time.Time, error) {
	t, err := time.Parse("2006-01", period)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("period %q: expected YYYY-MM", period)
	}
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0), nil
}

// absDays returns the whole days between two dates, ignoring direction.
func absDays(a, b time.Time) int {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return int(d.Hours() / 24)
}

// absCents returns |cents|.
func absCents(cents int64) int64 {
	if cents < 0 {
		return -cents
	}
	return cents
}
