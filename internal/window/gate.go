// Package window restricts polling to hours of day in a source's timezone.
package window

import (
	"time"

	"ncaaf_v5/feedcache/internal/source"
)

// IsWithinWindow reports whether now, converted to the descriptor's timezone,
// falls inside its active window. Sources without a window are always open.
// Both bounds are inclusive and compared as fractional hours, so an end of
// 23.5 admits 23:30:00 but not 23:30:01.
func IsWithinWindow(d *source.Descriptor, now time.Time) bool {
	if d.Window == nil {
		return true
	}

	hour := FractionalHour(now.In(d.Location()))
	start, end := d.Window.Start, d.Window.End

	if start <= end {
		return hour >= start && hour <= end
	}
	// wraps midnight, e.g. [22, 2]
	return hour >= start || hour <= end
}

// FractionalHour returns the hour of day with minutes, seconds and
// nanoseconds folded in.
func FractionalHour(t time.Time) float64 {
	return float64(t.Hour()) +
		float64(t.Minute())/60 +
		float64(t.Second())/3600 +
		float64(t.Nanosecond())/3.6e12
}
