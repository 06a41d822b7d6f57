// Package timecalc contains the pure duration, rounding, amount and
// interval-overlap calculations. No state, no I/O.
package timecalc

import (
	"math"
	"time"

	"github.com/rachuba/backoffice/internal/timetracking/models"
)

// openEnd is the comparison sentinel for running entries. It is only
// ever used inside Overlaps and never persisted.
var openEnd = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)

// Duration returns the whole minutes between start and end, clamped
// at zero for inverted intervals.
func Duration(start, end time.Time) int {
	minutes := int(end.Sub(start) / time.Minute)
	if minutes < 0 {
		return 0
	}
	return minutes
}

// Round snaps minutes to the given interval according to method.
// RoundNone or a non-positive interval leaves the value unchanged.
func Round(minutes int, method models.RoundingMethod, interval int) int {
	if method == models.RoundNone || interval <= 0 {
		return minutes
	}
	ratio := float64(minutes) / float64(interval)
	switch method {
	case models.RoundUp:
		return int(math.Ceil(ratio)) * interval
	case models.RoundDown:
		return int(math.Floor(ratio)) * interval
	case models.RoundNearest:
		return int(math.Round(ratio)) * interval
	default:
		return minutes
	}
}

// Amount computes the monetary value of minutes at hourlyRate,
// rounded to two decimals.
func Amount(minutes int, hourlyRate float64) float64 {
	amount := float64(minutes) / 60 * hourlyRate
	return math.Round(amount*100) / 100
}

// Overlaps reports whether [s1,e1) and [s2,e2) intersect. A nil end
// marks a running entry and is treated as open-ended.
func Overlaps(s1 time.Time, e1 *time.Time, s2 time.Time, e2 *time.Time) bool {
	end1 := openEnd
	if e1 != nil {
		end1 = *e1
	}
	end2 := openEnd
	if e2 != nil {
		end2 = *e2
	}
	return s1.Before(end2) && s2.Before(end1)
}
