package timecalc

import (
	"testing"
	"time"

	"github.com/rachuba/backoffice/internal/pkg/utils"
	"github.com/rachuba/backoffice/internal/timetracking/models"
	"github.com/stretchr/testify/assert"
)

func TestDuration(t *testing.T) {
	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		end  time.Time
		want int
	}{
		{"two hours", start.Add(2 * time.Hour), 120},
		{"sub-minute remainder floors", start.Add(52*time.Minute + 45*time.Second), 52},
		{"zero length", start, 0},
		{"inverted interval clamps to zero", start.Add(-time.Hour), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Duration(start, tt.end))
		})
	}
}

func TestRound(t *testing.T) {
	tests := []struct {
		name     string
		minutes  int
		method   models.RoundingMethod
		interval int
		want     int
	}{
		{"up", 52, models.RoundUp, 15, 60},
		{"down", 52, models.RoundDown, 15, 45},
		{"nearest below midpoint", 52, models.RoundNearest, 15, 45},
		{"none", 52, models.RoundNone, 15, 52},
		{"nearest above midpoint", 53, models.RoundNearest, 15, 60},
		{"exact multiple unchanged", 45, models.RoundUp, 15, 45},
		{"zero interval is identity", 52, models.RoundUp, 0, 52},
		{"negative interval is identity", 52, models.RoundDown, -5, 52},
		{"unknown method is identity", 52, models.RoundingMethod("WEIRD"), 15, 52},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Round(tt.minutes, tt.method, tt.interval))
		})
	}
}

func TestAmount(t *testing.T) {
	assert.Equal(t, 100.0, Amount(60, 100))
	assert.Equal(t, 50.0, Amount(30, 100))
	// 52 minutes at 100/h = 86.666... rounds to 86.67
	assert.Equal(t, 86.67, Amount(52, 100))
	assert.Equal(t, 0.0, Amount(0, 100))
}

func TestOverlaps(t *testing.T) {
	at := func(hour int) time.Time {
		return time.Date(2025, 3, 10, hour, 0, 0, 0, time.UTC)
	}

	tests := []struct {
		name   string
		s1     time.Time
		e1     *time.Time
		s2     time.Time
		e2     *time.Time
		want   bool
	}{
		{"partial overlap", at(9), utils.Ptr(at(11)), at(10), utils.Ptr(at(12)), true},
		{"containment", at(9), utils.Ptr(at(12)), at(10), utils.Ptr(at(11)), true},
		{"disjoint", at(9), utils.Ptr(at(10)), at(11), utils.Ptr(at(12)), false},
		{"touching boundaries do not overlap", at(9), utils.Ptr(at(10)), at(10), utils.Ptr(at(11)), false},
		{"open end overlaps later interval", at(9), nil, at(15), utils.Ptr(at(16)), true},
		{"open end starts after closed interval", at(11), nil, at(9), utils.Ptr(at(10)), false},
		{"two open ends always overlap", at(9), nil, at(15), nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Overlaps(tt.s1, tt.e1, tt.s2, tt.e2))
			assert.Equal(t, tt.want, Overlaps(tt.s2, tt.e2, tt.s1, tt.e1), "overlap must be symmetric")
		})
	}
}
