package utils

import (
	"fmt"
	"sort"
	"time"
)

// DurationDays converts a duration into fractional days.
func DurationDays(d time.Duration) float64 {
	return d.Hours() / 24
}

// MedianGap estimates a series' native cadence as the median gap between
// consecutive timestamps. Returns zero when fewer than two timestamps exist.
func MedianGap(times []time.Time) time.Duration {
	if len(times) < 2 {
		return 0
	}
	gaps := make([]time.Duration, 0, len(times)-1)
	for i := 1; i < len(times); i++ {
		gap := times[i].Sub(times[i-1])
		if gap < 0 {
			gap = -gap
		}
		gaps = append(gaps, gap)
	}
	sort.Slice(gaps, func(i, j int) bool { return gaps[i] < gaps[j] })
	return gaps[len(gaps)/2]
}

// ClampDuration bounds d to [min, max].
func ClampDuration(d, min, max time.Duration) time.Duration {
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}

// HumanizeLag renders an estimated lag as the dashboard-facing range label,
// e.g. "2-4 hours" or "1-2 days". Zero lag means the series move together.
func HumanizeLag(lag time.Duration) string {
	if lag <= 0 {
		return "aligned"
	}
	if lag < 24*time.Hour {
		lo := int(lag.Hours())
		hi := lo * 2
		if lo < 1 {
			return "under 1 hour"
		}
		return fmt.Sprintf("%d-%d hours", lo, hi)
	}
	lo := int(lag.Hours() / 24)
	hi := lo + 1
	return fmt.Sprintf("%d-%d days", lo, hi)
}
