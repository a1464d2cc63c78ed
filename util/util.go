// Package util contains misc internal utilities.
package util

import (
	"math"
	"time"
)

// SecsToDuration converts a number of seconds to a time.Duration,
// rounding to the nearest nanosecond
func SecsToDuration(secs float64) time.Duration {
	return time.Duration(math.Round(secs * float64(time.Second)))
}

// Clamp limits input to the range [low, high]
func Clamp(input, low, high float64) float64 {
	if input < low {
		return low
	}
	if input > high {
		return high
	}
	return input
}
