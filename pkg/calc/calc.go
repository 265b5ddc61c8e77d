// Package calc holds small numeric helpers for progress reporting.
package calc

import (
	"math"
	"time"
)

const bytesPerMiB = 1024 * 1024

// Progress calculates the percentage for a given pair of numbers.
func Progress(downloaded, total int) int {
	if total > 0 {
		return int(math.Round(float64(downloaded) / float64(total) * 100))
	}

	return 0
}

// ETA estimates the remaining time from the rate observed since started.
// Zero when nothing is known yet.
func ETA(downloaded, total int, started time.Time) time.Duration {
	if total <= 0 || downloaded <= 0 {
		return 0
	}

	elapsed := time.Since(started)

	return time.Duration(float64(elapsed) * (float64(total)/float64(downloaded) - 1))
}

// MiB converts a byte count to mebibytes.
func MiB(n int64) float64 {
	return float64(n) / bytesPerMiB
}
