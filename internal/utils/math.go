package utils

import (
	"math"
	"time"
)

// Round rounds a float64 value to 2 decimal places
// Used for uptime entries and reported metrics to avoid unnecessary precision
func Round(val float64) float64 {
	// Use proper rounding that works for both positive and negative numbers
	return math.Round(val*100) / 100
}

// Minutes converts a duration to minutes rounded to 2 decimal places
func Minutes(d time.Duration) float64 {
	return Round(d.Minutes())
}

// Megabytes converts a byte count to MB rounded to 2 decimal places
func Megabytes(b uint64) float64 {
	return Round(float64(b) / 1024 / 1024)
}
