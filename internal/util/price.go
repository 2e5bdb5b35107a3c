// Package util provides common helpers for price arithmetic.
//
// Credits and thresholds are contracted at two decimal places, so
// comparisons at decision boundaries go through integer cents rather
// than raw float64 equality.
package util

import "math"

// RoundToTick rounds x to the nearest tick increment.
// For example, with tick=0.01, 1.2345 becomes 1.23 or 1.24 depending on rounding.
func RoundToTick(x, tick float64) float64 {
	if tick <= 0 || math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	return math.Round(x/tick) * tick
}

// FloorToTick rounds x down to the nearest tick increment. A small
// epsilon absorbs float noise just below an exact multiple.
func FloorToTick(x, tick float64) float64 {
	if tick <= 0 || math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	const eps = 1e-9
	return math.Floor(x/tick+eps) * tick
}

// Cents converts a dollar amount to integer cents, rounding half away
// from zero. Threshold comparisons use this so that values like 4.60
// compare exactly.
func Cents(x float64) int64 {
	return int64(math.Round(x * 100))
}

// FromCents converts integer cents back to a dollar amount.
func FromCents(c int64) float64 {
	return float64(c) / 100
}

// RoundCents normalizes x to two decimal places.
func RoundCents(x float64) float64 {
	return FromCents(Cents(x))
}

// Clamp bounds x to the inclusive range [lo, hi].
func Clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
