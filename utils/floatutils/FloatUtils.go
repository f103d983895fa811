// Package floatutils provides utilities for working with floats
package floatutils

import (
	"math"
)

// Clip clips a floating point to within a minimum and maximum value.
// If the floating point exceeds max, then the function returns the max
// If min exceeds the floating point, then the function returns the min
func Clip(value, min, max float64) float64 {
	clipped := math.Min(value, max)
	return math.Max(clipped, min)
}

// ClipSlice clips each element of values in place
func ClipSlice(values []float64, min, max float64) {
	for i := range values {
		values[i] = Clip(values[i], min, max)
	}
}

// IsFinite returns whether a float is neither NaN nor infinite
func IsFinite(value float64) bool {
	return !math.IsNaN(value) && !math.IsInf(value, 0)
}

// AllFinite returns whether every element of values is finite
func AllFinite(values []float64) bool {
	for _, v := range values {
		if !IsFinite(v) {
			return false
		}
	}
	return true
}

// AllPositive returns whether every element of values is finite and
// strictly greater than zero.
func AllPositive(values []float64) bool {
	for _, v := range values {
		if !IsFinite(v) || v <= 0 {
			return false
		}
	}
	return true
}

// Quantize snaps value in [-1, 1] to the nearest of 2^bits evenly
// spaced levels covering [-1, 1]. If bits <= 0 the value is returned
// unchanged.
func Quantize(value float64, bits int) float64 {
	if bits <= 0 {
		return value
	}
	levels := math.Exp2(float64(bits)) - 1
	step := math.Round((Clip(value, -1, 1) + 1) / 2 * levels)
	return step/levels*2 - 1
}
