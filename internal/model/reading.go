// Package model holds the plain data types shared by the accumulator, the
// backfiller and the adapters around them.
package model

import (
	"math"
	"strconv"
	"strings"
)

// Reading is one sampled entity value. Valid is false when the source was
// missing, unknown, unavailable or not a finite number.
type Reading struct {
	Value float64
	Valid bool
}

// Value returns a valid reading for v.
func Value(v float64) Reading {
	return Reading{Value: v, Valid: true}
}

// Unavailable is the zero reading.
var Unavailable = Reading{}

// ParseReading converts a raw entity state into a Reading.
// e.g., "12.5" -> {12.5, true}, "unavailable" -> {0, false}
func ParseReading(raw string) Reading {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Unavailable
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return Unavailable
	}
	return Value(v)
}
