// Package cli provides formatting and rendering utilities for terminal output.
package cli

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// FormatCost formats a cost in the given currency code.
// e.g., (12.345, "EUR") -> "12.35 EUR", (1234.5, "SEK") -> "1,235 SEK"
func FormatCost(cost float64, currency string) string {
	var s string
	switch abs := math.Abs(cost); {
	case abs >= 1000:
		s = FormatNumber(int64(math.Round(cost)))
	case abs > 0 && abs < 0.01:
		s = strconv.FormatFloat(cost, 'f', 4, 64)
	default:
		s = strconv.FormatFloat(cost, 'f', 2, 64)
	}
	if currency == "" {
		return s
	}
	return s + " " + currency
}

// FormatEnergy formats an energy reading in kWh.
func FormatEnergy(kwh float64) string {
	if math.Abs(kwh) >= 1000 {
		return FormatNumber(int64(math.Round(kwh))) + " kWh"
	}
	return strconv.FormatFloat(kwh, 'f', 2, 64) + " kWh"
}

// FormatDuration formats a duration at minute or second resolution.
// e.g., 1h2m5s -> "1h 2m", 125s -> "2m", 45s -> "45s"
func FormatDuration(d time.Duration) string {
	secs := int64(d / time.Second)
	if secs <= 0 {
		return "0s"
	}

	hours := secs / 3600
	mins := (secs % 3600) / 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	if mins > 0 {
		return fmt.Sprintf("%dm", mins)
	}
	return fmt.Sprintf("%ds", secs)
}

// FormatAge formats how long ago t was, or "never" for the zero time.
func FormatAge(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return FormatDuration(now.Sub(t)) + " ago"
}

// FormatNumber adds comma separators to an integer.
// e.g., 1234567 -> "1,234,567"
func FormatNumber(n int64) string {
	if n < 0 {
		return "-" + FormatNumber(-n)
	}

	s := strconv.FormatInt(n, 10)
	if len(s) <= 3 {
		return s
	}

	var result strings.Builder
	remainder := len(s) % 3
	if remainder > 0 {
		result.WriteString(s[:remainder])
	}
	for i := remainder; i < len(s); i += 3 {
		if result.Len() > 0 {
			result.WriteByte(',')
		}
		result.WriteString(s[i : i+3])
	}
	return result.String()
}

// FormatDelta formats a cost delta with its sign.
func FormatDelta(delta float64, currency string) string {
	if delta >= 0 {
		return "+" + FormatCost(delta, currency)
	}
	return "-" + FormatCost(-delta, currency)
}
