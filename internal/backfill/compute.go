// Package backfill rebuilds a cumulative cost statistic from recorded
// hourly energy and price statistics.
package backfill

import (
	"time"

	"github.com/theirongolddev/devcost/internal/model"
)

// DefaultTolerance is the maximum distance between an energy point and the
// price point used for it.
const DefaultTolerance = 30 * time.Minute

// Series is the computed cost series for one device.
type Series struct {
	Points []model.StatPoint
	// Unmatched counts points with a usable energy delta but no price
	// within tolerance. Their cost is held flat.
	Unmatched int
}

// Compute replays the energy sums against the price means and returns one
// cumulative cost point per energy point.
func Compute(energy, price []model.StatPoint, tolerance time.Duration) Series {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}

	out := Series{Points: make([]model.StatPoint, 0, len(energy))}
	var (
		lastSum *float64
		total   float64
	)

	for _, p := range energy {
		if lastSum != nil && p.Sum != nil {
			delta := *p.Sum - *lastSum
			if mean, ok := priceAt(price, p.Start, tolerance); ok {
				total += delta * mean
			} else {
				out.Unmatched++
			}
		}
		// A nil sum clears the baseline for the next point.
		lastSum = p.Sum
		out.Points = append(out.Points, model.StatPoint{
			Start: p.Start,
			Sum:   model.Float(total),
			State: model.Float(total),
		})
	}
	return out
}

// priceAt returns the mean of the first price point strictly within
// tolerance of t. It does not look for the closest one.
func priceAt(price []model.StatPoint, t time.Time, tolerance time.Duration) (float64, bool) {
	for _, p := range price {
		if p.Mean == nil {
			continue
		}
		d := p.Start.Sub(t)
		if d < 0 {
			d = -d
		}
		if d < tolerance {
			return *p.Mean, true
		}
	}
	return 0, false
}
