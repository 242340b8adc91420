// Package accumulator implements the incremental energy-cost algorithm:
// each increase of a cumulative energy reading is priced at the current
// spot price and added to a running total.
package accumulator

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/theirongolddev/devcost/internal/model"
)

// Places is the number of decimal places the running total is rounded to
// after every accumulation step.
const Places = 6

// State is the persisted per-device accumulator state.
type State struct {
	TotalCost  float64  `json:"total_cost"`
	LastEnergy *float64 `json:"last_energy"`
}

// Policy decides what happens to the baseline when energy decreases.
type Policy string

const (
	// PolicyFreeze keeps the old baseline until energy climbs back above it.
	// After a counter reset no cost accrues until that happens.
	PolicyFreeze Policy = "freeze"
	// PolicyRebase moves the baseline down to the new, lower reading.
	PolicyRebase Policy = "rebase"
)

// ParsePolicy validates a policy name. Empty means PolicyFreeze.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyFreeze:
		return PolicyFreeze, nil
	case PolicyRebase:
		return PolicyRebase, nil
	default:
		return "", fmt.Errorf("unknown decrease policy %q (want %q or %q)", s, PolicyFreeze, PolicyRebase)
	}
}

// Outcome reports what an observation did to the state.
type Outcome int

const (
	OutcomeSkipped     Outcome = iota // a reading was missing or non-numeric
	OutcomeBaseline                   // first valid energy reading recorded
	OutcomeAccumulated                // energy increased, cost added
	OutcomeHeld                       // energy flat or decreased, nothing changed
	OutcomeRebased                    // energy decreased, baseline moved down
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSkipped:
		return "skipped"
	case OutcomeBaseline:
		return "baseline"
	case OutcomeAccumulated:
		return "accumulated"
	case OutcomeHeld:
		return "held"
	case OutcomeRebased:
		return "rebased"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Changed reports whether the outcome produced a new state that should be
// persisted.
func (o Outcome) Changed() bool {
	return o == OutcomeBaseline || o == OutcomeAccumulated || o == OutcomeRebased
}

// Observe applies one energy/price observation to s and returns the new
// state. It never mutates s.
func Observe(s State, energy, price model.Reading, policy Policy) (State, Outcome) {
	if !energy.Valid || !price.Valid {
		return s, OutcomeSkipped
	}

	if s.LastEnergy == nil {
		s.LastEnergy = model.Float(energy.Value)
		return s, OutcomeBaseline
	}

	delta := energy.Value - *s.LastEnergy
	switch {
	case delta > 0:
		s.TotalCost = AddCost(s.TotalCost, delta, price.Value)
		s.LastEnergy = model.Float(energy.Value)
		return s, OutcomeAccumulated
	case delta < 0 && policy == PolicyRebase:
		s.LastEnergy = model.Float(energy.Value)
		return s, OutcomeRebased
	default:
		return s, OutcomeHeld
	}
}

// AddCost returns total + deltaEnergy*price rounded to Places decimals.
func AddCost(total, deltaEnergy, price float64) float64 {
	cost := decimal.NewFromFloat(deltaEnergy).Mul(decimal.NewFromFloat(price))
	return decimal.NewFromFloat(total).Add(cost).Round(Places).InexactFloat64()
}
