package model

import "time"

// Period is a statistics aggregation period.
type Period string

// PeriodHour is the only period the statistics store keeps.
const PeriodHour Period = "hour"

// StatPoint is one row of a long-term statistics series. Any of the value
// columns may be absent.
type StatPoint struct {
	Start time.Time `json:"start"`
	Mean  *float64  `json:"mean,omitempty"`
	Sum   *float64  `json:"sum,omitempty"`
	State *float64  `json:"state,omitempty"`
}

// StatisticMetadata describes an externally sourced statistic.
type StatisticMetadata struct {
	StatisticID string `json:"statistic_id"`
	Source      string `json:"source"`
	Name        string `json:"name"`
	Unit        string `json:"unit_of_measurement"`
	HasMean     bool   `json:"has_mean"`
	HasSum      bool   `json:"has_sum"`
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}
