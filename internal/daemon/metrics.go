package daemon

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// metrics are registered on a per-service registry so several services can
// coexist in one process.
type metrics struct {
	registry      *prometheus.Registry
	totalCost     *prometheus.GaugeVec
	observations  *prometheus.CounterVec
	polls         prometheus.Counter
	pollErrors    prometheus.Counter
	reloads       prometheus.Counter
	sensors       prometheus.Gauge
	persistErrors prometheus.Counter
	backfillRuns  *prometheus.CounterVec
	backfillPts   prometheus.Counter
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		totalCost: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "devcost",
			Name:      "total_cost",
			Help:      "Accumulated cost per device sensor.",
		}, []string{"entity_id", "currency"}),
		observations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "devcost",
			Name:      "observations_total",
			Help:      "Accumulator observations by outcome.",
		}, []string{"outcome"}),
		polls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "devcost",
			Name:      "polls_total",
			Help:      "State polls performed.",
		}),
		pollErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "devcost",
			Name:      "poll_errors_total",
			Help:      "Entity reads that failed during a poll.",
		}),
		reloads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "devcost",
			Name:      "reloads_total",
			Help:      "Energy configuration reloads.",
		}),
		sensors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "devcost",
			Name:      "sensors",
			Help:      "Active cost sensors.",
		}),
		persistErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "devcost",
			Name:      "persist_errors_total",
			Help:      "Accumulator state writes that failed.",
		}),
		backfillRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "devcost",
			Name:      "backfill_runs_total",
			Help:      "Backfill requests by result.",
		}, []string{"result"}),
		backfillPts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "devcost",
			Name:      "backfill_points_total",
			Help:      "Cost statistic points imported by backfill.",
		}),
	}

	m.registry.MustRegister(
		m.totalCost,
		m.observations,
		m.polls,
		m.pollErrors,
		m.reloads,
		m.sensors,
		m.persistErrors,
		m.backfillRuns,
		m.backfillPts,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}
