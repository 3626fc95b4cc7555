package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gomatter",
		Subsystem: "pipeline",
		Name:      "runs_total",
		Help:      "Completed pipeline runs by outcome (ok or the error kind)",
	}, []string{"outcome"})

	nodeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gomatter",
		Subsystem: "pipeline",
		Name:      "node_duration_seconds",
		Help:      "Time spent in each pipeline node",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
	}, []string{"node"})

	panicsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gomatter",
		Subsystem: "pipeline",
		Name:      "node_panics_total",
		Help:      "Recovered node panics",
	}, []string{"node"})

	verdictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gomatter",
		Subsystem: "feasibility",
		Name:      "verdicts_total",
		Help:      "Feasibility verdicts by verdict and basis",
	}, []string{"verdict", "basis"})
)
