package rulestore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rulesLoaded = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gomatter",
		Subsystem: "rulestore",
		Name:      "rules_loaded",
		Help:      "Number of rules in the current index snapshot",
	})

	rebuildsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gomatter",
		Subsystem: "rulestore",
		Name:      "rebuilds_total",
		Help:      "Index rebuilds by outcome (ok, empty, corrupt)",
	}, []string{"outcome"})
)
