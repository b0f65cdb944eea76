package strategy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	selections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sslocal",
		Subsystem: "strategy",
		Name:      "selections_total",
		Help:      "Servers handed out, by strategy.",
	}, []string{"strategy"})
	switches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sslocal",
		Subsystem: "strategy",
		Name:      "switches_total",
		Help:      "Times a strategy moved to a different server.",
	}, []string{"strategy"})
	fallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sslocal",
		Subsystem: "strategy",
		Name:      "statistics_fallbacks_total",
		Help:      "Statistics selections answered by high availability.",
	})
)
