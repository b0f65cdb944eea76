package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	acceptedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sslocal",
		Subsystem: "relay",
		Name:      "connections_total",
		Help:      "Client connections accepted.",
	})
	activeHandlers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sslocal",
		Subsystem: "relay",
		Name:      "active_handlers",
		Help:      "Handlers currently registered.",
	})
	connectFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sslocal",
		Subsystem: "relay",
		Name:      "connect_failures_total",
		Help:      "Failed connect attempts to relay servers.",
	})
	connectLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "sslocal",
		Subsystem: "relay",
		Name:      "connect_seconds",
		Help:      "Time to establish a TCP connection to a relay server.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	})
	idleClosed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sslocal",
		Subsystem: "relay",
		Name:      "idle_closed_total",
		Help:      "Handlers closed by the idle sweep.",
	})
	bytesRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sslocal",
		Subsystem: "relay",
		Name:      "bytes_total",
		Help:      "Bytes read from each side of relayed connections.",
	}, []string{"direction"})

	bytesInbound  = bytesRelayed.WithLabelValues("inbound")
	bytesOutbound = bytesRelayed.WithLabelValues("outbound")
)
