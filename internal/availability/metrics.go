package availability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	recordsAppended = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sslocal",
		Subsystem: "availability",
		Name:      "records_total",
		Help:      "Statistics records appended to the raw store.",
	})
	pingAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sslocal",
		Subsystem: "availability",
		Name:      "ping_attempts_total",
		Help:      "ICMP echo requests sent to relay servers.",
	})
	pingReplies = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sslocal",
		Subsystem: "availability",
		Name:      "ping_replies_total",
		Help:      "ICMP echo replies received from relay servers.",
	})
)
