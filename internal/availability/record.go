package availability

import (
	"math"
	"time"
)

// Record summarises one collection window for one server. Each group of
// fields is nil when the window produced no usable samples for it.
type Record struct {
	Timestamp        time.Time `json:"timestamp"`
	ServerIdentifier string    `json:"serverIdentifier"`

	// Connect latency in milliseconds.
	AverageLatency *int `json:"averageLatency,omitempty"`
	MinLatency     *int `json:"minLatency,omitempty"`
	MaxLatency     *int `json:"maxLatency,omitempty"`

	// Throughput in KiB/s.
	AverageInboundSpeed  *int `json:"averageInboundSpeed,omitempty"`
	MinInboundSpeed      *int `json:"minInboundSpeed,omitempty"`
	MaxInboundSpeed      *int `json:"maxInboundSpeed,omitempty"`
	AverageOutboundSpeed *int `json:"averageOutboundSpeed,omitempty"`
	MinOutboundSpeed     *int `json:"minOutboundSpeed,omitempty"`
	MaxOutboundSpeed     *int `json:"maxOutboundSpeed,omitempty"`

	// ICMP round trip in milliseconds.
	AverageResponse *int     `json:"averageResponse,omitempty"`
	MinResponse     *int     `json:"minResponse,omitempty"`
	MaxResponse     *int     `json:"maxResponse,omitempty"`
	PingPassRate    *float64 `json:"pingPassRate,omitempty"`

	// Connect failures per second over the window.
	FailureRate *float64 `json:"failureRate,omitempty"`
}

// Window holds the raw samples gathered for one server between two
// aggregations.
type Window struct {
	Latencies      []int
	InboundSpeeds  []int
	OutboundSpeeds []int
	Failures       int

	PingAttempts  int
	PingResponses []int
}

// NewRecord condenses w into a Record. Only positive samples contribute to
// avg/min/max. length is the window duration used for the failure rate.
func NewRecord(id string, ts time.Time, w Window, length time.Duration) Record {
	r := Record{Timestamp: ts, ServerIdentifier: id}

	r.AverageLatency, r.MinLatency, r.MaxLatency = summarize(w.Latencies)
	r.AverageInboundSpeed, r.MinInboundSpeed, r.MaxInboundSpeed = summarize(w.InboundSpeeds)
	r.AverageOutboundSpeed, r.MinOutboundSpeed, r.MaxOutboundSpeed = summarize(w.OutboundSpeeds)
	r.AverageResponse, r.MinResponse, r.MaxResponse = summarize(w.PingResponses)

	if w.PingAttempts > 0 {
		rate := float64(len(w.PingResponses)) / float64(w.PingAttempts)
		r.PingPassRate = &rate
	}

	if w.Failures > 0 || !r.IsEmpty() {
		var rate float64
		if secs := length.Seconds(); secs > 0 {
			rate = float64(w.Failures) / secs
		}
		r.FailureRate = &rate
	}

	return r
}

// IsEmpty reports whether every group of the record is absent.
func (r *Record) IsEmpty() bool {
	return r.AverageLatency == nil &&
		r.AverageInboundSpeed == nil &&
		r.AverageOutboundSpeed == nil &&
		r.AverageResponse == nil &&
		r.PingPassRate == nil &&
		r.FailureRate == nil
}

func summarize(samples []int) (avg, lo, hi *int) {
	var (
		n      int
		sum    int64
		mn, mx int
	)
	for _, s := range samples {
		if s <= 0 {
			continue
		}
		if n == 0 || s < mn {
			mn = s
		}
		if n == 0 || s > mx {
			mx = s
		}
		sum += int64(s)
		n++
	}
	if n == 0 {
		return nil, nil, nil
	}
	mean := int(math.Round(float64(sum) / float64(n)))
	return &mean, &mn, &mx
}
