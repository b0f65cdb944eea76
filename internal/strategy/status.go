package strategy

import (
	"sync"
	"time"

	"github.com/die-net/sslocal/internal/upstream"
)

const (
	// A server that has never been measured is assumed to be very slow so
	// that measured servers win until its latency is known.
	defaultLatency = 100 * time.Second

	failureCap    = 60.0 // seconds since last failure that still count
	failureWeight = 100 * 1000.0
	latencyWeight = 10.0  // per millisecond
	latencyDecay  = 300.0 // seconds for a latency sample to lose half its weight
	silenceCap    = 10.0  // seconds of unanswered writes that still count
	silenceWeight = 1000.0

	// switchMargin is how much a challenger must beat the current server by.
	switchMargin = 200.0
)

// serverStatus is the high availability view of one server. Fields are
// guarded by mu; timestamps only ever move forward.
type serverStatus struct {
	mu sync.Mutex

	server      *upstream.Server
	latency     time.Duration
	latencyAt   time.Time
	lastRead    time.Time
	lastWrite   time.Time
	lastFailure time.Time
	score       float64

	// awaitingRead is set by a write and cleared by the next read.
	awaitingRead bool
}

func newServerStatus(s *upstream.Server, now time.Time) *serverStatus {
	return &serverStatus{
		server:    s,
		latency:   defaultLatency,
		latencyAt: now,
		lastRead:  now,
		lastWrite: now,
	}
}

func later(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

func (st *serverStatus) reportLatency(d time.Duration, now time.Time) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.latency = d
	st.latencyAt = later(st.latencyAt, now)
}

func (st *serverStatus) reportRead(now time.Time) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.lastRead = later(st.lastRead, now)
	st.awaitingRead = false
}

// reportWrite starts a new unanswered-write interval if every earlier write
// has been answered, so idle time before a write is not counted as silence.
func (st *serverStatus) reportWrite(now time.Time) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.awaitingRead {
		st.lastRead = later(st.lastRead, now)
		st.awaitingRead = true
	}
	st.lastWrite = later(st.lastWrite, now)
}

func (st *serverStatus) reportFailure(now time.Time) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.lastFailure = later(st.lastFailure, now)
}

// rescore recomputes and stores the score:
//
//	failureWeight * min(failureCap, secondsSinceFailure)
//	- latencyWeight * latencyMs / (1 + secondsSinceLatency/latencyDecay)
//	- silenceWeight * min(silenceCap, secondsWrittenWithoutRead)
func (st *serverStatus) rescore(now time.Time) float64 {
	st.mu.Lock()
	defer st.mu.Unlock()

	sinceFailure := clamp(now.Sub(st.lastFailure).Seconds(), 0, failureCap)

	latencyMs := float64(st.latency) / float64(time.Millisecond)
	age := max(0, now.Sub(st.latencyAt).Seconds())
	latency := latencyWeight * latencyMs / (1 + age/latencyDecay)

	silence := clamp(st.lastWrite.Sub(st.lastRead).Seconds(), 0, silenceCap)

	st.score = failureWeight*sinceFailure - latency - silenceWeight*silence
	return st.score
}

func clamp(v, lo, hi float64) float64 {
	return min(max(v, lo), hi)
}
