package strategy

import (
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/die-net/sslocal/internal/availability"
	"github.com/die-net/sslocal/internal/upstream"
)

var (
	srvA = &upstream.Server{Host: "a.example", Port: 8388}
	srvB = &upstream.Server{Host: "b.example", Port: 8388}
	srvC = &upstream.Server{Host: "c.example", Port: 8388}
)

func newHA(t *testing.T, servers ...*upstream.Server) (*HighAvailability, *upstream.List, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	list := upstream.NewList(servers)
	return NewHighAvailability(list, clk, slog.Default()), list, clk
}

func TestBalancingRoundRobin(t *testing.T) {
	b := NewBalancing(upstream.NewList([]*upstream.Server{srvA, srvB, srvC}))

	var got []*upstream.Server
	for range 6 {
		got = append(got, b.SelectServer(CallerTCP, nil))
	}
	assert.Equal(t, []*upstream.Server{srvA, srvB, srvC, srvA, srvB, srvC}, got)
}

func TestBalancingUDPAffinity(t *testing.T) {
	b := NewBalancing(upstream.NewList([]*upstream.Server{srvA, srvB, srvC}))
	local := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5353}

	first := b.SelectServer(CallerUDP, local)
	for range 10 {
		assert.Same(t, first, b.SelectServer(CallerUDP, local))
	}
}

func TestBalancingEmpty(t *testing.T) {
	b := NewBalancing(upstream.NewList(nil))
	assert.Nil(t, b.SelectServer(CallerTCP, nil))
}

func TestHighAvailabilityEmpty(t *testing.T) {
	h, _, _ := newHA(t)
	assert.Nil(t, h.SelectServer(CallerTCP, nil))
	assert.Nil(t, h.SelectServer(CallerUDP, nil))
}

func TestHighAvailabilityPrefersMeasured(t *testing.T) {
	h, _, _ := newHA(t, srvA, srvB)
	h.ReportLatency(srvB, 80*time.Millisecond)

	assert.Same(t, srvB, h.SelectServer(CallerTCP, nil))
}

func TestHighAvailabilitySwitchMargin(t *testing.T) {
	h, _, _ := newHA(t, srvA, srvB)

	h.ReportLatency(srvA, 30*time.Millisecond)
	h.ReportLatency(srvB, 40*time.Millisecond)
	require.Same(t, srvA, h.SelectServer(CallerTCP, nil))

	// B now leads by 150, inside the margin.
	h.ReportLatency(srvB, 15*time.Millisecond)
	assert.Same(t, srvA, h.SelectServer(CallerTCP, nil))

	// B now leads by 250.
	h.ReportLatency(srvB, 5*time.Millisecond)
	assert.Same(t, srvB, h.SelectServer(CallerTCP, nil))
}

func TestHighAvailabilityUDPReusesChoice(t *testing.T) {
	h, _, _ := newHA(t, srvA, srvB)
	h.ReportLatency(srvA, 10*time.Millisecond)
	h.ReportLatency(srvB, 500*time.Millisecond)
	require.Same(t, srvA, h.SelectServer(CallerUDP, nil))

	h.ReportFailure(srvA)
	assert.Same(t, srvA, h.SelectServer(CallerUDP, nil), "udp callers do not rescore")
	assert.Same(t, srvB, h.SelectServer(CallerTCP, nil))
}

func TestHighAvailabilityFailureMonotonic(t *testing.T) {
	h, _, clk := newHA(t, srvA, srvB)

	h.ReportFailure(srvA)
	clk.Add(10 * time.Second)
	h.ReportFailure(srvB)

	now := clk.Now()
	a := h.status(srvA).rescore(now)
	b := h.status(srvB).rescore(now)
	assert.Greater(t, a, b, "more recent failure must score lower")

	// Past the failure window both recover fully.
	clk.Add(2 * time.Minute)
	now = clk.Now()
	assert.InDelta(t, h.status(srvA).rescore(now), h.status(srvB).rescore(now), 1e-6)
}

func TestHighAvailabilityLatencyMonotonic(t *testing.T) {
	h, _, clk := newHA(t, srvA, srvB)
	h.ReportLatency(srvA, 20*time.Millisecond)
	h.ReportLatency(srvB, 200*time.Millisecond)

	now := clk.Now()
	assert.Greater(t, h.status(srvA).rescore(now), h.status(srvB).rescore(now))

	// Old samples weigh less.
	fresh := h.status(srvB).rescore(now)
	stale := h.status(srvB).rescore(now.Add(10 * time.Minute))
	assert.Greater(t, stale, fresh)
}

func TestHighAvailabilityTimestampsNeverMoveBack(t *testing.T) {
	h, _, clk := newHA(t, srvA)
	st := h.status(srvA)

	clk.Add(time.Minute)
	h.ReportRead(srvA)
	h.ReportFailure(srvA)
	newest := clk.Now()

	clk.Set(newest.Add(-30 * time.Second))
	h.ReportRead(srvA)
	h.ReportFailure(srvA)

	st.mu.Lock()
	defer st.mu.Unlock()
	assert.Equal(t, newest, st.lastRead)
	assert.Equal(t, newest, st.lastFailure)
}

func TestHighAvailabilityUnansweredWrites(t *testing.T) {
	h, _, clk := newHA(t, srvA)
	st := h.status(srvA)
	h.ReportLatency(srvA, 0)

	// Idle time before the first write is not silence.
	clk.Add(time.Hour)
	h.ReportWrite(srvA)
	base := st.rescore(clk.Now())

	clk.Add(5 * time.Second)
	h.ReportWrite(srvA)
	assert.InDelta(t, base-5*silenceWeight, st.rescore(clk.Now()), 1e-6)

	// Silence spans first unanswered write to latest write, not to now.
	clk.Add(3 * time.Second)
	assert.InDelta(t, base-5*silenceWeight, st.rescore(clk.Now()), 1e-6)

	clk.Add(time.Minute)
	h.ReportWrite(srvA)
	assert.InDelta(t, base-silenceCap*silenceWeight, st.rescore(clk.Now()), 1e-6, "silence is capped")

	h.ReportRead(srvA)
	assert.InDelta(t, base, st.rescore(clk.Now()), 1e-6)
}

func TestHighAvailabilityIgnoresUnknownServers(t *testing.T) {
	h, _, _ := newHA(t, srvA)
	stranger := &upstream.Server{Host: "x.example", Port: 1}

	h.ReportLatency(stranger, time.Millisecond)
	h.ReportRead(stranger)
	h.ReportWrite(stranger)
	h.ReportFailure(stranger)
	h.ReportFailure(nil)

	assert.Nil(t, h.status(stranger))
	assert.Same(t, srvA, h.SelectServer(CallerTCP, nil))
}

func TestHighAvailabilityReloadKeepsHistory(t *testing.T) {
	h, list, _ := newHA(t, srvA, srvB)
	h.ReportLatency(srvA, 7*time.Millisecond)
	require.Same(t, srvA, h.SelectServer(CallerTCP, nil))

	replacement := &upstream.Server{Host: "a.example", Port: 8388, Method: "chacha20-ietf"}
	list.Update([]*upstream.Server{replacement, srvC})
	h.ReloadServers()

	st := h.status(replacement)
	require.NotNil(t, st)
	assert.Equal(t, 7*time.Millisecond, st.latency)
	assert.Same(t, replacement, h.SelectServer(CallerTCP, nil))
	assert.Nil(t, h.status(srvB))

	list.Update([]*upstream.Server{srvC})
	h.ReloadServers()
	assert.Same(t, srvC, h.SelectServer(CallerUDP, nil), "removed current server is replaced")
}

func TestHighAvailabilityReloadRescores(t *testing.T) {
	h, list, _ := newHA(t, srvA, srvB)
	h.ReportLatency(srvA, 5*time.Millisecond)
	h.ReportLatency(srvB, 50*time.Millisecond)
	require.Same(t, srvA, h.SelectServer(CallerTCP, nil))

	list.Update([]*upstream.Server{srvB, srvC})
	h.ReloadServers()

	h.mu.RLock()
	cur := h.current
	h.mu.RUnlock()
	require.NotNil(t, cur, "replacement chosen without waiting for a selection")
	assert.Same(t, srvB, cur.server)
}

func TestHighAvailabilityConcurrent(t *testing.T) {
	h, list, _ := newHA(t, srvA, srvB, srvC)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Go(func() {
			for j := range 200 {
				s := h.SelectServer(CallerTCP, nil)
				if s == nil {
					continue
				}
				switch (i + j) % 4 {
				case 0:
					h.ReportLatency(s, time.Duration(j)*time.Millisecond)
				case 1:
					h.ReportRead(s)
				case 2:
					h.ReportWrite(s)
				case 3:
					h.ReportFailure(s)
				}
			}
		})
	}
	wg.Go(func() {
		for range 50 {
			list.Update([]*upstream.Server{srvA, srvC})
			h.ReloadServers()
			list.Update([]*upstream.Server{srvA, srvB, srvC})
			h.ReloadServers()
		}
	})
	wg.Wait()
}

type fakeSource struct {
	mu    sync.Mutex
	stats availability.Statistics
}

func (f *fakeSource) Snapshot() availability.Statistics {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

type recordingStrategy struct {
	Balancing
	mu       sync.Mutex
	selected int
	reports  int
}

func (r *recordingStrategy) SelectServer(CallerType, net.Addr) *upstream.Server {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.selected++
	return srvC
}

func (r *recordingStrategy) ReportLatency(*upstream.Server, time.Duration) { r.report() }
func (r *recordingStrategy) ReportRead(*upstream.Server)                   { r.report() }
func (r *recordingStrategy) ReportWrite(*upstream.Server)                  { r.report() }
func (r *recordingStrategy) ReportFailure(*upstream.Server)                { r.report() }

func (r *recordingStrategy) report() {
	r.mu.Lock()
	r.reports++
	r.mu.Unlock()
}

func intp(v int) *int { return &v }

func rec(id string, latency, speed int) availability.Record {
	r := availability.Record{ServerIdentifier: id}
	if latency > 0 {
		r.AverageLatency = intp(latency)
	}
	if speed > 0 {
		r.AverageInboundSpeed = intp(speed)
	}
	return r
}

func newStatistics(t *testing.T, stats availability.Statistics, weights map[availability.Field]float64, servers ...*upstream.Server) (*Statistics, *recordingStrategy, *fakeSource, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	src := &fakeSource{stats: stats}
	fb := &recordingStrategy{}
	s := NewStatistics(upstream.NewList(servers), src, fb, StatisticsSettings{Weights: weights, ChoiceKept: 10 * time.Minute}, clk, slog.Default())
	return s, fb, src, clk
}

var speedWeights = map[availability.Field]float64{
	availability.FieldAverageInboundSpeed: 1,
	availability.FieldAverageLatency:      -1,
}

func TestStatisticsNoData(t *testing.T) {
	s, fb, _, _ := newStatistics(t, nil, speedWeights, srvA, srvB)
	assert.Nil(t, s.SelectServer(CallerTCP, nil))
	assert.Zero(t, fb.selected)

	s, _, _, _ = newStatistics(t, availability.Statistics{}, speedWeights)
	assert.Nil(t, s.SelectServer(CallerTCP, nil))
}

func TestStatisticsChoosesHighestScore(t *testing.T) {
	stats := availability.Statistics{
		srvA.Identifier(): {rec(srvA.Identifier(), 100, 500), rec(srvA.Identifier(), 300, 700)},
		srvB.Identifier(): {rec(srvB.Identifier(), 50, 900)},
	}
	s, fb, _, _ := newStatistics(t, stats, speedWeights, srvA, srvB)

	assert.Same(t, srvB, s.SelectServer(CallerTCP, nil))
	assert.Zero(t, fb.selected)

	s.ReportRead(srvB)
	assert.Zero(t, fb.reports, "telemetry is not forwarded while statistics cover every server")
}

func TestStatisticsCoverageFallback(t *testing.T) {
	stats := availability.Statistics{
		srvA.Identifier(): {rec(srvA.Identifier(), 10, 900)},
	}
	s, fb, _, _ := newStatistics(t, stats, speedWeights, srvA, srvB)

	assert.Same(t, srvC, s.SelectServer(CallerTCP, nil))
	assert.Equal(t, 1, fb.selected)

	s.ReportLatency(srvA, time.Millisecond)
	s.ReportRead(srvA)
	s.ReportWrite(srvA)
	s.ReportFailure(srvA)
	assert.Equal(t, 4, fb.reports)
}

func TestStatisticsTooFewScored(t *testing.T) {
	stats := availability.Statistics{
		srvA.Identifier(): {rec(srvA.Identifier(), 10, 900)},
		srvB.Identifier(): {},
	}
	s, fb, _, _ := newStatistics(t, stats, speedWeights, srvA, srvB)

	assert.Same(t, srvC, s.SelectServer(CallerTCP, nil))
	assert.Equal(t, 1, fb.selected)
}

func TestStatisticsZeroWeightsFallBack(t *testing.T) {
	stats := availability.Statistics{
		srvA.Identifier(): {rec(srvA.Identifier(), 10, 900)},
		srvB.Identifier(): {rec(srvB.Identifier(), 20, 100)},
	}
	s, fb, _, _ := newStatistics(t, stats, map[availability.Field]float64{availability.FieldAverageLatency: 0}, srvA, srvB)

	assert.Same(t, srvC, s.SelectServer(CallerTCP, nil))
	assert.Equal(t, 1, fb.selected)
}

func TestStatisticsSingleServer(t *testing.T) {
	stats := availability.Statistics{srvA.Identifier(): {rec(srvA.Identifier(), 10, 900)}}
	s, fb, _, _ := newStatistics(t, stats, speedWeights, srvA)

	assert.Same(t, srvA, s.SelectServer(CallerTCP, nil))
	assert.Zero(t, fb.selected)
}

func TestStatisticsKeepsChoice(t *testing.T) {
	stats := availability.Statistics{
		srvA.Identifier(): {rec(srvA.Identifier(), 10, 900)},
		srvB.Identifier(): {rec(srvB.Identifier(), 20, 100)},
	}
	s, _, src, clk := newStatistics(t, stats, speedWeights, srvA, srvB)
	require.Same(t, srvA, s.SelectServer(CallerTCP, nil))

	src.mu.Lock()
	src.stats = availability.Statistics{
		srvA.Identifier(): {rec(srvA.Identifier(), 10, 100)},
		srvB.Identifier(): {rec(srvB.Identifier(), 10, 9000)},
	}
	src.mu.Unlock()

	clk.Add(9 * time.Minute)
	assert.Same(t, srvA, s.SelectServer(CallerTCP, nil))

	clk.Add(time.Minute)
	assert.Same(t, srvB, s.SelectServer(CallerTCP, nil))

	s.ReportFailure(srvB)
	src.mu.Lock()
	src.stats = stats
	src.mu.Unlock()
	assert.Same(t, srvA, s.SelectServer(CallerTCP, nil), "failure drops the kept choice")
}

func TestScore(t *testing.T) {
	recs := []availability.Record{rec("a", 10, 100), rec("a", 30, 0)}

	score, ok := Score(recs, speedWeights)
	require.True(t, ok)
	assert.InDelta(t, 100.0-20.0, score, 1e-9)

	_, ok = Score(recs, map[availability.Field]float64{availability.FieldPingPassRate: 1})
	assert.False(t, ok)

	_, ok = Score(nil, speedWeights)
	assert.False(t, ok)
}

func TestFactoryAndManager(t *testing.T) {
	list := upstream.NewList([]*upstream.Server{srvA})

	f := NewFactory(Deps{Servers: list})
	assert.Equal(t, []string{DefaultStrategyBalancing, DefaultStrategyHighAvailability, DefaultStrategyStatistics}, f.GetAvailableStrategies())

	_, err := f.Create("round-robin")
	require.Error(t, err)
	_, err = f.Create(DefaultStrategyStatistics)
	require.Error(t, err, "statistics needs a source")

	m, err := NewManager(f, DefaultStrategyHighAvailability)
	require.NoError(t, err)
	assert.Len(t, m.Strategies(), 2)
	assert.Equal(t, DefaultStrategyHighAvailability, m.Current().ID())

	require.NoError(t, m.Use(DefaultStrategyBalancing))
	assert.Equal(t, DefaultStrategyBalancing, m.Current().ID())
	require.Error(t, m.Use(DefaultStrategyStatistics))

	f = NewFactory(Deps{Servers: list, Statistics: &fakeSource{}})
	m, err = NewManager(f, DefaultStrategyStatistics)
	require.NoError(t, err)
	assert.Len(t, m.Strategies(), 3)

	list.Update([]*upstream.Server{srvB})
	m.ReloadServers()
	require.NoError(t, m.Use(DefaultStrategyHighAvailability))
	assert.Same(t, srvB, m.Current().SelectServer(CallerTCP, nil))

	_, err = NewManager(f, "nope")
	require.Error(t, err)
}
