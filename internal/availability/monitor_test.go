package availability

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/die-net/sslocal/internal/upstream"
)

type memStore struct {
	mu       sync.Mutex
	stats    Statistics
	loadErr  error
	loads    atomic.Int32
	saves    atomic.Int32
	lastSave Statistics
}

func (s *memStore) Load() (Statistics, error) {
	s.loads.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return s.stats.Clone(), nil
}

func (s *memStore) Save(st Statistics) error {
	s.saves.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSave = st
	return nil
}

type fakePinger struct {
	rtt  map[string]time.Duration
	hits atomic.Int32
}

func (p *fakePinger) Ping(_ context.Context, host string) (time.Duration, error) {
	p.hits.Add(1)
	if d, ok := p.rtt[host]; ok {
		return d, nil
	}
	return 0, errors.New("timeout")
}

var (
	serverA = &upstream.Server{Host: "a.example", Port: 1}
	serverB = &upstream.Server{Host: "b.example", Port: 2}
)

func newTestMonitor(t *testing.T, cfg Config, store Store, pinger Pinger) (*Monitor, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	m := New(cfg, Options{
		Servers: upstream.NewList([]*upstream.Server{serverA, serverB}),
		Store:   store,
		Pinger:  pinger,
		Clock:   clk,
	})
	m.pingGap = func() time.Duration { return 0 }
	return m, clk
}

func enabledConfig() Config {
	cfg := DefaultConfig()
	cfg.Enabled = true
	return cfg
}

func TestSnapshotNilBeforeLoad(t *testing.T) {
	m, _ := newTestMonitor(t, enabledConfig(), &memStore{}, nil)
	assert.Nil(t, m.Snapshot())
}

func TestLoadDropsUnconfiguredServers(t *testing.T) {
	store := &memStore{stats: Statistics{
		"a.example:1": {{ServerIdentifier: "a.example:1"}},
		"gone:9":      {{ServerIdentifier: "gone:9"}},
	}}
	m, _ := newTestMonitor(t, enabledConfig(), store, nil)

	m.load(context.Background())

	raw := m.Raw()
	assert.Contains(t, raw, "a.example:1")
	assert.NotContains(t, raw, "gone:9")
	assert.NotNil(t, m.Snapshot())
}

func TestLoadRetriesAfterFailure(t *testing.T) {
	store := &memStore{loadErr: errors.New("disk on fire")}
	m, clk := newTestMonitor(t, enabledConfig(), store, nil)

	m.load(context.Background())
	require.Equal(t, int32(1), store.loads.Load())
	assert.False(t, m.loaded.Load())

	store.mu.Lock()
	store.loadErr = nil
	store.stats = Statistics{}
	store.mu.Unlock()

	clk.Add(loadRetryDelay - time.Second)
	assert.Equal(t, int32(1), store.loads.Load())

	clk.Add(time.Second)
	require.Eventually(t, m.loaded.Load, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(2), store.loads.Load())
}

func TestSampleSpeedsConvertsToKiB(t *testing.T) {
	m, clk := newTestMonitor(t, enabledConfig(), &memStore{}, nil)

	m.sampleSpeeds()
	m.UpdateInbound(serverA, 10*1024)
	m.UpdateOutbound(serverA, 2048)
	m.UpdateInbound(serverA, 10*1024)
	clk.Add(time.Second)
	m.sampleSpeeds()

	// Idle ticks produce no samples.
	clk.Add(time.Second)
	m.sampleSpeeds()

	w := m.takeWindows()
	require.Contains(t, w, serverA.Identifier())
	assert.Equal(t, []int{20}, w[serverA.Identifier()].InboundSpeeds)
	assert.Equal(t, []int{2}, w[serverA.Identifier()].OutboundSpeeds)
	assert.NotContains(t, w, serverB.Identifier())
}

func TestDisabledMonitorIgnoresUpdates(t *testing.T) {
	m, _ := newTestMonitor(t, DefaultConfig(), &memStore{}, nil)

	m.UpdateLatency(serverA, time.Second)
	m.UpdateFailure(serverA)
	m.UpdateInbound(serverA, 1<<20)

	assert.Empty(t, m.takeWindows())
	_, ok := m.inOut.Load(serverA.Identifier())
	assert.False(t, ok)
}

func TestAggregate(t *testing.T) {
	cfg := enabledConfig()
	cfg.Ping = true
	cfg.RepeatTimesNum = 2

	store := &memStore{stats: Statistics{}}
	pinger := &fakePinger{rtt: map[string]time.Duration{"a.example": 25 * time.Millisecond}}
	m, _ := newTestMonitor(t, cfg, store, pinger)
	m.load(context.Background())

	m.UpdateLatency(serverA, 120*time.Millisecond)
	m.UpdateFailure(serverB)

	m.Aggregate(context.Background())

	assert.Equal(t, int32(4), pinger.hits.Load(), "every server pinged RepeatTimesNum times")
	assert.Equal(t, int32(1), store.saves.Load())

	raw := m.Raw()
	require.Len(t, raw[serverA.Identifier()], 1)
	a := raw[serverA.Identifier()][0]
	assert.Equal(t, 120, *a.AverageLatency)
	assert.Equal(t, 25, *a.AverageResponse)
	assert.InDelta(t, 1.0, *a.PingPassRate, 1e-9)

	require.Len(t, raw[serverB.Identifier()], 1)
	b := raw[serverB.Identifier()][0]
	assert.InDelta(t, 0.0, *b.PingPassRate, 1e-9)
	assert.InDelta(t, 1.0/600, *b.FailureRate, 1e-9)

	assert.Empty(t, m.takeWindows(), "window buffers cleared")
	assert.Len(t, m.Snapshot()[serverA.Identifier()], 1)
}

func TestAggregateDropsEmptyRecords(t *testing.T) {
	store := &memStore{stats: Statistics{}}
	m, _ := newTestMonitor(t, enabledConfig(), store, nil)
	m.load(context.Background())

	m.Aggregate(context.Background())

	assert.Empty(t, m.Raw())
	assert.Equal(t, int32(1), store.saves.Load())
}

func TestAggregateDoesNotSaveBeforeLoad(t *testing.T) {
	store := &memStore{stats: Statistics{"a.example:1": {{ServerIdentifier: "a.example:1"}}}}
	m, _ := newTestMonitor(t, enabledConfig(), store, nil)

	m.UpdateLatency(serverA, 50*time.Millisecond)
	m.Aggregate(context.Background())
	assert.Zero(t, store.saves.Load())

	m.load(context.Background())
	assert.Len(t, m.Raw()[serverA.Identifier()], 2, "persisted and in-memory records merged")
}

func TestFilteredViewByHour(t *testing.T) {
	store := &memStore{stats: Statistics{}}
	m, clk := newTestMonitor(t, enabledConfig(), store, nil)
	m.load(context.Background())

	m.UpdateLatency(serverA, 10*time.Millisecond)
	m.Aggregate(context.Background())

	clk.Add(2 * time.Hour)
	m.UpdateLatency(serverA, 20*time.Millisecond)
	m.Aggregate(context.Background())

	assert.Len(t, m.Raw()[serverA.Identifier()], 2)
	assert.Len(t, m.Snapshot()[serverA.Identifier()], 1)

	cfg := enabledConfig()
	cfg.ByHourOfDay = false
	m.SetConfig(cfg)
	assert.Len(t, m.Snapshot()[serverA.Identifier()], 2)
}

func TestFilteredViewOmitsStaleServers(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := &memStore{stats: Statistics{
		"a.example:1": {{Timestamp: now.Add(-2 * time.Hour), ServerIdentifier: "a.example:1"}},
		"b.example:2": {{Timestamp: now.Add(-time.Minute), ServerIdentifier: "b.example:2"}},
	}}
	m, _ := newTestMonitor(t, enabledConfig(), store, nil)
	m.load(context.Background())

	snap := m.Snapshot()
	assert.NotContains(t, snap, "a.example:1")
	assert.Len(t, snap["b.example:2"], 1)
	assert.Len(t, m.Raw(), 2, "raw statistics keep old records")
}

func TestPrune(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := &memStore{stats: Statistics{
		"a.example:1": {
			{Timestamp: now.AddDate(0, 0, -8), ServerIdentifier: "a.example:1"},
			{Timestamp: now.AddDate(0, 0, -1), ServerIdentifier: "a.example:1"},
		},
	}}
	m, _ := newTestMonitor(t, enabledConfig(), store, nil)
	m.load(context.Background())

	require.NoError(t, m.Prune(7))
	assert.Len(t, m.Raw()["a.example:1"], 1)
	assert.Len(t, store.lastSave["a.example:1"], 1)
}

func TestReloadForgetsRemovedServers(t *testing.T) {
	list := upstream.NewList([]*upstream.Server{serverA, serverB})
	m := New(enabledConfig(), Options{Servers: list, Store: &memStore{stats: Statistics{}}, Clock: clock.NewMock()})
	m.load(context.Background())

	m.UpdateLatency(serverA, time.Millisecond)
	m.UpdateLatency(serverB, time.Millisecond)
	m.UpdateInbound(serverB, 1)
	m.Aggregate(context.Background())
	m.UpdateLatency(serverB, time.Millisecond)

	list.Update([]*upstream.Server{serverA})
	m.Reload()

	assert.NotContains(t, m.Raw(), serverB.Identifier())
	assert.NotContains(t, m.takeWindows(), serverB.Identifier())
	_, ok := m.inOut.Load(serverB.Identifier())
	assert.False(t, ok)
}

func TestProbeCountsAttempts(t *testing.T) {
	p := &fakePinger{rtt: map[string]time.Duration{"up": 300 * time.Microsecond}}
	clk := clock.NewMock()
	noGap := func() time.Duration { return 0 }

	attempts, responses := probe(context.Background(), p, clk, "up", 3, noGap)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []int{1, 1, 1}, responses, "sub-millisecond replies count as 1ms")

	attempts, responses = probe(context.Background(), p, clk, "down", 4, noGap)
	assert.Equal(t, 4, attempts)
	assert.Empty(t, responses)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	attempts, _ = probe(ctx, p, clk, "up", 4, noGap)
	assert.Zero(t, attempts)
}

func TestRandomPingGap(t *testing.T) {
	for range 100 {
		d := randomPingGap()
		assert.GreaterOrEqual(t, d, pingGapMin)
		assert.Less(t, d, pingGapMax)
	}
}
