package availability

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	"github.com/die-net/sslocal/internal/upstream"
)

const (
	startupDelay   = time.Second
	sampleInterval = time.Second
	filterWindow   = time.Hour
	loadRetryDelay = 2 * time.Minute
)

// Config controls collection. It is replaced as a whole with SetConfig.
type Config struct {
	Enabled               bool `mapstructure:"statisticsEnabled" json:"statisticsEnabled"`
	ByHourOfDay           bool `mapstructure:"byHourOfDay" json:"byHourOfDay"`
	Ping                  bool `mapstructure:"ping" json:"ping"`
	DataCollectionMinutes int  `mapstructure:"dataCollectionMinutes" json:"dataCollectionMinutes"`
	RepeatTimesNum        int  `mapstructure:"repeatTimesNum" json:"repeatTimesNum"`
}

// DefaultConfig returns collection disabled with hourly filtering, a ten
// minute window and four probes per ping round.
func DefaultConfig() Config {
	return Config{
		ByHourOfDay:           true,
		DataCollectionMinutes: 10,
		RepeatTimesNum:        4,
	}
}

func (c Config) interval() time.Duration {
	if c.DataCollectionMinutes <= 0 {
		return time.Duration(DefaultConfig().DataCollectionMinutes) * time.Minute
	}
	return time.Duration(c.DataCollectionMinutes) * time.Minute
}

// Options carries the Monitor's collaborators. Pinger may be nil when
// probing is never enabled.
type Options struct {
	Servers upstream.Provider
	Store   Store
	Pinger  Pinger
	Clock   clock.Clock
	Logger  *slog.Logger
}

// Monitor collects telemetry per server and maintains the raw and filtered
// Statistics.
type Monitor struct {
	servers upstream.Provider
	store   Store
	pinger  Pinger
	clock   clock.Clock
	logger  *slog.Logger
	pingGap func() time.Duration

	cfg         atomic.Pointer[Config]
	reconfigure chan struct{}

	raw      atomic.Pointer[Statistics]
	filtered atomic.Pointer[Statistics]
	loaded   atomic.Bool

	inOut sync.Map // identifier -> *InOutBoundRecord

	mu         sync.Mutex
	windows    map[string]*Window
	lastSample time.Time

	// persistMu orders load, aggregation, pruning and reload against each
	// other so raw snapshots are never lost between read and swap.
	persistMu   sync.Mutex
	aggregating atomic.Bool
}

// New returns a Monitor. Call Run to start collection.
func New(cfg Config, opts Options) *Monitor {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	m := &Monitor{
		servers:     opts.Servers,
		store:       opts.Store,
		pinger:      opts.Pinger,
		clock:       opts.Clock,
		logger:      opts.Logger.With("component", "availability"),
		pingGap:     randomPingGap,
		reconfigure: make(chan struct{}, 1),
		windows:     make(map[string]*Window),
	}
	m.cfg.Store(&cfg)
	return m
}

func (m *Monitor) config() Config {
	return *m.cfg.Load()
}

// Enabled reports whether statistics collection is on.
func (m *Monitor) Enabled() bool {
	return m.config().Enabled
}

// SetConfig replaces the collection settings; Run picks up a changed
// interval on its next loop.
func (m *Monitor) SetConfig(cfg Config) {
	m.cfg.Store(&cfg)

	m.persistMu.Lock()
	if raw := m.raw.Load(); raw != nil {
		m.publishFiltered(*raw)
	}
	m.persistMu.Unlock()

	select {
	case m.reconfigure <- struct{}{}:
	default:
	}
}

// Run waits a short grace period, loads persisted statistics and then runs
// the speed sampler and the window aggregator until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case <-m.clock.After(startupDelay):
	}

	if m.Enabled() {
		m.load(ctx)
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	fast := m.clock.Ticker(sampleInterval)
	defer fast.Stop()

	interval := m.config().interval()
	slow := m.clock.Ticker(interval)
	defer func() { slow.Stop() }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-fast.C:
			if m.Enabled() {
				m.sampleSpeeds()
			}
		case <-slow.C:
			if m.Enabled() && m.aggregating.CompareAndSwap(false, true) {
				wg.Go(func() {
					defer m.aggregating.Store(false)
					m.Aggregate(ctx)
				})
			}
		case <-m.reconfigure:
			cfg := m.config()
			if cfg.Enabled && !m.loaded.Load() {
				m.load(ctx)
			}
			if d := cfg.interval(); d != interval {
				slow.Stop()
				interval = d
				slow = m.clock.Ticker(d)
			}
		}
	}
}

func (m *Monitor) load(ctx context.Context) {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	if m.loaded.Load() {
		return
	}

	stats, err := m.store.Load()
	if err != nil {
		m.logger.Warn("failed to load statistics, will retry", "error", err, "retry_in", loadRetryDelay)
		m.clock.AfterFunc(loadRetryDelay, func() {
			if ctx.Err() == nil {
				m.load(ctx)
			}
		})
		return
	}

	stats = stats.Retain(upstream.Identifiers(m.servers.Servers()))
	// Keep anything aggregated while the file was unreadable.
	if cur := m.raw.Load(); cur != nil {
		for _, recs := range *cur {
			stats = stats.Append(recs)
		}
	}

	m.raw.Store(&stats)
	m.publishFiltered(stats)
	m.loaded.Store(true)
	m.logger.Debug("statistics loaded", "servers", len(stats))
}

// sampleSpeeds converts bytes accumulated since the previous tick into KiB/s
// samples for each server that moved data.
func (m *Monitor) sampleSpeeds() {
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	elapsed := now.Sub(m.lastSample)
	if m.lastSample.IsZero() || elapsed <= 0 {
		elapsed = sampleInterval
	}
	m.lastSample = now
	secs := elapsed.Seconds()

	m.inOut.Range(func(k, v any) bool {
		in, out := v.(*InOutBoundRecord).FetchAndReset()
		if in == 0 && out == 0 {
			return true
		}
		w := m.windowLocked(k.(string))
		w.InboundSpeeds = append(w.InboundSpeeds, int(float64(in)/secs/1024))
		w.OutboundSpeeds = append(w.OutboundSpeeds, int(float64(out)/secs/1024))
		return true
	})
}

// Aggregate closes the current window: it optionally pings every server,
// turns the window samples into records, appends them to the raw
// statistics, saves them and republishes the filtered view.
func (m *Monitor) Aggregate(ctx context.Context) {
	cfg := m.config()
	servers := m.servers.Servers()

	type pingResult struct {
		attempts  int
		responses []int
	}
	pings := make([]pingResult, len(servers))
	if cfg.Ping && m.pinger != nil {
		var g errgroup.Group
		for i, s := range servers {
			g.Go(func() error {
				pings[i].attempts, pings[i].responses = probe(ctx, m.pinger, m.clock, s.Host, max(1, cfg.RepeatTimesNum), m.pingGap)
				pingAttempts.Add(float64(pings[i].attempts))
				pingReplies.Add(float64(len(pings[i].responses)))
				return nil
			})
		}
		_ = g.Wait()
	}

	now := m.clock.Now()
	windows := m.takeWindows()

	recs := make([]Record, 0, len(servers))
	for i, s := range servers {
		id := s.Identifier()
		var w Window
		if p := windows[id]; p != nil {
			w = *p
		}
		w.PingAttempts, w.PingResponses = pings[i].attempts, pings[i].responses

		rec := NewRecord(id, now, w, cfg.interval())
		if rec.IsEmpty() {
			continue
		}
		recs = append(recs, rec)
	}

	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	raw := m.Raw().Append(recs)
	m.raw.Store(&raw)
	recordsAppended.Add(float64(len(recs)))

	if m.loaded.Load() {
		if err := m.store.Save(raw); err != nil {
			m.logger.Warn("failed to save statistics", "error", err)
		}
	}
	m.publishFiltered(raw)

	m.logger.Debug("statistics window aggregated", "records", len(recs))
}

func (m *Monitor) publishFiltered(raw Statistics) {
	filtered := raw
	if m.config().ByHourOfDay {
		filtered = raw.Since(m.clock.Now().Add(-filterWindow))
	}
	m.filtered.Store(&filtered)
}

// Prune drops raw records older than days, saves and refilters.
func (m *Monitor) Prune(days int) error {
	cutoff := m.clock.Now().AddDate(0, 0, -days)

	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	raw := m.Raw().Since(cutoff)
	m.raw.Store(&raw)
	m.publishFiltered(raw)
	return m.store.Save(raw)
}

// Reload drops statistics and pending samples of servers that are no longer
// configured.
func (m *Monitor) Reload() {
	ids := upstream.Identifiers(m.servers.Servers())

	m.persistMu.Lock()
	raw := m.Raw().Retain(ids)
	m.raw.Store(&raw)
	m.publishFiltered(raw)
	m.persistMu.Unlock()

	m.mu.Lock()
	for id := range m.windows {
		if _, ok := ids[id]; !ok {
			delete(m.windows, id)
		}
	}
	m.mu.Unlock()

	m.inOut.Range(func(k, _ any) bool {
		if _, ok := ids[k.(string)]; !ok {
			m.inOut.Delete(k)
		}
		return true
	})
}

// Raw returns the raw statistics snapshot, empty before the first load.
func (m *Monitor) Raw() Statistics {
	if p := m.raw.Load(); p != nil {
		return *p
	}
	return Statistics{}
}

// Snapshot returns the filtered view, or the raw statistics when nothing
// has been filtered yet, or nil when neither exists.
func (m *Monitor) Snapshot() Statistics {
	if p := m.filtered.Load(); p != nil {
		return *p
	}
	if p := m.raw.Load(); p != nil {
		return *p
	}
	return nil
}

func (m *Monitor) UpdateLatency(s *upstream.Server, latency time.Duration) {
	if !m.Enabled() {
		return
	}
	m.mu.Lock()
	w := m.windowLocked(s.Identifier())
	w.Latencies = append(w.Latencies, max(1, int(latency.Milliseconds())))
	m.mu.Unlock()
}

func (m *Monitor) UpdateFailure(s *upstream.Server) {
	if !m.Enabled() {
		return
	}
	m.mu.Lock()
	m.windowLocked(s.Identifier()).Failures++
	m.mu.Unlock()
}

func (m *Monitor) UpdateInbound(s *upstream.Server, n int64) {
	if m.Enabled() {
		m.counter(s.Identifier()).AddInbound(n)
	}
}

func (m *Monitor) UpdateOutbound(s *upstream.Server, n int64) {
	if m.Enabled() {
		m.counter(s.Identifier()).AddOutbound(n)
	}
}

func (m *Monitor) counter(id string) *InOutBoundRecord {
	if v, ok := m.inOut.Load(id); ok {
		return v.(*InOutBoundRecord)
	}
	v, _ := m.inOut.LoadOrStore(id, &InOutBoundRecord{})
	return v.(*InOutBoundRecord)
}

func (m *Monitor) windowLocked(id string) *Window {
	w := m.windows[id]
	if w == nil {
		w = &Window{}
		m.windows[id] = w
	}
	return w
}

func (m *Monitor) takeWindows() map[string]*Window {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := m.windows
	m.windows = make(map[string]*Window)
	return w
}
