package strategy

import (
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/die-net/sslocal/internal/availability"
	"github.com/die-net/sslocal/internal/upstream"
)

// StatisticsSource hands out read-only statistics snapshots. A nil snapshot
// means no statistics exist yet.
type StatisticsSource interface {
	Snapshot() availability.Statistics
}

// StatisticsSettings weights record fields into a score. Fields with a zero
// or absent weight are ignored.
type StatisticsSettings struct {
	Weights    map[availability.Field]float64
	ChoiceKept time.Duration
}

// Statistics picks the server whose collected statistics score highest.
// While statistics do not cover every configured server it defers to a
// HighAvailability fallback, which then also receives telemetry.
type Statistics struct {
	servers  upstream.Provider
	source   StatisticsSource
	fallback Strategy
	clock    clock.Clock
	logger   *slog.Logger
	settings atomic.Pointer[StatisticsSettings]

	mu       sync.Mutex
	chosen   *upstream.Server
	chosenAt time.Time
}

func NewStatistics(servers upstream.Provider, source StatisticsSource, fallback Strategy, settings StatisticsSettings, clk clock.Clock, logger *slog.Logger) *Statistics {
	s := &Statistics{
		servers:  servers,
		source:   source,
		fallback: fallback,
		clock:    clk,
		logger:   logger.With("strategy", DefaultStrategyStatistics),
	}
	s.settings.Store(&settings)
	return s
}

func (s *Statistics) ID() string   { return DefaultStrategyStatistics }
func (s *Statistics) Name() string { return "Choose by statistics" }

// UpdateSettings replaces the weights and drops any kept choice.
func (s *Statistics) UpdateSettings(settings StatisticsSettings) {
	s.settings.Store(&settings)
	s.mu.Lock()
	s.chosen = nil
	s.mu.Unlock()
}

func (s *Statistics) SelectServer(caller CallerType, local net.Addr) *upstream.Server {
	servers := s.servers.Servers()
	stats := s.source.Snapshot()
	if stats == nil || len(servers) == 0 {
		return nil
	}
	if len(stats) < len(servers) {
		fallbacks.Inc()
		return s.fallback.SelectServer(caller, local)
	}

	settings := s.settings.Load()
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.chosen != nil && now.Sub(s.chosenAt) < settings.ChoiceKept && configured(servers, s.chosen) {
		selections.WithLabelValues(s.ID()).Inc()
		return s.chosen
	}

	best := choose(servers, stats, settings.Weights)
	if best == nil {
		s.chosen = nil
		fallbacks.Inc()
		return s.fallback.SelectServer(caller, local)
	}

	if s.chosen != nil && s.chosen.Identifier() != best.Identifier() {
		switches.WithLabelValues(s.ID()).Inc()
		s.logger.Info("switching server", "from", s.chosen.FriendlyName(), "to", best.FriendlyName())
	}
	s.chosen, s.chosenAt = best, now
	selections.WithLabelValues(s.ID()).Inc()
	return best
}

// choose returns the highest scoring server, or nil when fewer than two
// servers could be scored while two or more are configured.
func choose(servers []*upstream.Server, stats availability.Statistics, weights map[availability.Field]float64) *upstream.Server {
	var (
		best      *upstream.Server
		bestScore float64
		scored    int
	)
	for _, srv := range servers {
		recs, ok := stats[srv.Identifier()]
		if !ok {
			continue
		}
		score, ok := Score(recs, weights)
		if !ok {
			continue
		}
		scored++
		if best == nil || score > bestScore {
			best, bestScore = srv, score
		}
	}
	if len(servers) >= 2 && scored < 2 {
		return nil
	}
	return best
}

// Score is the weighted sum of the per-field means of recs. It reports false
// when no weighted field has any data.
func Score(recs []availability.Record, weights map[availability.Field]float64) (float64, bool) {
	means := availability.Means(recs)

	var (
		score       float64
		contributed bool
	)
	for f, w := range weights {
		if w == 0 {
			continue
		}
		if v, ok := means[f]; ok {
			score += w * v
			contributed = true
		}
	}
	return score, contributed
}

func configured(servers []*upstream.Server, s *upstream.Server) bool {
	for _, c := range servers {
		if c == s {
			return true
		}
	}
	return false
}

// insufficient reports whether telemetry should go to the fallback.
func (s *Statistics) insufficient() bool {
	stats := s.source.Snapshot()
	return stats == nil || len(stats) < len(s.servers.Servers())
}

func (s *Statistics) ReloadServers() {
	s.mu.Lock()
	s.chosen = nil
	s.mu.Unlock()
	s.fallback.ReloadServers()
}

func (s *Statistics) ReportLatency(srv *upstream.Server, latency time.Duration) {
	if s.insufficient() {
		s.fallback.ReportLatency(srv, latency)
	}
}

func (s *Statistics) ReportRead(srv *upstream.Server) {
	if s.insufficient() {
		s.fallback.ReportRead(srv)
	}
}

func (s *Statistics) ReportWrite(srv *upstream.Server) {
	if s.insufficient() {
		s.fallback.ReportWrite(srv)
	}
}

// ReportFailure also forgets a kept choice of the failing server.
func (s *Statistics) ReportFailure(srv *upstream.Server) {
	s.mu.Lock()
	if s.chosen != nil && srv != nil && s.chosen.Identifier() == srv.Identifier() {
		s.chosen = nil
	}
	s.mu.Unlock()

	if s.insufficient() {
		s.fallback.ReportFailure(srv)
	}
}
