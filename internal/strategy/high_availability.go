package strategy

import (
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/die-net/sslocal/internal/upstream"
)

// HighAvailability sticks to one server and only moves when another server's
// score beats it by switchMargin. Scores reward time since the last failure
// and penalise latency and unanswered writes.
type HighAvailability struct {
	servers upstream.Provider
	clock   clock.Clock
	logger  *slog.Logger

	mu       sync.RWMutex
	order    []*serverStatus
	statuses map[string]*serverStatus
	current  *serverStatus
}

func NewHighAvailability(servers upstream.Provider, clk clock.Clock, logger *slog.Logger) *HighAvailability {
	h := &HighAvailability{
		servers: servers,
		clock:   clk,
		logger:  logger.With("strategy", DefaultStrategyHighAvailability),
	}
	h.ReloadServers()
	return h
}

func (h *HighAvailability) ID() string   { return DefaultStrategyHighAvailability }
func (h *HighAvailability) Name() string { return "High availability" }

// ReloadServers rebuilds the status table, keeping the history of servers
// that are still configured, and rescores immediately.
func (h *HighAvailability) ReloadServers() {
	servers := h.servers.Servers()
	now := h.clock.Now()

	h.mu.Lock()
	defer h.mu.Unlock()

	order := make([]*serverStatus, 0, len(servers))
	statuses := make(map[string]*serverStatus, len(servers))
	for _, s := range servers {
		id := s.Identifier()
		st := h.statuses[id]
		if st == nil {
			st = newServerStatus(s, now)
		} else {
			st.mu.Lock()
			st.server = s
			st.mu.Unlock()
		}
		order = append(order, st)
		statuses[id] = st
	}

	if h.current != nil && statuses[h.current.server.Identifier()] != h.current {
		h.current = nil
	}
	h.order, h.statuses = order, statuses
	h.chooseLocked()
}

// SelectServer rescores for TCP callers; UDP callers reuse the current
// choice once one exists.
func (h *HighAvailability) SelectServer(caller CallerType, _ net.Addr) *upstream.Server {
	h.mu.Lock()
	defer h.mu.Unlock()

	if caller == CallerTCP || h.current == nil {
		h.chooseLocked()
	}
	if h.current == nil {
		return nil
	}
	selections.WithLabelValues(h.ID()).Inc()
	return h.current.server
}

func (h *HighAvailability) chooseLocked() {
	if len(h.order) == 0 {
		h.current = nil
		return
	}

	now := h.clock.Now()
	var (
		best         *serverStatus
		bestScore    float64
		currentScore float64
	)
	for _, st := range h.order {
		score := st.rescore(now)
		if st == h.current {
			currentScore = score
		}
		if best == nil || score > bestScore {
			best, bestScore = st, score
		}
	}

	if h.current == nil || bestScore-currentScore > switchMargin {
		if h.current != nil && h.current != best {
			switches.WithLabelValues(h.ID()).Inc()
			h.logger.Info("switching server",
				"from", h.current.server.FriendlyName(), "from_score", currentScore,
				"to", best.server.FriendlyName(), "to_score", bestScore)
		}
		h.current = best
	}
}

func (h *HighAvailability) status(s *upstream.Server) *serverStatus {
	if s == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.statuses[s.Identifier()]
}

func (h *HighAvailability) ReportLatency(s *upstream.Server, latency time.Duration) {
	if st := h.status(s); st != nil {
		st.reportLatency(latency, h.clock.Now())
	}
}

func (h *HighAvailability) ReportRead(s *upstream.Server) {
	if st := h.status(s); st != nil {
		st.reportRead(h.clock.Now())
	}
}

func (h *HighAvailability) ReportWrite(s *upstream.Server) {
	if st := h.status(s); st != nil {
		st.reportWrite(h.clock.Now())
	}
}

func (h *HighAvailability) ReportFailure(s *upstream.Server) {
	if st := h.status(s); st != nil {
		st.reportFailure(h.clock.Now())
	}
}
