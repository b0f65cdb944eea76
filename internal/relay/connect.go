package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/die-net/sslocal/internal/strategy"
	"github.com/die-net/sslocal/internal/upstream"
)

var (
	errNoServer       = errors.New("no relay server available")
	errConnectTimeout = errors.New("connect timed out")
	errConnectFailed  = errors.New("connect failed")
)

// connect picks a server from the current strategy and dials it, retrying on
// failure up to MaxConnectRetries more times. The strategy is looked up again
// on every attempt so a switch takes effect mid-retry.
func (h *Handler) connect() error {
	h.setState(StateConnecting)

	for attempt := 0; ; attempt++ {
		strat := h.cfg.Strategies.Current()
		if strat == nil {
			return errNoServer
		}
		srv := strat.SelectServer(strategy.CallerTCP, h.local.LocalAddr())
		if srv == nil {
			return errNoServer
		}

		conn, latency, err := h.dialOnce(srv)
		if err == nil {
			strat.ReportLatency(srv, latency)
			if h.cfg.Observer != nil {
				h.cfg.Observer.UpdateLatency(srv, latency)
			}
			connectLatency.Observe(latency.Seconds())

			enc, err := h.cfg.NewEncryptor(srv)
			if err != nil {
				_ = conn.Close()
				return fmt.Errorf("cipher for %s: %w", srv, err)
			}
			if !h.attach(conn, srv, enc) {
				return errHandlerClosed
			}
			h.logger.Debug("Connected", "server", srv.FriendlyName(), "latency", latency, "attempt", attempt+1)
			return nil
		}

		if h.isClosed() {
			return errHandlerClosed
		}

		connectFailures.Inc()
		strat.ReportFailure(srv)
		if h.cfg.Observer != nil {
			h.cfg.Observer.UpdateFailure(srv)
		}
		h.logger.Debug("Connect attempt failed", "server", srv.FriendlyName(), "attempt", attempt+1, "error", err)

		if attempt >= h.cfg.MaxConnectRetries {
			return fmt.Errorf("%w after %d attempts: %w", errConnectFailed, attempt+1, err)
		}
	}
}

// dialOnce races a single dial against ConnectTimeout. Whichever of the dial
// and the timer settles first wins; a late dial result is discarded.
func (h *Handler) dialOnce(srv *upstream.Server) (net.Conn, time.Duration, error) {
	ctx, cancel := context.WithCancel(h.ctx)
	defer cancel()

	var settled atomic.Bool
	timer := h.cfg.Clock.AfterFunc(h.cfg.ConnectTimeout, func() {
		if settled.CompareAndSwap(false, true) {
			cancel()
		}
	})

	start := h.cfg.Clock.Now()
	conn, err := h.cfg.Dialer.DialContext(ctx, "tcp", srv.Address())
	if !settled.CompareAndSwap(false, true) {
		if conn != nil {
			_ = conn.Close()
		}
		return nil, 0, fmt.Errorf("%s: %w", srv, errConnectTimeout)
	}
	timer.Stop()

	if err != nil {
		return nil, 0, err
	}
	return conn, h.cfg.Clock.Since(start), nil
}
