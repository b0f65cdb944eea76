package relay

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/die-net/sslocal/internal/socks5"
)

// Relay owns the registry of live handlers.
type Relay struct {
	cfg Config
	ctx context.Context

	mu       sync.Mutex
	handlers map[*Handler]struct{}

	sweep rate.Sometimes
}

// New returns a Relay whose handlers are canceled when ctx is.
func New(ctx context.Context, cfg Config) *Relay {
	cfg.setDefaults()
	return &Relay{
		cfg:      cfg,
		ctx:      ctx,
		handlers: make(map[*Handler]struct{}),
		sweep:    rate.Sometimes{Interval: time.Second},
	}
}

// Serve accepts connections from ln until it fails, handling each on its own
// goroutine.
func (r *Relay) Serve(ln net.Listener) error {
	for {
		c, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) && r.ctx.Err() != nil {
				return nil
			}
			return err
		}
		acceptedTotal.Inc()
		go r.serveConn(c)
	}
}

func (r *Relay) serveConn(c net.Conn) {
	if tc, ok := c.(*net.TCPConn); ok {
		_ = tc.SetKeepAliveConfig(r.cfg.KeepAlive)
	}
	if r.cfg.NegotiationTimeout > 0 {
		_ = c.SetDeadline(r.cfg.Clock.Now().Add(r.cfg.NegotiationTimeout))
	}

	buf := make([]byte, RecvSize)
	n, err := c.Read(buf)
	if err != nil || !r.Handle(buf[:n], c) {
		_ = c.Close()
	}
}

// Handle takes ownership of conn if first looks like the start of a SOCKS4 or
// SOCKS5 exchange and runs it to completion. It reports false, leaving conn
// untouched, otherwise.
func (r *Relay) Handle(first []byte, conn net.Conn) bool {
	if len(first) < 2 || (first[0] != socks5.Version4 && first[0] != socks5.Version5) {
		return false
	}

	h := newHandler(r, conn)
	r.add(h)
	r.sweep.Do(r.sweepIdle)

	h.run(first)
	return true
}

// Len returns the number of registered handlers.
func (r *Relay) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handlers)
}

// Close closes every registered handler.
func (r *Relay) Close() {
	r.mu.Lock()
	all := make([]*Handler, 0, len(r.handlers))
	for h := range r.handlers {
		all = append(all, h)
	}
	r.mu.Unlock()

	for _, h := range all {
		h.Close()
	}
}

func (r *Relay) add(h *Handler) {
	r.mu.Lock()
	r.handlers[h] = struct{}{}
	r.mu.Unlock()
	activeHandlers.Inc()
}

func (r *Relay) remove(h *Handler) {
	r.mu.Lock()
	_, ok := r.handlers[h]
	delete(r.handlers, h)
	r.mu.Unlock()
	if ok {
		activeHandlers.Dec()
	}
}

// sweepIdle closes handlers idle for longer than IdleTimeout. Closing happens
// outside the registry lock since Close removes the handler from it.
func (r *Relay) sweepIdle() {
	now := r.cfg.Clock.Now()

	var idle []*Handler
	r.mu.Lock()
	for h := range r.handlers {
		if now.Sub(h.LastActivity()) > r.cfg.IdleTimeout {
			idle = append(idle, h)
		}
	}
	r.mu.Unlock()

	for _, h := range idle {
		h.logger.Debug("Closing idle connection", "idle", now.Sub(h.LastActivity()).Round(time.Second))
		idleClosed.Inc()
		h.Close()
	}
}
