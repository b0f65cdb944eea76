package relay

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/die-net/sslocal/internal/cipher"
	"github.com/die-net/sslocal/internal/upstream"
)

// State is a Handler's position in its lifecycle.
type State int32

const (
	StateAwaitingFirstBytes State = iota
	StateSocks4Reply
	StateSocks5MethodReply
	StateAwaitingRequest
	StateUDPAssociate
	StateConnecting
	StatePiping
	StateHalfClosed
	StateClosed
)

var stateNames = [...]string{
	StateAwaitingFirstBytes: "awaiting-first-bytes",
	StateSocks4Reply:        "socks4-reply",
	StateSocks5MethodReply:  "socks5-method-reply",
	StateAwaitingRequest:    "awaiting-request",
	StateUDPAssociate:       "udp-associate",
	StateConnecting:         "connecting",
	StatePiping:             "piping",
	StateHalfClosed:         "half-closed",
	StateClosed:             "closed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

var errHandlerClosed = errors.New("handler closed")

// Handler drives one client connection.
type Handler struct {
	relay  *Relay
	cfg    *Config
	id     string
	logger *slog.Logger

	local  net.Conn
	ctx    context.Context
	cancel context.CancelFunc

	state      atomic.Int32
	lastActive atomic.Int64

	// mu guards remote, server and closed. encMu serializes the encryptor,
	// which both pump directions share; it nests inside mu.
	mu     sync.Mutex
	remote net.Conn
	server *upstream.Server
	closed bool

	encMu sync.Mutex
	enc   cipher.Encryptor

	localDone  atomic.Bool
	remoteDone atomic.Bool

	closeOnce sync.Once
}

func newHandler(r *Relay, local net.Conn) *Handler {
	ctx, cancel := context.WithCancel(r.ctx)
	id := uuid.NewString()
	h := &Handler{
		relay:  r,
		cfg:    &r.cfg,
		id:     id,
		logger: r.cfg.Logger.With("conn", id, "client", local.RemoteAddr().String()),
		local:  local,
		ctx:    ctx,
		cancel: cancel,
	}
	h.touch()
	return h
}

// ID returns the handler's connection id as it appears in logs.
func (h *Handler) ID() string { return h.id }

func (h *Handler) State() State { return State(h.state.Load()) }

func (h *Handler) setState(s State) { h.state.Store(int32(s)) }

// LastActivity returns when data last arrived from either side.
func (h *Handler) LastActivity() time.Time {
	return time.Unix(0, h.lastActive.Load())
}

func (h *Handler) touch() {
	h.lastActive.Store(h.cfg.Clock.Now().UnixNano())
}

// Server returns the relay server the handler connected to, if any.
func (h *Handler) Server() *upstream.Server {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.server
}

func (h *Handler) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *Handler) run(first []byte) {
	defer h.Close()

	hs, err := h.handshake(first)
	if err != nil {
		h.logError("SOCKS handshake failed", err)
		return
	}

	if hs.udp {
		h.holdUDPAssociation()
		return
	}

	if err := h.connect(); err != nil {
		h.logError("Connect failed", err)
		return
	}

	if err := h.pipe(hs.header, hs.payload); err != nil {
		h.logError("Relay failed", err)
	}
}

// attach installs the connected remote side unless the handler has already
// been closed, in which case it releases conn and enc.
func (h *Handler) attach(conn net.Conn, s *upstream.Server, enc cipher.Encryptor) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		_ = conn.Close()
		_ = enc.Close()
		return false
	}

	h.remote = conn
	h.server = s
	h.encMu.Lock()
	h.enc = enc
	h.encMu.Unlock()
	return true
}

// Close removes the handler from its relay, closes both sockets and releases
// the encryptor. It is safe to call more than once and from any goroutine.
func (h *Handler) Close() {
	h.closeOnce.Do(func() {
		h.relay.remove(h)
		h.setState(StateClosed)
		h.cancel()

		h.mu.Lock()
		h.closed = true
		remote := h.remote
		h.mu.Unlock()

		err := multierr.Combine(shutdown(h.local), shutdown(remote))

		h.encMu.Lock()
		if h.enc != nil {
			err = multierr.Append(err, h.enc.Close())
			h.enc = nil
		}
		h.encMu.Unlock()

		if err != nil {
			h.logger.Debug("Close", "error", err)
		}
	})
}

func shutdown(c net.Conn) error {
	if c == nil {
		return nil
	}
	if tc, ok := c.(*net.TCPConn); ok {
		_ = tc.CloseRead()
		_ = tc.CloseWrite()
	}
	if err := c.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func (h *Handler) logError(msg string, err error) {
	if errors.Is(err, errHandlerClosed) {
		return
	}
	level := slog.LevelDebug
	if h.cfg.Verbose {
		level = slog.LevelWarn
	}
	h.logger.Log(h.ctx, level, msg, "state", h.State().String(), "error", err)
}
