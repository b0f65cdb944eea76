package relay

import (
	"errors"
	"io"
	"net"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

var timeZero time.Time

// pipe sends the address header and any early client payload, then relays
// in both directions until both have reached EOF or either fails.
func (h *Handler) pipe(header, payload []byte) error {
	_ = h.local.SetDeadline(timeZero)
	h.setState(StatePiping)

	out := sendBuffers.Get()
	err := h.sendEarly(header, payload, *out)
	sendBuffers.Put(out)
	if err != nil {
		return err
	}

	var g errgroup.Group
	g.Go(h.pumpFromRemote)
	g.Go(h.pumpFromLocal)
	return g.Wait()
}

// pumpFromLocal encrypts client data toward the relay server.
func (h *Handler) pumpFromLocal() error {
	in := recvBuffers.Get()
	defer recvBuffers.Put(in)
	out := sendBuffers.Get()
	defer sendBuffers.Put(out)

	for {
		n, err := h.local.Read(*in)
		if n > 0 {
			h.touch()
			bytesOutbound.Add(float64(n))
			if h.cfg.Observer != nil {
				h.cfg.Observer.UpdateOutbound(h.server, int64(n))
			}
			if werr := h.sendRemote((*in)[:n], *out); werr != nil {
				h.Close()
				return werr
			}
		}
		if err != nil {
			return h.finish(err, h.remote, &h.localDone, &h.remoteDone)
		}
	}
}

// pumpFromRemote decrypts relay server data toward the client.
func (h *Handler) pumpFromRemote() error {
	in := recvBuffers.Get()
	defer recvBuffers.Put(in)
	out := sendBuffers.Get()
	defer sendBuffers.Put(out)

	for {
		n, err := h.remote.Read(*in)
		if n > 0 {
			h.touch()
			bytesInbound.Add(float64(n))
			if h.cfg.Observer != nil {
				h.cfg.Observer.UpdateInbound(h.server, int64(n))
			}
			plain, derr := h.crypt((*in)[:n], *out, false)
			if derr == nil && len(plain) > 0 {
				_, derr = h.local.Write(plain)
			}
			if derr != nil {
				h.Close()
				return derr
			}
			h.cfg.Strategies.Current().ReportRead(h.server)
		}
		if err != nil {
			return h.finish(err, h.local, &h.remoteDone, &h.localDone)
		}
	}
}

// sendEarly encrypts header and payload separately so one-time auth tags the
// address on its own.
func (h *Handler) sendEarly(header, payload, out []byte) error {
	if len(header) > 0 {
		if err := h.sendRemote(header, out); err != nil {
			return err
		}
	}
	if len(payload) == 0 {
		return nil
	}
	bytesOutbound.Add(float64(len(payload)))
	if h.cfg.Observer != nil {
		h.cfg.Observer.UpdateOutbound(h.server, int64(len(payload)))
	}
	return h.sendRemote(payload, out)
}

func (h *Handler) sendRemote(data, out []byte) error {
	ct, err := h.crypt(data, out, true)
	if err != nil {
		return err
	}
	if _, err := h.remote.Write(ct); err != nil {
		return err
	}
	h.cfg.Strategies.Current().ReportWrite(h.server)
	return nil
}

func (h *Handler) crypt(data, out []byte, encrypt bool) ([]byte, error) {
	h.encMu.Lock()
	defer h.encMu.Unlock()

	if h.enc == nil {
		return nil, errHandlerClosed
	}
	if encrypt {
		return h.enc.Encrypt(out[:0], data)
	}
	return h.enc.Decrypt(out[:0], data)
}

// finish handles the end of one direction. On EOF the write side of dst is
// shut down and the handler closes once the other direction is done too; any
// other error closes the handler, which unblocks the other pump.
func (h *Handler) finish(err error, dst net.Conn, done, other *atomic.Bool) error {
	if !errors.Is(err, io.EOF) {
		already := h.isClosed()
		h.Close()
		if already {
			return nil
		}
		return err
	}

	if cw, ok := dst.(interface{ CloseWrite() error }); ok {
		_ = cw.CloseWrite()
	}
	done.Store(true)
	h.state.CompareAndSwap(int32(StatePiping), int32(StateHalfClosed))
	if other.Load() {
		h.Close()
	}
	return nil
}
