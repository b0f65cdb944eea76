package relay

import (
	"errors"
	"fmt"
	"io"

	"github.com/die-net/sslocal/internal/socks5"
)

// maxRequestLen covers a SOCKS5 request with the longest domain name.
const maxRequestLen = 3 + 1 + 1 + 255 + 2

var (
	errShortGreeting      = errors.New("greeting shorter than 2 bytes")
	errShortRequest       = errors.New("request shorter than 3 bytes")
	errUnsupportedVersion = errors.New("unsupported SOCKS version")
	errUnsupportedCommand = errors.New("unsupported SOCKS5 command")
)

type handshakeResult struct {
	udp bool

	// header is the ATYP|ADDR|PORT sent to the relay server ahead of any
	// client data.
	header []byte

	// payload holds client bytes that arrived in the same read as the
	// request. It is relayed as ordinary data.
	payload []byte
}

func (h *Handler) handshake(first []byte) (handshakeResult, error) {
	if len(first) < 2 {
		return handshakeResult{}, errShortGreeting
	}

	switch first[0] {
	case socks5.Version4:
		h.setState(StateSocks4Reply)
		if err := socks5.WriteSocks4Granted(h.local); err != nil {
			return handshakeResult{}, err
		}
		return handshakeResult{header: socks5.Socks4Header(first)}, nil

	case socks5.Version5:
		h.setState(StateSocks5MethodReply)
		if err := socks5.WriteMethodReply(h.local); err != nil {
			return handshakeResult{}, err
		}
		h.setState(StateAwaitingRequest)
		return h.readRequest()
	}

	return handshakeResult{}, fmt.Errorf("%w: %#x", errUnsupportedVersion, first[0])
}

func (h *Handler) readRequest() (handshakeResult, error) {
	buf := make([]byte, maxRequestLen)
	n, err := h.local.Read(buf)
	if err != nil {
		return handshakeResult{}, err
	}
	h.touch()
	if n < 3 {
		return handshakeResult{}, errShortRequest
	}
	req := buf[:n]

	switch req[1] {
	case socks5.CmdConnect:
		req, err = h.completeAddress(req, buf)
		if err != nil {
			return handshakeResult{}, err
		}
		if err := socks5.WriteConnectReply(h.local); err != nil {
			return handshakeResult{}, err
		}
		l, _ := socks5.AddressLen(req[3:])
		return handshakeResult{header: req[3 : 3+l], payload: req[3+l:]}, nil

	case socks5.CmdUDP:
		h.setState(StateUDPAssociate)
		if err := socks5.WriteUDPAssociateReply(h.local, h.local.LocalAddr()); err != nil {
			return handshakeResult{}, err
		}
		return handshakeResult{udp: true}, nil
	}

	atyp := byte(socks5.ATYPIPv4)
	if n > 3 {
		atyp = req[3]
	}
	socks5.WriteCommandNotSupportedReply(h.local, atyp)
	return handshakeResult{}, fmt.Errorf("%w: %#x", errUnsupportedCommand, req[1])
}

// completeAddress keeps reading until req holds the whole destination address.
func (h *Handler) completeAddress(req, buf []byte) ([]byte, error) {
	for {
		l, err := socks5.AddressLen(req[3:])
		switch {
		case errors.Is(err, socks5.ErrShortHeader):
			if len(req) == len(buf) {
				return nil, err
			}
			m, err := io.ReadAtLeast(h.local, buf[len(req):], 1)
			if err != nil {
				return nil, err
			}
			req = buf[:len(req)+m]
		case err != nil:
			return nil, err
		case len(req) < 3+l:
			m, err := io.ReadFull(h.local, buf[len(req):3+l])
			if err != nil {
				return nil, err
			}
			return buf[:len(req)+m], nil
		default:
			return req, nil
		}
	}
}

// holdUDPAssociation keeps the control connection open until the client
// closes it or the idle sweep does.
func (h *Handler) holdUDPAssociation() {
	_ = h.local.SetDeadline(timeZero)
	var buf [64]byte
	for {
		if _, err := h.local.Read(buf[:]); err != nil {
			return
		}
		h.touch()
	}
}
