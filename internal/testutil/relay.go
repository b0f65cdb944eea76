package testutil

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"

	"github.com/die-net/sslocal/internal/cipher"
	"github.com/die-net/sslocal/internal/socks5"
)

// RelayServer is a minimal stream-cipher relay for tests. It decrypts the
// destination header, dials it directly and relays until either side closes.
type RelayServer struct {
	Listener net.Listener

	method, password string

	mu    sync.Mutex
	dests []string
	wg    sync.WaitGroup
}

// StartRelayServer listens on a loopback port and serves every accepted
// connection until the test ends.
func StartRelayServer(t *testing.T, ctx context.Context, method, password string) *RelayServer {
	t.Helper()

	ln := listenLoopback(t, ctx)

	s := &RelayServer{Listener: ln, method: method, password: password}
	s.wg.Go(func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			s.wg.Go(func() { s.serve(ctx, c) })
		}
	})
	t.Cleanup(func() {
		_ = ln.Close()
		s.wg.Wait()
	})

	return s
}

// Destinations returns the host:port targets requested so far.
func (s *RelayServer) Destinations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.dests...)
}

func (s *RelayServer) serve(ctx context.Context, c net.Conn) {
	defer c.Close()

	enc, err := cipher.New(s.method, s.password, false)
	if err != nil {
		return
	}
	defer enc.Close()

	var (
		mu      sync.Mutex
		pending []byte
		target  string
		buf     = make([]byte, 8192)
	)

	for target == "" {
		n, err := c.Read(buf)
		if err != nil {
			return
		}
		plain, err := enc.Decrypt(nil, buf[:n])
		if err != nil {
			return
		}
		pending = append(pending, plain...)

		addr, hl, err := socks5.ParseAddress(pending)
		if errors.Is(err, socks5.ErrShortHeader) {
			continue
		}
		if err != nil {
			return
		}
		target = addr
		pending = pending[hl:]
	}

	s.mu.Lock()
	s.dests = append(s.dests, target)
	s.mu.Unlock()

	var d net.Dialer
	up, err := d.DialContext(ctx, "tcp", target)
	if err != nil {
		return
	}
	defer up.Close()

	if len(pending) > 0 {
		if _, err := up.Write(pending); err != nil {
			return
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		b := make([]byte, 8192)
		for {
			n, err := up.Read(b)
			if n > 0 {
				mu.Lock()
				ct, eerr := enc.Encrypt(nil, b[:n])
				mu.Unlock()
				if eerr != nil {
					return
				}
				if _, werr := c.Write(ct); werr != nil {
					return
				}
			}
			if err != nil {
				if tc, ok := c.(*net.TCPConn); ok {
					_ = tc.CloseWrite()
				}
				return
			}
		}
	}()

	for {
		n, err := c.Read(buf)
		if n > 0 {
			mu.Lock()
			plain, derr := enc.Decrypt(nil, buf[:n])
			mu.Unlock()
			if derr != nil {
				break
			}
			if _, werr := up.Write(plain); werr != nil {
				break
			}
		}
		if err != nil {
			if tc, ok := up.(*net.TCPConn); ok {
				_ = tc.CloseWrite()
			}
			break
		}
	}
	<-done
}
