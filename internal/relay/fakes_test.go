package relay

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/die-net/sslocal/internal/strategy"
	"github.com/die-net/sslocal/internal/upstream"
)

// fakeStrategy always selects the same server and counts reports.
type fakeStrategy struct {
	server *upstream.Server

	mu        sync.Mutex
	latencies int
	reads     int
	writes    int
	failures  int
}

func (f *fakeStrategy) ID() string     { return "fake" }
func (f *fakeStrategy) Name() string   { return "Fake" }
func (f *fakeStrategy) ReloadServers() {}
func (f *fakeStrategy) Current() strategy.Strategy {
	if f == nil {
		return nil
	}
	return f
}

func (f *fakeStrategy) SelectServer(strategy.CallerType, net.Addr) *upstream.Server {
	return f.server
}

func (f *fakeStrategy) ReportLatency(*upstream.Server, time.Duration) {
	f.mu.Lock()
	f.latencies++
	f.mu.Unlock()
}

func (f *fakeStrategy) ReportRead(*upstream.Server) {
	f.mu.Lock()
	f.reads++
	f.mu.Unlock()
}

func (f *fakeStrategy) ReportWrite(*upstream.Server) {
	f.mu.Lock()
	f.writes++
	f.mu.Unlock()
}

func (f *fakeStrategy) ReportFailure(*upstream.Server) {
	f.mu.Lock()
	f.failures++
	f.mu.Unlock()
}

func (f *fakeStrategy) counts() (latencies, reads, writes, failures int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latencies, f.reads, f.writes, f.failures
}

// fakeObserver sums telemetry.
type fakeObserver struct {
	mu        sync.Mutex
	inbound   int64
	outbound  int64
	latencies int
	failures  int
}

func (o *fakeObserver) UpdateLatency(*upstream.Server, time.Duration) {
	o.mu.Lock()
	o.latencies++
	o.mu.Unlock()
}

func (o *fakeObserver) UpdateInbound(_ *upstream.Server, n int64) {
	o.mu.Lock()
	o.inbound += n
	o.mu.Unlock()
}

func (o *fakeObserver) UpdateOutbound(_ *upstream.Server, n int64) {
	o.mu.Lock()
	o.outbound += n
	o.mu.Unlock()
}

func (o *fakeObserver) UpdateFailure(*upstream.Server) {
	o.mu.Lock()
	o.failures++
	o.mu.Unlock()
}

func (o *fakeObserver) totals() (inbound, outbound int64, failures int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.inbound, o.outbound, o.failures
}

var errRefused = errors.New("connection refused")

// refusingDialer fails every dial immediately.
type refusingDialer struct {
	mu    sync.Mutex
	dials int
}

func (d *refusingDialer) DialContext(context.Context, string, string) (net.Conn, error) {
	d.mu.Lock()
	d.dials++
	d.mu.Unlock()
	return nil, errRefused
}

// hangingDialer blocks until the dial context ends, signalling each start.
type hangingDialer struct {
	started chan struct{}
}

func (d *hangingDialer) DialContext(ctx context.Context, _, _ string) (net.Conn, error) {
	d.started <- struct{}{}
	<-ctx.Done()
	return nil, ctx.Err()
}

var errBadCiphertext = errors.New("bad ciphertext")

// failingEncryptor rejects everything it is asked to decrypt.
type failingEncryptor struct{}

func (failingEncryptor) Encrypt(dst, src []byte) ([]byte, error) { return append(dst[:0], src...), nil }
func (failingEncryptor) Decrypt([]byte, []byte) ([]byte, error)  { return nil, errBadCiphertext }
func (failingEncryptor) Close() error                            { return nil }

// tcpPair returns both ends of a loopback TCP connection.
func tcpPair(t *testing.T) (client, server net.Conn) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- c
	}()

	client, err = net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	server, ok := <-accepted
	if !ok {
		t.Fatal("accept failed")
	}
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})
	return client, server
}
