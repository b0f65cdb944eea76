package availability

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/netip"
	"os"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

const (
	pingTimeout = 500 * time.Millisecond
	pingGapMin  = 500 * time.Millisecond
	pingGapMax  = 1000 * time.Millisecond

	protocolICMP     = 1
	protocolIPv6ICMP = 58
)

// Pinger sends one echo request to host and returns the round trip time.
type Pinger interface {
	Ping(ctx context.Context, host string) (time.Duration, error)
}

// ICMPPinger pings with ICMP echo. Unprivileged mode uses datagram ICMP
// sockets, which Linux allows when net.ipv4.ping_group_range covers the
// process group.
type ICMPPinger struct {
	Privileged bool

	seq atomic.Uint32
}

var errNoReply = errors.New("no echo reply")

func (p *ICMPPinger) Ping(ctx context.Context, host string) (time.Duration, error) {
	addrs, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return 0, fmt.Errorf("ping %s: %w", host, err)
	}
	if len(addrs) == 0 {
		return 0, fmt.Errorf("ping %s: no address", host)
	}
	ip := addrs[0].Unmap()

	network, listen, proto := "udp4", "0.0.0.0", protocolICMP
	var echo, reply icmp.Type = ipv4.ICMPTypeEcho, ipv4.ICMPTypeEchoReply
	if ip.Is6() {
		network, listen, proto = "udp6", "::", protocolIPv6ICMP
		echo, reply = ipv6.ICMPTypeEchoRequest, ipv6.ICMPTypeEchoReply
	}
	if p.Privileged {
		network = "ip4:icmp"
		if ip.Is6() {
			network = "ip6:ipv6-icmp"
		}
	}

	conn, err := icmp.ListenPacket(network, listen)
	if err != nil {
		return 0, fmt.Errorf("ping %s: %w", host, err)
	}
	defer conn.Close()

	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}

	seq := int(p.seq.Add(1) & 0xffff)
	msg := icmp.Message{
		Type: echo,
		Body: &icmp.Echo{ID: os.Getpid() & 0xffff, Seq: seq, Data: []byte("sslocal-availability")},
	}
	wb, err := msg.Marshal(nil)
	if err != nil {
		return 0, fmt.Errorf("ping %s: %w", host, err)
	}

	start := time.Now()
	if _, err := conn.WriteTo(wb, pingAddr(ip, p.Privileged)); err != nil {
		return 0, fmt.Errorf("ping %s: %w", host, err)
	}

	rb := make([]byte, 1500)
	for {
		n, _, err := conn.ReadFrom(rb)
		if err != nil {
			return 0, fmt.Errorf("ping %s: %w", host, err)
		}
		rm, err := icmp.ParseMessage(proto, rb[:n])
		if err != nil || rm.Type != reply {
			continue
		}
		// Datagram sockets rewrite the echo ID, so match on sequence only.
		if body, ok := rm.Body.(*icmp.Echo); ok && body.Seq == seq {
			return time.Since(start), nil
		}
		if ctx.Err() != nil {
			return 0, fmt.Errorf("ping %s: %w", host, errNoReply)
		}
	}
}

func pingAddr(ip netip.Addr, privileged bool) net.Addr {
	if privileged {
		return &net.IPAddr{IP: ip.AsSlice()}
	}
	return &net.UDPAddr{IP: ip.AsSlice()}
}

// probe pings host repeat times with a gap between attempts and returns the
// number of attempts and the round trips, in milliseconds, that succeeded.
func probe(ctx context.Context, p Pinger, clk clock.Clock, host string, repeat int, gap func() time.Duration) (attempts int, responses []int) {
	for i := range repeat {
		if i > 0 {
			if d := gap(); d > 0 {
				select {
				case <-ctx.Done():
					return attempts, responses
				case <-clk.After(d):
				}
			}
		}
		if ctx.Err() != nil {
			return attempts, responses
		}

		pctx, cancel := context.WithTimeout(ctx, pingTimeout)
		rtt, err := p.Ping(pctx, host)
		cancel()

		attempts++
		if err == nil {
			responses = append(responses, max(1, int(rtt.Milliseconds())))
		}
	}
	return attempts, responses
}

func randomPingGap() time.Duration {
	return pingGapMin + rand.N(pingGapMax-pingGapMin) //nolint:gosec // Jitter only.
}
