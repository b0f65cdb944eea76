package strategy

import (
	"hash/fnv"
	"net"
	"sync/atomic"
	"time"

	"github.com/die-net/sslocal/internal/upstream"
)

// Balancing spreads TCP connections round-robin across all servers and pins
// each UDP client endpoint to one server by hash. It ignores telemetry.
type Balancing struct {
	servers upstream.Provider
	next    atomic.Uint64
}

func NewBalancing(servers upstream.Provider) *Balancing {
	return &Balancing{servers: servers}
}

func (b *Balancing) ID() string   { return DefaultStrategyBalancing }
func (b *Balancing) Name() string { return "Load balance" }

func (b *Balancing) SelectServer(caller CallerType, local net.Addr) *upstream.Server {
	servers := b.servers.Servers()
	if len(servers) == 0 {
		return nil
	}

	var idx uint64
	if caller == CallerUDP && local != nil {
		h := fnv.New64a()
		_, _ = h.Write([]byte(local.String()))
		idx = h.Sum64()
	} else {
		idx = b.next.Add(1) - 1
	}
	s := servers[idx%uint64(len(servers))]
	selections.WithLabelValues(b.ID()).Inc()
	return s
}

func (b *Balancing) ReloadServers()                                {}
func (b *Balancing) ReportLatency(*upstream.Server, time.Duration) {}
func (b *Balancing) ReportRead(*upstream.Server)                   {}
func (b *Balancing) ReportWrite(*upstream.Server)                  {}
func (b *Balancing) ReportFailure(*upstream.Server)                {}
