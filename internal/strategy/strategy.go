// Package strategy picks which relay server a new connection should use.
//
// Every strategy receives live telemetry from connection handlers (connect
// latency, reads, writes, failures) and answers SelectServer. Strategies are
// built by a Factory and the active one is held by a Manager, which also fans
// out server list reloads.
package strategy

import (
	"net"
	"time"

	"github.com/die-net/sslocal/internal/upstream"
)

// CallerType distinguishes stream and datagram callers; strategies may
// choose differently for each.
type CallerType int

const (
	CallerTCP CallerType = iota
	CallerUDP
)

func (c CallerType) String() string {
	if c == CallerUDP {
		return "udp"
	}
	return "tcp"
}

// Strategy selects relay servers and learns from connection telemetry.
// Implementations must be safe for concurrent use. Reports about servers
// that are not configured are ignored.
type Strategy interface {
	// ID is the stable configuration name of the strategy.
	ID() string
	// Name is a human readable description.
	Name() string

	// SelectServer returns the server to use, or nil when none is
	// available.
	SelectServer(caller CallerType, local net.Addr) *upstream.Server

	// ReloadServers is called after the configured server list changes.
	ReloadServers()

	ReportLatency(s *upstream.Server, latency time.Duration)
	ReportRead(s *upstream.Server)
	ReportWrite(s *upstream.Server)
	ReportFailure(s *upstream.Server)
}
