package dialer

import (
	"net"
	"time"
)

type Config struct {
	// DialTimeout bounds DNS lookup plus TCP connect of a single dial.
	DialTimeout time.Duration

	// NegotiationTimeout bounds the proxy handshake of forward-proxy dialers.
	NegotiationTimeout time.Duration

	KeepAlive net.KeepAliveConfig

	// DNSCacheTTL is how long resolved relay addresses are reused. Zero
	// disables caching.
	DNSCacheTTL time.Duration
}
