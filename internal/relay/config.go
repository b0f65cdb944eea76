package relay

import (
	"log/slog"
	"net"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/die-net/sslocal/internal/cipher"
	"github.com/die-net/sslocal/internal/dialer"
	"github.com/die-net/sslocal/internal/strategy"
	"github.com/die-net/sslocal/internal/upstream"
)

const (
	// RecvSize is the read window of each pump direction.
	RecvSize = 8192

	// sendBufferSize leaves room for the IV and auth overhead Encrypt adds.
	sendBufferSize = RecvSize + cipher.MaxOverhead
)

// StrategySource returns the strategy handlers should consult right now.
type StrategySource interface {
	Current() strategy.Strategy
}

// Observer receives per-server telemetry alongside the strategy.
type Observer interface {
	UpdateLatency(s *upstream.Server, latency time.Duration)
	UpdateInbound(s *upstream.Server, n int64)
	UpdateOutbound(s *upstream.Server, n int64)
	UpdateFailure(s *upstream.Server)
}

type Config struct {
	// NegotiationTimeout bounds reading the first packet and the SOCKS
	// handshake.
	NegotiationTimeout time.Duration

	KeepAlive net.KeepAliveConfig

	// Dialer reaches relay servers.
	Dialer dialer.Dialer

	// ConnectTimeout bounds each connect attempt; MaxConnectRetries is the
	// number of attempts after the first.
	ConnectTimeout    time.Duration
	MaxConnectRetries int

	// IdleTimeout closes handlers with no activity for this long.
	IdleTimeout time.Duration

	Strategies StrategySource
	Observer   Observer

	// NewEncryptor builds the tunnel cipher for a server. Defaults to
	// cipher.New with the server's method, password and auth flag.
	NewEncryptor func(*upstream.Server) (cipher.Encryptor, error)

	Clock  clock.Clock
	Logger *slog.Logger

	// Verbose logs per-connection errors at warning level instead of debug.
	Verbose bool
}

// DefaultConfig returns the connection limits sslocal uses unless flags
// override them.
func DefaultConfig() Config {
	return Config{
		NegotiationTimeout: 10 * time.Second,
		ConnectTimeout:     3 * time.Second,
		MaxConnectRetries:  4,
		IdleTimeout:        900 * time.Second,
	}
}

func (c *Config) setDefaults() {
	d := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.MaxConnectRetries < 0 {
		c.MaxConnectRetries = 0
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	if c.NewEncryptor == nil {
		c.NewEncryptor = func(s *upstream.Server) (cipher.Encryptor, error) {
			return cipher.New(s.Method, s.Password, s.OneTimeAuth)
		}
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
