package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // Intentionally exposed on debug port.
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/die-net/sslocal/internal/availability"
	"github.com/die-net/sslocal/internal/config"
	"github.com/die-net/sslocal/internal/dialer"
	"github.com/die-net/sslocal/internal/logger"
	"github.com/die-net/sslocal/internal/relay"
	"github.com/die-net/sslocal/internal/strategy"
	"github.com/die-net/sslocal/internal/upstream"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	defaults := relay.DefaultConfig()

	var (
		configPath      = pflag.String("config", "sslocal.json", "Path to the JSON config file holding the relay servers")
		statsConfigPath = pflag.String("statistics-config", "statistics-config.json", "Path to the statistics strategy config; written with defaults if missing")
		statsFile       = pflag.String("statistics-file", "availability-statistics.json", "Path to the persisted availability statistics")
		retentionDays   = pflag.Int("statistics-retention-days", 30, "Drop persisted statistics older than this many days. 0 keeps everything.")

		listen        = pflag.String("listen", config.DefaultListen, "SOCKS4/SOCKS5 listen address; overrides the config file")
		strategyName  = pflag.String("strategy", config.DefaultStrategy, "Server selection strategy: balancing | high-availability | statistics; overrides the config file")
		outboundProxy = pflag.String("outbound-proxy", config.DefaultOutboundProxy, "Proxy used to reach relay servers: direct:// | http://[user:pass@]host:port | https://[user:pass@]host:port | socks5://[user:pass@]host:port; overrides the config file")

		debugListen        = pflag.String("debug-listen", "", "Debug HTTP listen address exposing /debug/pprof and /metrics (e.g. 127.0.0.1:6060). Empty disables.")
		dialTimeout        = pflag.Duration("dial-timeout", 10*time.Second, "Timeout for DNS lookup and TCP connect through the outbound proxy")
		negotiationTimeout = pflag.Duration("negotiation-timeout", defaults.NegotiationTimeout, "Timeout for SOCKS negotiation with clients and the outbound proxy")
		connectTimeout     = pflag.Duration("connect-timeout", defaults.ConnectTimeout, "Timeout for each connect attempt to a relay server")
		connectRetries     = pflag.Int("connect-retries", defaults.MaxConnectRetries, "Connect attempts after the first before giving up")
		idleTimeout        = pflag.Duration("idle-timeout", defaults.IdleTimeout, "Close client connections idle for this long")
		dnsCacheTTL        = pflag.Duration("dns-cache-ttl", 5*time.Minute, "How long resolved relay server addresses are reused. 0 disables.")
		tcpKeepAlive       = pflag.String("tcp-keepalive", "45:45:3", "TCP keepalive: on|off|keepidle:keepintvl:keepcnt")
		icmpPrivileged     = pflag.Bool("icmp-privileged", false, "Use raw ICMP sockets for ping probes instead of unprivileged datagram sockets")

		logLevel = pflag.String("log-level", "info", "Log level: debug | info | warn | error")
		logFile  = pflag.String("log-file", "", "Also write JSON logs to this file, rotated by size. Empty disables.")
		verbose  = pflag.Bool("verbose", false, "Enable per-connection error logging")
	)

	pflag.CommandLine.SortFlags = false
	pflag.Parse()

	ka, err := parseTCPKeepAlive(*tcpKeepAlive)
	if err != nil {
		return fmt.Errorf("invalid --tcp-keepalive: %w", err)
	}

	log, closeLog, err := logger.New(logger.Config{
		Level:      *logLevel,
		File:       *logFile,
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     28,
	})
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer closeLog()
	slog.SetDefault(log)

	loader := config.NewLoader(*configPath)
	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	applyFlagOverrides(cfg, map[string]*string{
		"listen":         listen,
		"strategy":       strategyName,
		"outbound-proxy": outboundProxy,
	})
	if len(cfg.Servers) == 0 {
		log.Warn("No relay servers configured", "config", *configPath)
	}

	statsLoader := config.NewStatisticsLoader(*statsConfigPath)
	statsCfg, err := statsLoader.Load()
	if err != nil {
		return err
	}
	settings, err := statsCfg.Settings()
	if err != nil {
		return fmt.Errorf("invalid %s: %w", *statsConfigPath, err)
	}

	servers := upstream.NewList(cfg.Servers)

	monitor := availability.New(statsCfg.Config, availability.Options{
		Servers: servers,
		Store:   &availability.FileStore{Path: *statsFile},
		Pinger:  &availability.ICMPPinger{Privileged: *icmpPrivileged},
		Logger:  log,
	})

	deps := strategy.Deps{Servers: servers, Settings: settings, Logger: log}
	if statsCfg.Enabled {
		deps.Statistics = monitor
	}
	manager, err := strategy.NewManager(strategy.NewFactory(deps), cfg.Strategy)
	if err != nil {
		return fmt.Errorf("invalid strategy (statistics requires statisticsEnabled in %s): %w", *statsConfigPath, err)
	}

	d, err := dialer.New(dialer.Config{
		DialTimeout:        *dialTimeout,
		NegotiationTimeout: *negotiationTimeout,
		KeepAlive:          ka,
		DNSCacheTTL:        *dnsCacheTTL,
	}, cfg.OutboundProxy)
	if err != nil {
		return fmt.Errorf("invalid outbound proxy: %w", err)
	}

	g, ctx := errgroup.WithContext(context.Background())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *debugListen != "" {
		http.Handle("/metrics", promhttp.Handler())
		debugSrv := &http.Server{Handler: http.DefaultServeMux} //nolint:gosec // Not concerned about timeouts on debug port.
		lc := net.ListenConfig{KeepAliveConfig: ka}
		debugLn, err := lc.Listen(ctx, "tcp", *debugListen)
		if err != nil {
			return fmt.Errorf("debug listen: %w", err)
		}
		context.AfterFunc(ctx, func() {
			_ = debugSrv.Close()
			_ = debugLn.Close()
		})

		g.Go(func() error {
			if err := debugSrv.Serve(debugLn); err != nil {
				return fmt.Errorf("debug serve: %w", err)
			}
			return nil
		})
		log.Info("Debug listening", "addr", *debugListen)
	}

	relayCfg := relay.Config{
		NegotiationTimeout: *negotiationTimeout,
		KeepAlive:          ka,
		Dialer:             d,
		ConnectTimeout:     *connectTimeout,
		MaxConnectRetries:  *connectRetries,
		IdleTimeout:        *idleTimeout,
		Strategies:         manager,
		Observer:           monitor,
		Logger:             log,
		Verbose:            *verbose,
	}

	ln, err := relay.ListenTCP(ctx, cfg.Listen, ka)
	if err != nil {
		return fmt.Errorf("socks listen: %w", err)
	}
	r := relay.New(ctx, relayCfg)
	context.AfterFunc(ctx, func() {
		_ = ln.Close()
		r.Close()
	})

	g.Go(func() error {
		if err := r.Serve(ln); err != nil {
			return fmt.Errorf("socks serve: %w", err)
		}
		return nil
	})
	log.Info("SOCKS proxy listening", "addr", cfg.Listen, "strategy", manager.Current().ID(), "servers", len(cfg.Servers))

	g.Go(func() error {
		return monitor.Run(ctx)
	})

	if *retentionDays > 0 {
		g.Go(func() error {
			pruneStatistics(ctx, monitor, *retentionDays, log)
			return nil
		})
	}

	loader.Watch(func(next *config.Config, err error) {
		if err != nil {
			log.Warn("Config reload failed", "error", err)
			return
		}
		servers.Update(next.Servers)
		manager.ReloadServers()
		monitor.Reload()
		if !pflag.CommandLine.Changed("strategy") && next.Strategy != manager.Current().ID() {
			if err := manager.Use(next.Strategy); err != nil {
				log.Warn("Strategy switch failed", "error", err)
			}
		}
		log.Info("Config reloaded", "servers", len(next.Servers), "strategy", manager.Current().ID())
	})

	statsLoader.Watch(func(next *config.StatisticsConfig, err error) {
		if err != nil {
			log.Warn("Statistics config reload failed", "error", err)
			return
		}
		settings, err := next.Settings()
		if err != nil {
			log.Warn("Statistics config reload failed", "error", err)
			return
		}
		monitor.SetConfig(next.Config)
		for _, s := range manager.Strategies() {
			if st, ok := s.(*strategy.Statistics); ok {
				st.UpdateSettings(settings)
			}
		}
		log.Info("Statistics config reloaded", "enabled", next.Enabled)
	})

	err = g.Wait()
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}

	log.Info("Shutting down")
	return err
}

// applyFlagOverrides replaces config values with flags set on the command
// line.
func applyFlagOverrides(cfg *config.Config, flags map[string]*string) {
	for name, val := range flags {
		if !pflag.CommandLine.Changed(name) {
			continue
		}
		switch name {
		case "listen":
			cfg.Listen = *val
		case "strategy":
			cfg.Strategy = *val
		case "outbound-proxy":
			cfg.OutboundProxy = *val
		}
	}
}

func pruneStatistics(ctx context.Context, m *availability.Monitor, days int, log *slog.Logger) {
	t := time.NewTicker(24 * time.Hour)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := m.Prune(days); err != nil {
				log.Warn("Pruning statistics failed", "error", err)
			}
		}
	}
}

func parseTCPKeepAlive(s string) (net.KeepAliveConfig, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return net.KeepAliveConfig{}, errors.New("empty")
	}
	if s == "on" {
		return net.KeepAliveConfig{Enable: true}, nil
	}
	if s == "off" {
		return net.KeepAliveConfig{Enable: false}, nil
	}

	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return net.KeepAliveConfig{}, errors.New("expected on|off|keepidle:keepintvl:keepcnt")
	}
	keepIdle, err := parsePositiveSeconds(parts[0])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepidle: %w", err)
	}
	keepIntvl, err := parsePositiveSeconds(parts[1])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepintvl: %w", err)
	}
	keepCnt, err := parsePositiveInt(parts[2])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepcnt: %w", err)
	}

	return net.KeepAliveConfig{
		Enable:   true,
		Idle:     keepIdle,
		Interval: keepIntvl,
		Count:    keepCnt,
	}, nil
}

func parsePositiveSeconds(s string) (time.Duration, error) {
	n, err := parsePositiveInt(s)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("must be > 0")
	}
	return n, nil
}
