// Package config loads sslocal's JSON configuration files with viper and
// watches them for changes.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/die-net/sslocal/internal/upstream"
)

const (
	DefaultListen        = "127.0.0.1:1080"
	DefaultStrategy      = "high-availability"
	DefaultOutboundProxy = "direct://"

	envPrefix = "SSLOCAL"
)

// Config is the content of sslocal.json.
type Config struct {
	Listen        string             `mapstructure:"listen"`
	Strategy      string             `mapstructure:"strategy"`
	OutboundProxy string             `mapstructure:"outbound_proxy"`
	Servers       []*upstream.Server `mapstructure:"servers"`
}

// Validate checks every server and rejects duplicates.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return errors.New("listen address is empty")
	}
	return upstream.ValidateAll(c.Servers)
}

// Loader reads sslocal.json, with SSLOCAL_ environment overrides for the
// scalar settings.
type Loader struct {
	v *viper.Viper
}

func NewLoader(path string) *Loader {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	v.SetDefault("listen", DefaultListen)
	v.SetDefault("strategy", DefaultStrategy)
	v.SetDefault("outbound_proxy", DefaultOutboundProxy)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Loader{v: v}
}

// Load reads the file and decodes it.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	return l.decode()
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", l.v.ConfigFileUsed(), err)
	}
	return &cfg, nil
}

// Watch calls fn with the freshly decoded config whenever the file is
// written.
func (l *Loader) Watch(fn func(*Config, error)) {
	watch(l.v, func() { fn(l.decode()) })
}

func watch(v *viper.Viper, fn func()) {
	v.OnConfigChange(func(e fsnotify.Event) {
		if e.Has(fsnotify.Write) || e.Has(fsnotify.Create) {
			fn()
		}
	})
	v.WatchConfig()
}
