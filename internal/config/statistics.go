package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/die-net/sslocal/internal/availability"
	"github.com/die-net/sslocal/internal/strategy"
)

// StatisticsConfig is the content of statistics-config.json.
type StatisticsConfig struct {
	availability.Config `mapstructure:",squash"`

	ChoiceKeptMinutes int `mapstructure:"choiceKeptMinutes" json:"choiceKeptMinutes"`

	// Calculations weights each record field when scoring servers.
	Calculations map[string]float64 `mapstructure:"calculations" json:"calculations"`
}

// DefaultStatistics returns collection disabled and every weight zero.
func DefaultStatistics() *StatisticsConfig {
	calc := make(map[string]float64)
	for _, f := range availability.Fields() {
		calc[f.String()] = 0
	}
	return &StatisticsConfig{
		Config:            availability.DefaultConfig(),
		ChoiceKeptMinutes: 10,
		Calculations:      calc,
	}
}

// Settings converts the weights to strategy settings. Field names are
// matched case-insensitively; an unknown name is an error.
func (c *StatisticsConfig) Settings() (strategy.StatisticsSettings, error) {
	weights := make(map[availability.Field]float64, len(c.Calculations))
	for name, w := range c.Calculations {
		f, err := availability.ParseField(name)
		if err != nil {
			return strategy.StatisticsSettings{}, fmt.Errorf("calculations: %w", err)
		}
		weights[f] = w
	}
	return strategy.StatisticsSettings{
		Weights:    weights,
		ChoiceKept: time.Duration(c.ChoiceKeptMinutes) * time.Minute,
	}, nil
}

// StatisticsLoader reads statistics-config.json, writing the defaults when
// the file does not exist.
type StatisticsLoader struct {
	v    *viper.Viper
	path string
}

func NewStatisticsLoader(path string) *StatisticsLoader {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	def := DefaultStatistics()
	v.SetDefault("statisticsEnabled", def.Enabled)
	v.SetDefault("byHourOfDay", def.ByHourOfDay)
	v.SetDefault("ping", def.Ping)
	v.SetDefault("choiceKeptMinutes", def.ChoiceKeptMinutes)
	v.SetDefault("dataCollectionMinutes", def.DataCollectionMinutes)
	v.SetDefault("repeatTimesNum", def.RepeatTimesNum)

	return &StatisticsLoader{v: v, path: path}
}

func (l *StatisticsLoader) Load() (*StatisticsConfig, error) {
	if err := l.v.ReadInConfig(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("error reading statistics config: %w", err)
		}
		def := DefaultStatistics()
		if err := SaveStatistics(l.path, def); err != nil {
			return nil, err
		}
		return def, nil
	}
	return l.decode()
}

func (l *StatisticsLoader) decode() (*StatisticsConfig, error) {
	var cfg StatisticsConfig
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode statistics config: %w", err)
	}
	if cfg.Calculations == nil {
		cfg.Calculations = DefaultStatistics().Calculations
	}
	if _, err := cfg.Settings(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Watch calls fn with the freshly decoded config whenever the file is
// written. The file must exist, which Load guarantees.
func (l *StatisticsLoader) Watch(fn func(*StatisticsConfig, error)) {
	watch(l.v, func() { fn(l.decode()) })
}

// SaveStatistics writes cfg to path as JSON.
func SaveStatistics(path string, cfg *StatisticsConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write statistics config: %w", err)
	}
	return nil
}
