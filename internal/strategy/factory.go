package strategy

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/die-net/sslocal/internal/upstream"
)

const (
	DefaultStrategyBalancing        = "balancing"
	DefaultStrategyHighAvailability = "high-availability"
	DefaultStrategyStatistics       = "statistics"
)

// Deps carries what strategies need from the rest of the process.
type Deps struct {
	Servers    upstream.Provider
	Statistics StatisticsSource
	Settings   StatisticsSettings
	Clock      clock.Clock
	Logger     *slog.Logger
}

type Factory struct {
	creators map[string]func(Deps) Strategy
	deps     Deps
	mu       sync.RWMutex
}

func NewFactory(deps Deps) *Factory {
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	factory := &Factory{
		creators: make(map[string]func(Deps) Strategy),
		deps:     deps,
	}

	factory.Register(DefaultStrategyBalancing, func(d Deps) Strategy {
		return NewBalancing(d.Servers)
	})
	factory.Register(DefaultStrategyHighAvailability, func(d Deps) Strategy {
		return NewHighAvailability(d.Servers, d.Clock, d.Logger)
	})
	factory.Register(DefaultStrategyStatistics, func(d Deps) Strategy {
		if d.Statistics == nil {
			return nil
		}
		ha := NewHighAvailability(d.Servers, d.Clock, d.Logger)
		return NewStatistics(d.Servers, d.Statistics, ha, d.Settings, d.Clock, d.Logger)
	})

	return factory
}

func (f *Factory) Register(name string, creator func(Deps) Strategy) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creators[name] = creator
}

func (f *Factory) Create(name string) (Strategy, error) {
	f.mu.RLock()
	creator, exists := f.creators[name]
	f.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown strategy: %s", name)
	}

	s := creator(f.deps)
	if s == nil {
		return nil, fmt.Errorf("strategy %s unavailable with current dependencies", name)
	}
	return s, nil
}

func (f *Factory) GetAvailableStrategies() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	strategies := make([]string, 0, len(f.creators))
	for name := range f.creators {
		strategies = append(strategies, name)
	}
	slices.Sort(strategies)
	return strategies
}
