package strategy

import (
	"fmt"
	"sync/atomic"
)

// Manager owns one instance of each available strategy and tracks which one
// handlers should use.
type Manager struct {
	strategies []Strategy
	current    atomic.Pointer[Strategy]
}

// NewManager instantiates every strategy the factory can build and makes
// current the active one.
func NewManager(f *Factory, current string) (*Manager, error) {
	m := &Manager{}
	for _, name := range f.GetAvailableStrategies() {
		s, err := f.Create(name)
		if err != nil {
			continue
		}
		m.strategies = append(m.strategies, s)
	}
	if err := m.Use(current); err != nil {
		return nil, err
	}
	return m, nil
}

// Current returns the active strategy.
func (m *Manager) Current() Strategy {
	return *m.current.Load()
}

// Use switches the active strategy by ID.
func (m *Manager) Use(id string) error {
	for _, s := range m.strategies {
		if s.ID() == id {
			m.current.Store(&s)
			return nil
		}
	}
	return fmt.Errorf("unknown strategy: %s", id)
}

// Strategies lists the instantiated strategies.
func (m *Manager) Strategies() []Strategy {
	return m.strategies
}

// ReloadServers notifies every strategy, not just the active one, so a later
// switch starts from the current server list.
func (m *Manager) ReloadServers() {
	for _, s := range m.strategies {
		s.ReloadServers()
	}
}
