package upstream

import (
	"fmt"
	"slices"
	"sync/atomic"
)

// Provider supplies the currently configured servers.
type Provider interface {
	Servers() []*Server
}

// List is a Provider whose contents are swapped atomically on reload.
// Callers must treat the returned slice as read-only.
type List struct {
	servers atomic.Pointer[[]*Server]
}

// NewList returns a List holding servers.
func NewList(servers []*Server) *List {
	l := &List{}
	l.Update(servers)
	return l
}

// Servers returns the current snapshot.
func (l *List) Servers() []*Server {
	p := l.servers.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Update replaces the configured servers.
func (l *List) Update(servers []*Server) {
	s := slices.Clone(servers)
	l.servers.Store(&s)
}

// Identifiers returns the set of identifiers in servers.
func Identifiers(servers []*Server) map[string]struct{} {
	ids := make(map[string]struct{}, len(servers))
	for _, s := range servers {
		ids[s.Identifier()] = struct{}{}
	}
	return ids
}

// ValidateAll validates every server and rejects duplicate identifiers.
func ValidateAll(servers []*Server) error {
	seen := make(map[string]struct{}, len(servers))
	for i, s := range servers {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("servers[%d]: %w", i, err)
		}
		id := s.Identifier()
		if _, dup := seen[id]; dup {
			return fmt.Errorf("servers[%d]: duplicate server %s", i, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}
