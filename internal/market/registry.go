package market

import (
	"fmt"
	"strings"
	"sync"

	"github.com/trigon-labs/trigon/internal/feed"
)

// AdapterFactory constructs the feed adapter for an exchange identifier.
// It returns an error for exchanges with no shipped protocol.
type AdapterFactory func(exchange string) (feed.Adapter, error)

// Registry hands out one Manager per exchange. It replaces ambient
// global lookups: the composition root owns the Registry and passes it to
// whoever needs market data.
type Registry struct {
	factory AdapterFactory

	mu       sync.Mutex
	managers map[string]*Manager
}

// NewRegistry creates a Registry that builds adapters with factory.
func NewRegistry(factory AdapterFactory) *Registry {
	return &Registry{
		factory:  factory,
		managers: make(map[string]*Manager),
	}
}

// GetOrCreate returns the Manager for the exchange (case-insensitive),
// constructing it and its adapter on first use.
func (r *Registry) GetOrCreate(exchange string) (*Manager, error) {
	key := strings.ToLower(exchange)

	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.managers[key]; ok {
		return m, nil
	}

	adapter, err := r.factory(key)
	if err != nil {
		return nil, fmt.Errorf("market registry: %w", err)
	}
	m := NewManager(key, adapter)
	r.managers[key] = m
	return m, nil
}

// Get returns the Manager for the exchange without creating one.
func (r *Registry) Get(exchange string) (*Manager, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.managers[strings.ToLower(exchange)]
	return m, ok
}

// Remove cleans the exchange's Manager up and drops it, so the next
// GetOrCreate builds a fresh one.
func (r *Registry) Remove(exchange string) {
	key := strings.ToLower(exchange)

	r.mu.Lock()
	m, ok := r.managers[key]
	delete(r.managers, key)
	r.mu.Unlock()

	if ok {
		m.Cleanup()
		m.close()
	}
}

// CloseAll tears down every Manager; used on process shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	managers := r.managers
	r.managers = make(map[string]*Manager)
	r.mu.Unlock()

	for _, m := range managers {
		m.Cleanup()
		m.close()
	}
}
