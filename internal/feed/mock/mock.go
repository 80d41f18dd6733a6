// Package mock provides a scripted feed.Adapter for tests.
package mock

import (
	"context"
	"sync"

	"github.com/trigon-labs/trigon/internal/feed"
)

// Adapter is an in-memory feed.Adapter. Tests push updates and fatal errors
// directly and assert on the recorded subscribe/unsubscribe traffic.
type Adapter struct {
	name string

	mu         sync.Mutex
	connected  bool
	connects   int
	subscribed map[string]struct{}
	SubCalls   []string
	UnsubCalls []string
	ConnectErr error

	updates chan feed.PriceUpdate
	errs    chan error
}

// New creates a mock adapter identifying as the given exchange.
func New(name string) *Adapter {
	return &Adapter{
		name:       name,
		subscribed: make(map[string]struct{}),
		updates:    make(chan feed.PriceUpdate, 256),
		errs:       make(chan error, 16),
	}
}

func (a *Adapter) Name() string { return a.name }

func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ConnectErr != nil {
		return a.ConnectErr
	}
	a.connected = true
	a.connects++
	return nil
}

func (a *Adapter) Disconnect() {
	a.mu.Lock()
	a.connected = false
	a.mu.Unlock()
}

func (a *Adapter) Subscribe(symbol string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.subscribed[symbol] = struct{}{}
	a.SubCalls = append(a.SubCalls, symbol)
	return nil
}

func (a *Adapter) Unsubscribe(symbol string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.subscribed, symbol)
	a.UnsubCalls = append(a.UnsubCalls, symbol)
	return nil
}

func (a *Adapter) Healthy() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

func (a *Adapter) Updates() <-chan feed.PriceUpdate { return a.updates }
func (a *Adapter) Errors() <-chan error             { return a.errs }

// Push delivers a price update as if it arrived over the wire.
func (a *Adapter) Push(pu feed.PriceUpdate) { a.updates <- pu }

// Fail delivers a fatal transport error.
func (a *Adapter) Fail(err error) { a.errs <- err }

// Connects reports how many times Connect succeeded.
func (a *Adapter) Connects() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connects
}

// Subscribed reports whether the symbol is currently subscribed upstream.
func (a *Adapter) Subscribed(symbol string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.subscribed[symbol]
	return ok
}

// SubscribedCount returns the size of the upstream subscription set.
func (a *Adapter) SubscribedCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.subscribed)
}
