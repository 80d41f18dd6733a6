package market

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/trigon-labs/trigon/internal/feed"
)

// Subscriber receives price updates for symbols it is registered under.
// Implementations must be comparable values (pointers, typically): the
// registry is a set, so registering the same Subscriber twice for the same
// symbol is idempotent.
type Subscriber interface {
	Notify(feed.PriceUpdate)
}

// FuncSubscriber adapts a plain function to the Subscriber interface. Each
// call to Func yields a distinct registry identity.
type FuncSubscriber struct {
	fn func(feed.PriceUpdate)
}

// Func wraps fn as a Subscriber.
func Func(fn func(feed.PriceUpdate)) *FuncSubscriber {
	return &FuncSubscriber{fn: fn}
}

// Notify invokes the wrapped function.
func (f *FuncSubscriber) Notify(pu feed.PriceUpdate) { f.fn(pu) }

// Subscription is the handle returned by Subscribe. Cancellation goes
// through the handle, so callers never need to retain the original
// Subscriber value for identity.
type Subscription struct {
	symbol   string
	sub      Subscriber
	released bool
}

// Symbol returns the symbol this handle is registered under.
func (s *Subscription) Symbol() string { return s.symbol }

// Manager owns exactly one exchange Adapter, caches last-known prices, and
// multiplexes price updates to per-symbol subscribers. One Manager exists
// per exchange; multiple scanners on the same exchange share it.
type Manager struct {
	exchange string
	adapter  feed.Adapter

	mu          sync.RWMutex
	initialized bool
	cache       map[string]float64
	subs        map[string]map[Subscriber]struct{}

	obsMu     sync.RWMutex
	observers []chan feed.PriceUpdate
	errObs    []chan error

	quit     chan struct{}
	quitOnce sync.Once
}

// NewManager creates a Manager around the given adapter and starts its
// event pump. Call Initialize to open the upstream connection.
func NewManager(exchange string, adapter feed.Adapter) *Manager {
	m := &Manager{
		exchange: exchange,
		adapter:  adapter,
		cache:    make(map[string]float64),
		subs:     make(map[string]map[Subscriber]struct{}),
		quit:     make(chan struct{}),
	}
	go m.run()
	return m
}

// Exchange returns the identifier this Manager serves.
func (m *Manager) Exchange() string { return m.exchange }

// Adapter exposes the owned adapter for health checks.
func (m *Manager) Adapter() feed.Adapter { return m.adapter }

// Initialize opens the upstream connection. It is idempotent: if already
// initialized and the adapter reports healthy, nothing happens.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	if m.initialized && m.adapter.Healthy() {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if err := m.adapter.Connect(ctx); err != nil {
		return fmt.Errorf("market %s: initialize: %w", m.exchange, err)
	}

	m.mu.Lock()
	m.initialized = true
	m.mu.Unlock()
	return nil
}

// Subscribe registers sub under symbol and returns a cancellation handle.
// Registering the same Subscriber twice for one symbol is idempotent: it
// yields a second handle over a single registry entry. The symbol's first
// subscriber triggers a best-effort upstream subscribe; failures are
// logged, not returned, so one symbol cannot poison a caller's whole set.
func (m *Manager) Subscribe(symbol string, sub Subscriber) *Subscription {
	m.mu.Lock()
	set, ok := m.subs[symbol]
	if !ok {
		set = make(map[Subscriber]struct{})
		m.subs[symbol] = set
	}
	first := len(set) == 0
	set[sub] = struct{}{}
	m.mu.Unlock()

	if first {
		if err := m.adapter.Subscribe(symbol); err != nil {
			log.Warn().Err(err).Str("exchange", m.exchange).Str("symbol", symbol).
				Msg("upstream subscribe failed")
		}
	}
	return &Subscription{symbol: symbol, sub: sub}
}

// Unsubscribe releases a handle. Releasing the symbol's last subscriber
// drops the registry entry and issues exactly one upstream unsubscribe.
// A nil or already-released handle is a no-op.
func (m *Manager) Unsubscribe(h *Subscription) {
	if h == nil {
		return
	}
	m.mu.Lock()
	if h.released {
		m.mu.Unlock()
		return
	}
	h.released = true
	set, ok := m.subs[h.symbol]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(set, h.sub)
	last := len(set) == 0
	if last {
		delete(m.subs, h.symbol)
	}
	m.mu.Unlock()

	if last {
		if err := m.adapter.Unsubscribe(h.symbol); err != nil {
			log.Warn().Err(err).Str("exchange", m.exchange).Str("symbol", h.symbol).
				Msg("upstream unsubscribe failed")
		}
	}
}

// GetPrice returns the last-known price for symbol.
func (m *Manager) GetPrice(symbol string) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.cache[symbol]
	return p, ok
}

// GetPrices returns the cached prices for the requested symbols. Symbols
// with no cached price are simply absent from the result.
func (m *Manager) GetPrices(symbols []string) map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]float64, len(symbols))
	for _, s := range symbols {
		if p, ok := m.cache[s]; ok {
			out[s] = p
		}
	}
	return out
}

// HasPrices reports whether every requested symbol has a cached price.
func (m *Manager) HasPrices(symbols []string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range symbols {
		if _, ok := m.cache[s]; !ok {
			return false
		}
	}
	return true
}

// Observe returns a channel carrying every price update this Manager
// forwards, for higher-level consumers. Slow observers drop.
func (m *Manager) Observe() <-chan feed.PriceUpdate {
	ch := make(chan feed.PriceUpdate, 256)
	m.obsMu.Lock()
	m.observers = append(m.observers, ch)
	m.obsMu.Unlock()
	return ch
}

// ObserveErrors returns a channel carrying fatal adapter errors.
func (m *Manager) ObserveErrors() <-chan error {
	ch := make(chan error, 4)
	m.obsMu.Lock()
	m.errObs = append(m.errObs, ch)
	m.obsMu.Unlock()
	return ch
}

// Cleanup disconnects the adapter and clears cache and registry. The
// Manager may be re-initialized afterwards.
func (m *Manager) Cleanup() {
	m.adapter.Disconnect()

	m.mu.Lock()
	m.initialized = false
	m.cache = make(map[string]float64)
	m.subs = make(map[string]map[Subscriber]struct{})
	m.mu.Unlock()
}

// close stops the event pump; used by the Registry when dropping a Manager.
func (m *Manager) close() {
	m.quitOnce.Do(func() { close(m.quit) })
}

// run is the event pump: every adapter update lands in the cache, then in
// every subscriber for its symbol, then in the manager-level observers.
func (m *Manager) run() {
	updates := m.adapter.Updates()
	errs := m.adapter.Errors()
	for {
		select {
		case <-m.quit:
			return
		case pu := <-updates:
			m.dispatch(pu)
		case err := <-errs:
			log.Error().Err(err).Str("exchange", m.exchange).Msg("adapter fatal error")
			m.obsMu.RLock()
			for _, ch := range m.errObs {
				select {
				case ch <- err:
				default:
				}
			}
			m.obsMu.RUnlock()
		}
	}
}

func (m *Manager) dispatch(pu feed.PriceUpdate) {
	m.mu.Lock()
	m.cache[pu.Symbol] = pu.Price
	set := m.subs[pu.Symbol]
	subs := make([]Subscriber, 0, len(set))
	for sub := range set {
		subs = append(subs, sub)
	}
	m.mu.Unlock()

	for _, sub := range subs {
		m.notify(sub, pu)
	}

	m.obsMu.RLock()
	for _, ch := range m.observers {
		select {
		case ch <- pu:
		default:
			// Slow observer — drop.
		}
	}
	m.obsMu.RUnlock()
}

// notify invokes one subscriber, recovering panics so a bad consumer
// cannot break fan-out to the others.
func (m *Manager) notify(sub Subscriber, pu feed.PriceUpdate) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("exchange", m.exchange).
				Str("symbol", pu.Symbol).Msg("subscriber panicked")
		}
	}()
	sub.Notify(pu)
}
