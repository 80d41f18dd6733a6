package scanner

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// scanKey identifies one scan slot: a user runs at most one scan per
// exchange.
type scanKey struct {
	userID   string
	exchange string
}

// Factory builds a Scanner for a (user, exchange) slot.
type Factory func(userID, exchange string) (*Scanner, error)

// Supervisor owns the live scanners. Starting a slot that is already
// running stops the old scanner first and replaces it.
type Supervisor struct {
	factory Factory

	mu       sync.Mutex
	scanners map[scanKey]*Scanner
}

func NewSupervisor(factory Factory) *Supervisor {
	return &Supervisor{
		factory:  factory,
		scanners: make(map[scanKey]*Scanner),
	}
}

// Start creates and starts a scanner for the slot, replacing any existing
// one. The returned Scanner is live on success.
func (sv *Supervisor) Start(ctx context.Context, userID, exchange string, universe []string) (*Scanner, error) {
	key := scanKey{userID: userID, exchange: strings.ToLower(exchange)}

	sv.mu.Lock()
	old := sv.scanners[key]
	delete(sv.scanners, key)
	sv.mu.Unlock()

	if old != nil {
		log.Info().Str("user", userID).Str("exchange", key.exchange).
			Msg("replacing running scan")
		old.Stop()
	}

	sc, err := sv.factory(userID, key.exchange)
	if err != nil {
		return nil, err
	}
	if err := sc.Start(ctx, universe); err != nil {
		return nil, err
	}

	sv.mu.Lock()
	sv.scanners[key] = sc
	sv.mu.Unlock()
	return sc, nil
}

// Get returns the live scanner for the slot, if any.
func (sv *Supervisor) Get(userID, exchange string) (*Scanner, bool) {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	sc, ok := sv.scanners[scanKey{userID: userID, exchange: strings.ToLower(exchange)}]
	return sc, ok
}

// Stop stops and drops the slot's scanner. Reports whether one was running.
func (sv *Supervisor) Stop(userID, exchange string) bool {
	key := scanKey{userID: userID, exchange: strings.ToLower(exchange)}

	sv.mu.Lock()
	sc, ok := sv.scanners[key]
	delete(sv.scanners, key)
	sv.mu.Unlock()

	if !ok {
		return false
	}
	sc.Stop()
	return true
}

// StopAll stops every live scanner; used on shutdown.
func (sv *Supervisor) StopAll() {
	sv.mu.Lock()
	all := make([]*Scanner, 0, len(sv.scanners))
	for _, sc := range sv.scanners {
		all = append(all, sc)
	}
	sv.scanners = make(map[scanKey]*Scanner)
	sv.mu.Unlock()

	for _, sc := range all {
		sc.Stop()
	}
}
