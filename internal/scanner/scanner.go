// Package scanner orchestrates triangle discovery, price subscriptions,
// and debounced batch evaluation for one (user, exchange) scan.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/trigon-labs/trigon/internal/feed"
	"github.com/trigon-labs/trigon/internal/market"
	"github.com/trigon-labs/trigon/internal/profit"
	"github.com/trigon-labs/trigon/internal/store"
	"github.com/trigon-labs/trigon/internal/triangle"
)

// ErrNoTriangles is returned by Start when the filtered universe contains
// no cycle through the configured base asset.
var ErrNoTriangles = errors.New("no triangles through base asset")

// SymbolFilter screens a symbol universe; *liquidity.Filter satisfies it.
type SymbolFilter interface {
	Apply(ctx context.Context, symbols []string) []string
}

// Config carries the tuning knobs for one scan.
type Config struct {
	Exchange string
	UserID   string
	// BaseAsset is the asset every cycle must start and end in.
	BaseAsset string
	// Debounce delays batch evaluation after the first dirty mark, so a
	// burst of ticks costs one pass.
	Debounce time.Duration
	// Cooldown is the minimum gap between evaluations of one triangle.
	Cooldown time.Duration
	// MaxBatch caps triangles evaluated per pass; overflow is requeued.
	MaxBatch int
	// ProfitFloorPct is the realistic-profit floor for emitting, percent.
	ProfitFloorPct float64
	// PositionSize is the notional in base asset used for valuation.
	PositionSize float64
	// StreamCap bounds unique symbol subscriptions per connection.
	StreamCap int
	// OpportunityTTL is how long a stored detection stays live.
	OpportunityTTL time.Duration
	Costs          profit.Costs
}

// Stats aggregates same-day detection totals.
type Stats struct {
	Day           string
	Opportunities int
	// Profit is the summed realistic profit in base asset.
	Profit float64
}

// Scanner runs one scan over one exchange. Create with New, drive with
// Start/Stop. All exported methods are safe for concurrent use.
type Scanner struct {
	cfg     Config
	manager *market.Manager
	filter  SymbolFilter
	st      store.Store
	events  chan Event

	mu        sync.Mutex
	scanning  bool
	triangles map[string]triangle.Triangle
	bySymbol  map[string][]string // symbol -> triangle IDs
	dirty     map[string]struct{}
	queue     []string // dirty IDs in mark order
	lastEval  map[string]time.Time
	timer     *time.Timer
	handles   []*market.Subscription
	stopCh    chan struct{}
	stats     Stats

	nowFunc func() time.Time
}

// New builds a Scanner. filter may be nil to skip liquidity screening; st
// may be nil to skip persistence.
func New(cfg Config, manager *market.Manager, filter SymbolFilter, st store.Store) *Scanner {
	return &Scanner{
		cfg:       cfg,
		manager:   manager,
		filter:    filter,
		st:        st,
		events:    make(chan Event, 64),
		triangles: make(map[string]triangle.Triangle),
		bySymbol:  make(map[string][]string),
		dirty:     make(map[string]struct{}),
		lastEval:  make(map[string]time.Time),
		nowFunc:   time.Now,
	}
}

// Events returns the scanner's event stream. Slow consumers drop events;
// the stream is advisory, the store is the durable record.
func (s *Scanner) Events() <-chan Event { return s.events }

// Scanning reports whether a scan is live.
func (s *Scanner) Scanning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scanning
}

// StatsToday returns the running same-day totals.
func (s *Scanner) StatsToday() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Start brings the scan live: screens the universe, discovers triangles
// through the base asset, trims to the stream cap, and subscribes every
// remaining symbol. Start on a live scanner is a no-op returning nil.
func (s *Scanner) Start(ctx context.Context, universe []string) error {
	s.mu.Lock()
	if s.scanning {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	symbols := universe
	if s.filter != nil {
		symbols = s.filter.Apply(ctx, universe)
	}

	tris := triangle.FilterByBaseAsset(triangle.Discover(symbols), s.cfg.BaseAsset)
	if len(tris) == 0 {
		return fmt.Errorf("%w %q on %s", ErrNoTriangles, s.cfg.BaseAsset, s.cfg.Exchange)
	}

	if err := s.manager.Initialize(ctx); err != nil {
		return fmt.Errorf("scan %s: %w", s.cfg.Exchange, err)
	}

	kept, symbolSet := trimToCap(tris, s.cfg.StreamCap)
	if len(kept) == 0 {
		return fmt.Errorf("%w %q on %s after stream-cap trim", ErrNoTriangles, s.cfg.BaseAsset, s.cfg.Exchange)
	}

	s.mu.Lock()
	if s.scanning {
		s.mu.Unlock()
		return nil
	}
	for _, t := range kept {
		id := t.ID()
		s.triangles[id] = t
		for _, sym := range t.Symbols {
			s.bySymbol[sym] = append(s.bySymbol[sym], id)
		}
	}
	s.stopCh = make(chan struct{})
	s.scanning = true
	stopCh := s.stopCh
	s.mu.Unlock()

	sub := market.Func(s.onPrice)
	handles := make([]*market.Subscription, 0, len(symbolSet))
	for _, sym := range symbolSet {
		handles = append(handles, s.manager.Subscribe(sym, sub))
	}
	s.mu.Lock()
	if !s.scanning {
		// Stopped while subscriptions were going out; release them.
		s.mu.Unlock()
		for _, h := range handles {
			s.manager.Unsubscribe(h)
		}
		return nil
	}
	s.handles = handles
	s.mu.Unlock()

	go s.watchFeed(stopCh)

	log.Info().Str("exchange", s.cfg.Exchange).Str("user", s.cfg.UserID).
		Int("triangles", len(kept)).Int("symbols", len(symbolSet)).
		Msg("scan started")
	s.emit(Started{
		Exchange:      s.cfg.Exchange,
		UserID:        s.cfg.UserID,
		TriangleCount: len(kept),
		SymbolCount:   len(symbolSet),
	})
	return nil
}

// Stop tears the scan down: cancels any pending evaluation, releases every
// symbol subscription, and clears triangle state. Stop while idle is a
// no-op.
func (s *Scanner) Stop() {
	s.mu.Lock()
	if !s.scanning {
		s.mu.Unlock()
		return
	}
	s.scanning = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	handles := s.handles
	s.handles = nil
	s.triangles = make(map[string]triangle.Triangle)
	s.bySymbol = make(map[string][]string)
	s.dirty = make(map[string]struct{})
	s.queue = nil
	s.lastEval = make(map[string]time.Time)
	close(s.stopCh)
	s.mu.Unlock()

	for _, h := range handles {
		s.manager.Unsubscribe(h)
	}

	log.Info().Str("exchange", s.cfg.Exchange).Str("user", s.cfg.UserID).Msg("scan stopped")
	s.emit(Stopped{Exchange: s.cfg.Exchange, UserID: s.cfg.UserID})
}

// trimToCap greedily keeps triangles, in discovery order, whose symbols fit
// within cap unique subscriptions. Later triangles fully covered by symbols
// already kept always fit.
func trimToCap(tris []triangle.Triangle, limit int) ([]triangle.Triangle, []string) {
	if limit <= 0 {
		syms := triangle.UniqueSymbols(tris)
		return tris, syms
	}
	seen := make(map[string]struct{})
	var kept []triangle.Triangle
	var syms []string
	for _, t := range tris {
		fresh := 0
		for _, sym := range t.Symbols {
			if _, ok := seen[sym]; !ok {
				fresh++
			}
		}
		if len(seen)+fresh > limit {
			continue
		}
		kept = append(kept, t)
		for _, sym := range t.Symbols {
			if _, ok := seen[sym]; !ok {
				seen[sym] = struct{}{}
				syms = append(syms, sym)
			}
		}
	}
	return kept, syms
}

// onPrice marks every triangle trading the updated symbol dirty and arms
// the debounce timer if no pass is pending.
func (s *Scanner) onPrice(pu feed.PriceUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.scanning {
		return
	}
	for _, id := range s.bySymbol[pu.Symbol] {
		s.markDirtyLocked(id)
	}
	s.armTimerLocked()
}

func (s *Scanner) markDirtyLocked(id string) {
	if _, ok := s.dirty[id]; ok {
		return
	}
	s.dirty[id] = struct{}{}
	s.queue = append(s.queue, id)
}

func (s *Scanner) armTimerLocked() {
	if s.timer != nil || len(s.queue) == 0 {
		return
	}
	s.timer = time.AfterFunc(s.cfg.Debounce, s.evaluateBatch)
}

// evaluateBatch runs one debounced pass: snapshot and clear the dirty
// queue, requeue cooled-down and over-cap triangles, evaluate the rest.
func (s *Scanner) evaluateBatch() {
	s.mu.Lock()
	if !s.scanning {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	now := s.nowFunc()

	batch := make([]triangle.Triangle, 0, s.cfg.MaxBatch)
	var requeue []string
	for _, id := range s.queue {
		if len(batch) >= s.cfg.MaxBatch && s.cfg.MaxBatch > 0 {
			// Over the cap: keep for the next pass, never drop.
			requeue = append(requeue, id)
			continue
		}
		if last, ok := s.lastEval[id]; ok && now.Sub(last) < s.cfg.Cooldown {
			requeue = append(requeue, id)
			continue
		}
		t, ok := s.triangles[id]
		if !ok {
			continue
		}
		batch = append(batch, t)
	}
	s.queue = nil
	s.dirty = make(map[string]struct{})
	for _, id := range requeue {
		s.markDirtyLocked(id)
	}
	s.armTimerLocked()
	s.mu.Unlock()

	for _, t := range batch {
		s.evaluate(t, now)
	}
}

// evaluate values one triangle against the price cache. Triangles still
// warming up (a leg without a cached price) are skipped silently; the next
// tick on the missing leg re-marks them.
func (s *Scanner) evaluate(t triangle.Triangle, now time.Time) {
	prices := s.manager.GetPrices(t.Symbols[:])
	if len(prices) < len(t.Symbols) {
		return
	}
	// Past warm-up: stamp whatever the outcome, so an unprofitable
	// triangle still cools down.
	s.mu.Lock()
	s.lastEval[t.ID()] = now
	s.mu.Unlock()

	legs := profit.Legs{Prices: [3]float64{
		prices[t.Symbols[0]],
		prices[t.Symbols[1]],
		prices[t.Symbols[2]],
	}}

	opt := profit.Optimal(s.cfg.PositionSize, t, legs)
	if opt == nil {
		return
	}
	real := profit.Realistic(s.cfg.PositionSize, t, legs, s.cfg.Costs)
	if real == nil || real.ProfitPercent < s.cfg.ProfitFloorPct {
		return
	}

	rec := store.Record{
		ID:            t.ID(),
		Exchange:      s.cfg.Exchange,
		UserID:        s.cfg.UserID,
		Symbols:       t.Symbols,
		Direction:     real.Direction,
		ProfitPercent: real.ProfitPercent,
		ProfitAmount:  real.ProfitAmount,
		PositionSize:  s.cfg.PositionSize,
		Prices:        legs.Prices,
		DetectedAt:    now,
		ExpiresAt:     now.Add(s.cfg.OpportunityTTL),
	}
	s.record(rec, now)

	log.Info().Str("exchange", s.cfg.Exchange).Str("triangle", rec.ID).
		Str("direction", rec.Direction).Float64("profit_pct", rec.ProfitPercent).
		Msg("opportunity detected")
	s.emit(Opportunity{Record: rec})
}

// record persists a detection, sweeps expired records, and rolls the
// same-day stats. Store failures are logged, never fatal to the scan.
func (s *Scanner) record(rec store.Record, now time.Time) {
	if s.st != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.st.Create(ctx, rec); err != nil {
			log.Error().Err(err).Str("triangle", rec.ID).Msg("persist opportunity failed")
		}
		if n, err := s.st.DeleteExpired(ctx, now); err != nil {
			log.Warn().Err(err).Msg("expiry sweep failed")
		} else if n > 0 {
			log.Debug().Int("removed", n).Msg("swept expired opportunities")
		}
	}

	day := now.Format("2006-01-02")
	s.mu.Lock()
	if s.stats.Day != day {
		s.stats = Stats{Day: day}
	}
	s.stats.Opportunities++
	s.stats.Profit += rec.ProfitAmount
	s.mu.Unlock()
}

// watchFeed forwards fatal feed errors for the life of one scan run.
func (s *Scanner) watchFeed(stopCh chan struct{}) {
	errs := s.manager.ObserveErrors()
	for {
		select {
		case <-stopCh:
			return
		case err, ok := <-errs:
			if !ok {
				return
			}
			s.emit(FeedError{Exchange: s.cfg.Exchange, Err: err})
		}
	}
}

func (s *Scanner) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		log.Warn().Str("exchange", s.cfg.Exchange).
			Type("event", ev).Msg("event consumer lagging, dropped")
	}
}
