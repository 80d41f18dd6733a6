package feed

import (
	"sync"
	"time"
)

// SubOp distinguishes subscribe from unsubscribe requests in the batch queue.
type SubOp int

const (
	OpSubscribe SubOp = iota
	OpUnsubscribe
)

// SubRequest is one queued (un)subscription for a single symbol.
type SubRequest struct {
	Symbol string
	Op     SubOp
}

// BatchConfig bounds outgoing subscription traffic. Exchanges cap the number
// of streams per request and rate-limit control messages, so requests are
// chunked to Size with Delay between chunks; Flush is the trailing quiet
// period after which a partial chunk is sent anyway.
type BatchConfig struct {
	Size  int
	Delay time.Duration
	Flush time.Duration
}

// DefaultBatchConfig returns limits safe for the exchanges shipped here.
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		Size:  50,
		Delay: 250 * time.Millisecond,
		Flush: 500 * time.Millisecond,
	}
}

// Batcher coalesces symbol (un)subscription requests into bounded wire
// batches. Each flush drains the longest head run of same-op requests, up to
// the chunk size, and hands it to the adapter's send function; remaining
// requests are rescheduled after the inter-batch delay. A trailing debounce
// flush guarantees a final partial batch is never left unsent.
type Batcher struct {
	cfg  BatchConfig
	send func(symbols []string, op SubOp)

	mu      sync.Mutex
	pending []SubRequest
	timer   *time.Timer
	stopped bool
}

// NewBatcher creates a Batcher. send is invoked outside the Batcher's lock
// with at most cfg.Size symbols per call.
func NewBatcher(cfg BatchConfig, send func(symbols []string, op SubOp)) *Batcher {
	if cfg.Size <= 0 {
		cfg.Size = DefaultBatchConfig().Size
	}
	return &Batcher{cfg: cfg, send: send}
}

// Add queues one request. A full chunk flushes immediately; otherwise the
// trailing flush timer is (re)armed.
func (b *Batcher) Add(symbol string, op SubOp) {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.pending = append(b.pending, SubRequest{Symbol: symbol, Op: op})
	full := len(b.pending) >= b.cfg.Size
	if full {
		b.mu.Unlock()
		b.flush()
		return
	}
	b.arm(b.cfg.Flush)
	b.mu.Unlock()
}

// Remove drops any still-queued request for symbol, so an unsubscribe that
// races a queued subscribe does not produce a stray wire message.
func (b *Batcher) Remove(symbol string) {
	b.mu.Lock()
	kept := b.pending[:0]
	for _, r := range b.pending {
		if r.Symbol != symbol {
			kept = append(kept, r)
		}
	}
	b.pending = kept
	b.mu.Unlock()
}

// Pending returns the number of queued requests.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Stop cancels any armed timer and discards queued requests.
func (b *Batcher) Stop() {
	b.mu.Lock()
	b.stopped = true
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.pending = nil
	b.mu.Unlock()
}

// arm schedules a flush after d, replacing any earlier schedule. Caller
// holds b.mu.
func (b *Batcher) arm(d time.Duration) {
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(d, b.flush)
}

func (b *Batcher) flush() {
	b.mu.Lock()
	if b.stopped || len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}

	op := b.pending[0].Op
	n := 0
	for n < len(b.pending) && n < b.cfg.Size && b.pending[n].Op == op {
		n++
	}
	chunk := make([]string, 0, n)
	for _, r := range b.pending[:n] {
		chunk = append(chunk, r.Symbol)
	}
	b.pending = append(b.pending[:0], b.pending[n:]...)

	if len(b.pending) > 0 {
		b.arm(b.cfg.Delay)
	} else if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.mu.Unlock()

	b.send(chunk, op)
}
