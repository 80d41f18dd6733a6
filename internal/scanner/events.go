package scanner

import "github.com/trigon-labs/trigon/internal/store"

// Event is the scanner's typed event stream. Consumers switch on the
// concrete type instead of inspecting string tags.
type Event interface {
	event()
}

// Started is emitted once a scan is live and subscribed.
type Started struct {
	Exchange      string
	UserID        string
	TriangleCount int
	SymbolCount   int
}

// Stopped is emitted after a scan has torn down its subscriptions.
type Stopped struct {
	Exchange string
	UserID   string
}

// Opportunity is emitted for every detection that clears the profit floor.
type Opportunity struct {
	Record store.Record
}

// FeedError is emitted when the underlying market feed fails fatally.
type FeedError struct {
	Exchange string
	Err      error
}

func (Started) event()     {}
func (Stopped) event()     {}
func (Opportunity) event() {}
func (FeedError) event()   {}
