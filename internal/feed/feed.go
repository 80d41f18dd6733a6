package feed

import "context"

// PriceUpdate is the canonical ticker event every exchange wire protocol is
// normalised to. Symbols use the BASE/QUOTE form, e.g. "BTC/USDT"; each
// adapter owns the translation to and from its exchange's wire format.
type PriceUpdate struct {
	Symbol    string
	Price     float64
	Timestamp int64 // unix milliseconds
}

// Adapter is the interface every exchange streaming connection implements.
// An Adapter owns exactly one connection; the market-data manager that owns
// the Adapter consumes Updates and Errors.
type Adapter interface {
	Name() string

	// Connect opens the streaming connection. It blocks until the
	// handshake completes or ctx is cancelled. Subscriptions requested
	// while disconnected are flushed on success.
	Connect(ctx context.Context) error

	// Disconnect tears the connection down and stops all timers. The
	// Adapter does not reconnect after Disconnect.
	Disconnect()

	// Subscribe and Unsubscribe are best-effort: while disconnected the
	// request is queued and replayed on connect.
	Subscribe(symbol string) error
	Unsubscribe(symbol string) error

	// Healthy reports whether the underlying transport is open.
	Healthy() bool

	// Updates is the stream of normalised ticker events.
	Updates() <-chan PriceUpdate

	// Errors carries fatal transport errors only: reconnection is handled
	// internally, and a value arrives here once backoff is exhausted.
	Errors() <-chan error
}

// State is the lifecycle of a streaming connection.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}
