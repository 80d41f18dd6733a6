package feed

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// Protocol is the exchange-specific half of an Adapter: endpoint, heartbeat
// cadence, batching limits, and the wire codec. Implementations live in the
// per-exchange subpackages.
type Protocol interface {
	Name() string
	URL() string
	KeepAlive() KeepAlive
	Batch() BatchConfig

	// EncodeSubscribe and EncodeUnsubscribe translate a chunk of canonical
	// symbols into one or more wire frames.
	EncodeSubscribe(symbols []string) [][]byte
	EncodeUnsubscribe(symbols []string) [][]byte

	// Decode parses one inbound frame. Frames that are not ticker data
	// (acks, pongs, exchange errors, malformed payloads) yield nil; they
	// are logged by the protocol and never propagate as price data.
	Decode(frame []byte) []PriceUpdate
}

// Session implements the Adapter lifecycle shared by every exchange: the
// remembered symbol set, the queue of requests made while disconnected,
// outgoing batch chunking, and resubscription after reconnects. The wire
// protocol is delegated to a Protocol.
type Session struct {
	proto Protocol
	wsCfg WSConfig

	updates chan PriceUpdate
	errs    chan error

	mu        sync.Mutex
	ws        *WSClient
	batcher   *Batcher
	connected bool
	// subscribed is the remembered symbol set replayed on every reconnect,
	// including symbols whose subscribe was still queued when the
	// connection dropped.
	subscribed map[string]struct{}
	queued     []SubRequest
}

// NewSession creates an Adapter for the given protocol. wsCfg.URL and
// wsCfg.KeepAlive are taken from the protocol.
func NewSession(proto Protocol, wsCfg WSConfig) *Session {
	wsCfg.URL = proto.URL()
	wsCfg.KeepAlive = proto.KeepAlive()
	return &Session{
		proto:      proto,
		wsCfg:      wsCfg,
		updates:    make(chan PriceUpdate, 1024),
		errs:       make(chan error, 16),
		subscribed: make(map[string]struct{}),
	}
}

func (s *Session) Name() string                { return s.proto.Name() }
func (s *Session) Updates() <-chan PriceUpdate { return s.updates }
func (s *Session) Errors() <-chan error        { return s.errs }

// Healthy reports whether the underlying transport is open.
func (s *Session) Healthy() bool {
	s.mu.Lock()
	ws := s.ws
	connected := s.connected
	s.mu.Unlock()
	return connected && ws != nil && ws.Healthy()
}

// Connect opens the streaming connection and flushes any subscriptions
// queued while disconnected. Connecting an already-connected session is a
// no-op.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.connected {
		s.mu.Unlock()
		return nil
	}

	ws := NewWSClient(s.wsCfg)
	ws.OnReconnect = s.resubscribeAll
	batcher := NewBatcher(s.proto.Batch(), func(symbols []string, op SubOp) {
		s.sendChunk(ws, symbols, op)
	})

	// The raw stream must be claimed before the first frame arrives.
	raw := ws.Subscribe()
	s.mu.Unlock()

	if err := ws.Connect(ctx); err != nil {
		return fmt.Errorf("%s: %w", s.proto.Name(), err)
	}

	s.mu.Lock()
	s.ws = ws
	s.batcher = batcher
	s.connected = true
	queued := s.queued
	s.queued = nil
	s.mu.Unlock()

	go s.readPump(raw)
	go s.watchFatal(ws)

	for _, r := range queued {
		batcher.Add(r.Symbol, r.Op)
	}

	log.Info().Str("exchange", s.proto.Name()).Int("replayed", len(queued)).Msg("feed connected")
	return nil
}

// Disconnect tears the connection down. The remembered symbol set survives,
// so a later Connect resubscribes everything.
func (s *Session) Disconnect() {
	s.mu.Lock()
	ws := s.ws
	batcher := s.batcher
	s.ws = nil
	s.batcher = nil
	s.connected = false
	s.mu.Unlock()

	if batcher != nil {
		batcher.Stop()
	}
	if ws != nil {
		ws.Close()
	}
	log.Info().Str("exchange", s.proto.Name()).Msg("feed disconnected")
}

// Subscribe registers interest in a symbol. While disconnected the request
// is queued and replayed on connect. Subscribing an already-subscribed
// symbol has no effect.
func (s *Session) Subscribe(symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subscribed[symbol]; ok {
		return nil
	}
	s.subscribed[symbol] = struct{}{}

	if !s.connected {
		s.queued = append(s.queued, SubRequest{Symbol: symbol, Op: OpSubscribe})
		return nil
	}
	s.batcher.Add(symbol, OpSubscribe)
	return nil
}

// Unsubscribe removes interest in a symbol.
func (s *Session) Unsubscribe(symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subscribed[symbol]; !ok {
		return nil
	}
	delete(s.subscribed, symbol)

	if !s.connected {
		kept := s.queued[:0]
		for _, r := range s.queued {
			if r.Symbol != symbol {
				kept = append(kept, r)
			}
		}
		s.queued = kept
		return nil
	}
	// A subscribe still sitting in the batch queue must not go out.
	s.batcher.Remove(symbol)
	s.batcher.Add(symbol, OpUnsubscribe)
	return nil
}

// SubscribedSymbols returns a snapshot of the remembered symbol set.
func (s *Session) SubscribedSymbols() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.subscribed))
	for sym := range s.subscribed {
		out = append(out, sym)
	}
	return out
}

// resubscribeAll replays the remembered symbol set after a reconnect. Any
// requests still queued in the batcher are stale for the new connection.
func (s *Session) resubscribeAll() {
	s.mu.Lock()
	batcher := s.batcher
	symbols := make([]string, 0, len(s.subscribed))
	for sym := range s.subscribed {
		symbols = append(symbols, sym)
	}
	s.mu.Unlock()

	if batcher == nil {
		return
	}
	for _, sym := range symbols {
		batcher.Remove(sym)
	}
	for _, sym := range symbols {
		batcher.Add(sym, OpSubscribe)
	}
	log.Info().Str("exchange", s.proto.Name()).Int("symbols", len(symbols)).Msg("resubscribed after reconnect")
}

func (s *Session) sendChunk(ws *WSClient, symbols []string, op SubOp) {
	var frames [][]byte
	if op == OpSubscribe {
		frames = s.proto.EncodeSubscribe(symbols)
	} else {
		frames = s.proto.EncodeUnsubscribe(symbols)
	}
	for _, f := range frames {
		ws.Send(f)
	}
}

// readPump decodes raw frames into price updates. It exits when the raw
// channel is closed by WSClient.Close.
func (s *Session) readPump(raw <-chan []byte) {
	for frame := range raw {
		for _, pu := range s.proto.Decode(frame) {
			select {
			case s.updates <- pu:
			default:
				log.Debug().Str("exchange", s.proto.Name()).Str("symbol", pu.Symbol).
					Msg("updates channel full, dropping tick")
			}
		}
	}
}

// watchFatal surfaces the transport's single unrecoverable error as this
// adapter's fatal error event.
func (s *Session) watchFatal(ws *WSClient) {
	err, ok := <-ws.Fatal()
	if !ok {
		return
	}

	s.mu.Lock()
	if s.ws == ws {
		s.connected = false
	}
	s.mu.Unlock()

	select {
	case s.errs <- fmt.Errorf("%s: %w", s.proto.Name(), err):
	default:
	}
}
