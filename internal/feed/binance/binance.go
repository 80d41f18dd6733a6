// Package binance implements the Binance spot ticker stream.
//
// Wire conventions: stream names are lowercase concatenated symbols with a
// "@ticker" suffix (btcusdt@ticker); subscription management uses the
// SUBSCRIBE/UNSUBSCRIBE method envelope; the server expects transport-level
// ping frames for keep-alive.
package binance

import (
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/trigon-labs/trigon/internal/feed"
)

const (
	wsURL = "wss://stream.binance.com:9443/ws"

	// Binance caps control messages at 5/s and streams at 1024 per
	// connection; 50 streams per request with a 300ms gap stays well under.
	batchSize  = 50
	batchDelay = 300 * time.Millisecond
	batchFlush = 500 * time.Millisecond

	// The server drops connections that stay silent; a transport ping
	// every 3 minutes keeps the session alive.
	keepAliveInterval = 3 * time.Minute
)

// request is the Binance stream-management envelope.
type request struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

// rawTicker is the 24h rolling ticker event; C is the last traded price.
type rawTicker struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	LastPrice string `json:"c"`
}

// streamEnvelope wraps events delivered over combined streams.
type streamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// Protocol translates between canonical BASE/QUOTE symbols and the Binance
// wire format. It remembers the wire→canonical mapping for every symbol it
// has encoded so inbound events map back without guessing quote suffixes.
type Protocol struct {
	mu        sync.Mutex
	canonical map[string]string // wire symbol → canonical
	nextID    int64
}

// New creates a Binance adapter using the given transport configuration.
func New(wsCfg feed.WSConfig) *feed.Session {
	return feed.NewSession(NewProtocol(), wsCfg)
}

// NewProtocol creates the bare wire codec; most callers want New.
func NewProtocol() *Protocol {
	return &Protocol{canonical: make(map[string]string)}
}

func (p *Protocol) Name() string { return "binance" }
func (p *Protocol) URL() string  { return wsURL }

func (p *Protocol) KeepAlive() feed.KeepAlive {
	return feed.KeepAlive{Interval: keepAliveInterval}
}

func (p *Protocol) Batch() feed.BatchConfig {
	return feed.BatchConfig{Size: batchSize, Delay: batchDelay, Flush: batchFlush}
}

// EncodeSubscribe builds one SUBSCRIBE frame for a chunk of symbols.
func (p *Protocol) EncodeSubscribe(symbols []string) [][]byte {
	return p.encode("SUBSCRIBE", symbols)
}

// EncodeUnsubscribe builds one UNSUBSCRIBE frame for a chunk of symbols.
func (p *Protocol) EncodeUnsubscribe(symbols []string) [][]byte {
	return p.encode("UNSUBSCRIBE", symbols)
}

func (p *Protocol) encode(method string, symbols []string) [][]byte {
	params := make([]string, 0, len(symbols))
	p.mu.Lock()
	for _, sym := range symbols {
		wire := wireSymbol(sym)
		p.canonical[wire] = sym
		params = append(params, strings.ToLower(wire)+"@ticker")
	}
	p.nextID++
	id := p.nextID
	p.mu.Unlock()

	frame, _ := json.Marshal(request{Method: method, Params: params, ID: id})
	return [][]byte{frame}
}

// Decode parses one inbound frame into ticker updates. Acks and unknown
// event types yield nil.
func (p *Protocol) Decode(frame []byte) []feed.PriceUpdate {
	raw := frame
	var env streamEnvelope
	if err := json.Unmarshal(frame, &env); err == nil && env.Stream != "" {
		raw = env.Data
	}

	var ev rawTicker
	if err := json.Unmarshal(raw, &ev); err != nil {
		log.Debug().Err(err).Str("exchange", "binance").Msg("unparseable frame")
		return nil
	}
	if ev.EventType != "24hrTicker" || ev.Symbol == "" {
		// Subscription acks ({"result":null,"id":N}) and other events.
		return nil
	}

	price, err := strconv.ParseFloat(ev.LastPrice, 64)
	if err != nil || price <= 0 {
		log.Debug().Str("exchange", "binance").Str("symbol", ev.Symbol).
			Str("last", ev.LastPrice).Msg("bad ticker price")
		return nil
	}

	ts := ev.EventTime
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}

	return []feed.PriceUpdate{{
		Symbol:    p.canonicalSymbol(ev.Symbol),
		Price:     price,
		Timestamp: ts,
	}}
}

func (p *Protocol) canonicalSymbol(wire string) string {
	p.mu.Lock()
	sym, ok := p.canonical[wire]
	p.mu.Unlock()
	if ok {
		return sym
	}
	return wire
}

// wireSymbol strips the canonical separator: BTC/USDT → BTCUSDT.
func wireSymbol(sym string) string {
	return strings.ToUpper(strings.ReplaceAll(sym, "/", ""))
}
