// Package bybit implements the Bybit v5 public spot tickers stream.
//
// Wire conventions: topics are "tickers.BTCUSDT"; subscription management
// uses op/args envelopes capped at 10 args per request; keep-alive is an
// application-level {"op":"ping"} frame.
package bybit

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
	wsURL = "wss://stream.bybit.com/v5/public/spot"

	// Bybit rejects subscription requests with more than 10 args.
	batchSize  = 10
	batchDelay = 250 * time.Millisecond
	batchFlush = 500 * time.Millisecond

	keepAliveInterval = 20 * time.Second

	topicPrefix = "tickers."
)

type request struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

type rawMessage struct {
	Op      string `json:"op"`
	Success *bool  `json:"success"`
	RetMsg  string `json:"ret_msg"`
	Topic   string `json:"topic"`
	Ts      int64  `json:"ts"`
	Data    *struct {
		Symbol    string `json:"symbol"`
		LastPrice string `json:"lastPrice"`
	} `json:"data"`
}

// Protocol translates between canonical BASE/QUOTE symbols and Bybit
// topics, remembering the wire→canonical mapping for inbound events.
type Protocol struct {
	mu        sync.Mutex
	canonical map[string]string
}

// New creates a Bybit adapter using the given transport configuration.
func New(wsCfg feed.WSConfig) *feed.Session {
	return feed.NewSession(NewProtocol(), wsCfg)
}

// NewProtocol creates the bare wire codec; most callers want New.
func NewProtocol() *Protocol {
	return &Protocol{canonical: make(map[string]string)}
}

func (p *Protocol) Name() string { return "bybit" }
func (p *Protocol) URL() string  { return wsURL }

func (p *Protocol) KeepAlive() feed.KeepAlive {
	return feed.KeepAlive{
		Interval: keepAliveInterval,
		Frame: func() []byte {
			frame, _ := json.Marshal(request{Op: "ping"})
			return frame
		},
	}
}

func (p *Protocol) Batch() feed.BatchConfig {
	return feed.BatchConfig{Size: batchSize, Delay: batchDelay, Flush: batchFlush}
}

func (p *Protocol) EncodeSubscribe(symbols []string) [][]byte {
	return p.encode("subscribe", symbols)
}

func (p *Protocol) EncodeUnsubscribe(symbols []string) [][]byte {
	return p.encode("unsubscribe", symbols)
}

func (p *Protocol) encode(op string, symbols []string) [][]byte {
	args := make([]string, 0, len(symbols))
	p.mu.Lock()
	for _, sym := range symbols {
		wire := wireSymbol(sym)
		p.canonical[wire] = sym
		args = append(args, topicPrefix+wire)
	}
	p.mu.Unlock()

	frame, _ := json.Marshal(request{Op: op, Args: args})
	return [][]byte{frame}
}

// Decode parses one inbound frame. Pongs, acks, and non-ticker topics yield
// nil; failed subscription acks are logged.
func (p *Protocol) Decode(frame []byte) []feed.PriceUpdate {
	var m rawMessage
	if err := json.Unmarshal(frame, &m); err != nil {
		log.Debug().Err(err).Str("exchange", "bybit").Msg("unparseable frame")
		return nil
	}
	if m.Op == "pong" || m.RetMsg == "pong" {
		return nil
	}
	if m.Success != nil {
		if !*m.Success {
			log.Warn().Str("exchange", "bybit").Str("op", m.Op).Str("ret_msg", m.RetMsg).
				Msg("subscription request rejected")
		}
		return nil
	}
	if !strings.HasPrefix(m.Topic, topicPrefix) || m.Data == nil {
		return nil
	}

	price, err := strconv.ParseFloat(m.Data.LastPrice, 64)
	if err != nil || price <= 0 {
		return nil
	}

	wire := m.Data.Symbol
	if wire == "" {
		wire = strings.TrimPrefix(m.Topic, topicPrefix)
	}

	ts := m.Ts
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}

	return []feed.PriceUpdate{{
		Symbol:    p.canonicalSymbol(wire),
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
