// Package okx implements the OKX v5 public tickers stream.
//
// Wire conventions: instIds are dash-separated (BTC-USDT) on the "tickers"
// channel; subscription management uses op/args envelopes; keep-alive is an
// application-level "ping" text frame answered by "pong".
package okx

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/trigon-labs/trigon/internal/feed"
)

const (
	wsURL = "wss://ws.okx.com:8443/ws/v5/public"

	batchSize  = 20
	batchDelay = 250 * time.Millisecond
	batchFlush = 500 * time.Millisecond

	// OKX disconnects clients silent for 30s.
	keepAliveInterval = 20 * time.Second
)

type subArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

type request struct {
	Op   string   `json:"op"`
	Args []subArg `json:"args"`
}

type rawMessage struct {
	Event string `json:"event"`
	Code  string `json:"code"`
	Msg   string `json:"msg"`
	Arg   *subArg `json:"arg"`
	Data  []struct {
		InstID string `json:"instId"`
		Last   string `json:"last"`
		Ts     string `json:"ts"`
	} `json:"data"`
}

// Protocol translates between canonical BASE/QUOTE symbols and OKX instIds.
type Protocol struct{}

// New creates an OKX adapter using the given transport configuration.
func New(wsCfg feed.WSConfig) *feed.Session {
	return feed.NewSession(Protocol{}, wsCfg)
}

func (Protocol) Name() string { return "okx" }
func (Protocol) URL() string  { return wsURL }

func (Protocol) KeepAlive() feed.KeepAlive {
	return feed.KeepAlive{
		Interval: keepAliveInterval,
		Frame:    func() []byte { return []byte("ping") },
	}
}

func (Protocol) Batch() feed.BatchConfig {
	return feed.BatchConfig{Size: batchSize, Delay: batchDelay, Flush: batchFlush}
}

func (Protocol) EncodeSubscribe(symbols []string) [][]byte {
	return encode("subscribe", symbols)
}

func (Protocol) EncodeUnsubscribe(symbols []string) [][]byte {
	return encode("unsubscribe", symbols)
}

func encode(op string, symbols []string) [][]byte {
	args := make([]subArg, 0, len(symbols))
	for _, sym := range symbols {
		args = append(args, subArg{Channel: "tickers", InstID: wireSymbol(sym)})
	}
	frame, _ := json.Marshal(request{Op: op, Args: args})
	return [][]byte{frame}
}

// Decode parses one inbound frame. Pongs, acks, and exchange error events
// yield nil; error events are logged.
func (Protocol) Decode(frame []byte) []feed.PriceUpdate {
	if string(frame) == "pong" {
		return nil
	}

	var m rawMessage
	if err := json.Unmarshal(frame, &m); err != nil {
		log.Debug().Err(err).Str("exchange", "okx").Msg("unparseable frame")
		return nil
	}
	if m.Event == "error" || (m.Code != "" && m.Code != "0") {
		log.Warn().Str("exchange", "okx").Str("code", m.Code).Str("msg", m.Msg).
			Msg("exchange error event")
		return nil
	}
	if m.Arg == nil || m.Arg.Channel != "tickers" || len(m.Data) == 0 {
		// Subscription acks and other channels.
		return nil
	}

	out := make([]feed.PriceUpdate, 0, len(m.Data))
	for _, d := range m.Data {
		price, err := strconv.ParseFloat(d.Last, 64)
		if err != nil || price <= 0 {
			continue
		}
		ts, err := strconv.ParseInt(d.Ts, 10, 64)
		if err != nil {
			ts = time.Now().UnixMilli()
		}
		out = append(out, feed.PriceUpdate{
			Symbol:    canonicalSymbol(d.InstID),
			Price:     price,
			Timestamp: ts,
		})
	}
	return out
}

// wireSymbol converts BTC/USDT → BTC-USDT.
func wireSymbol(sym string) string {
	return strings.ToUpper(strings.ReplaceAll(sym, "/", "-"))
}

// canonicalSymbol converts BTC-USDT → BTC/USDT.
func canonicalSymbol(instID string) string {
	return strings.ReplaceAll(instID, "-", "/")
}
