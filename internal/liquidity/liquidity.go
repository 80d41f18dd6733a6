// Package liquidity screens symbols by 24h quote-currency turnover using
// each venue's public REST ticker endpoint.
package liquidity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	binanceTickersURL = "https://api.binance.com/api/v3/ticker/24hr"
	okxTickersURL     = "https://www.okx.com/api/v5/market/tickers?instType=SPOT"
	bybitTickersURL   = "https://api.bybit.com/v5/market/tickers?category=spot"
)

// Filter screens a symbol universe against a minimum 24h quote volume. A
// failed or unparsable fetch fails open: illiquid symbols waste stream slots
// but missing a venue snapshot should not stop a scan.
type Filter struct {
	exchange string
	minQuote float64
	client   *http.Client
	url      string
}

// NewFilter builds a filter for the exchange. A nil client gets a default
// with a 10s timeout. An unknown exchange yields a filter that passes
// everything through.
func NewFilter(exchange string, minQuoteVolume float64, client *http.Client) *Filter {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	f := &Filter{
		exchange: strings.ToLower(exchange),
		minQuote: minQuoteVolume,
		client:   client,
	}
	switch f.exchange {
	case "binance":
		f.url = binanceTickersURL
	case "okx":
		f.url = okxTickersURL
	case "bybit":
		f.url = bybitTickersURL
	}
	return f
}

// SetURL overrides the ticker endpoint. Used by tests.
func (f *Filter) SetURL(u string) { f.url = u }

// Apply returns the subset of canonical symbols whose 24h quote volume
// clears the floor. On any fetch or decode failure the input is returned
// unchanged.
func (f *Filter) Apply(ctx context.Context, symbols []string) []string {
	if f.minQuote <= 0 || f.url == "" {
		return symbols
	}
	volumes, err := f.fetch(ctx)
	if err != nil {
		log.Warn().Err(err).Str("exchange", f.exchange).
			Msg("liquidity snapshot unavailable, passing symbols through")
		return symbols
	}

	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		vol, ok := volumes[strings.ReplaceAll(s, "/", "")]
		if ok && vol < f.minQuote {
			continue
		}
		// Symbols the venue did not report stay in: absence usually means
		// a listing gap in the snapshot, not zero turnover.
		out = append(out, s)
	}
	log.Debug().Str("exchange", f.exchange).
		Int("in", len(symbols)).Int("out", len(out)).
		Msg("liquidity filter applied")
	return out
}

// quoteAssets are the quote currencies recognized when splitting collapsed
// venue symbols like "BTCUSDT". Longest suffixes first so "FDUSD" wins
// over "USD"-alikes.
var quoteAssets = []string{
	"FDUSD", "USDT", "USDC", "TUSD", "BUSD",
	"BTC", "ETH", "BNB", "DAI", "EUR", "TRY", "BRL",
}

// Canonicalize splits a collapsed venue symbol into BASE/QUOTE form by
// suffix-matching against the known quote assets. Reports false for
// symbols with an unrecognized quote.
func Canonicalize(wire string) (string, bool) {
	for _, q := range quoteAssets {
		if strings.HasSuffix(wire, q) && len(wire) > len(q) {
			return wire[:len(wire)-len(q)] + "/" + q, true
		}
	}
	return "", false
}

// Universe fetches the venue's full ticker snapshot and returns the
// canonical symbols it lists. Unlike Apply, a fetch failure is returned:
// there is no universe to fall back to.
func (f *Filter) Universe(ctx context.Context) ([]string, error) {
	if f.url == "" {
		return nil, fmt.Errorf("no ticker endpoint for %q", f.exchange)
	}
	volumes, err := f.fetch(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(volumes))
	for wire := range volumes {
		if sym, ok := Canonicalize(wire); ok {
			out = append(out, sym)
		}
	}
	sort.Strings(out)
	return out, nil
}

// fetch returns 24h quote volume keyed by the venue symbol with separators
// stripped, e.g. "BTCUSDT".
func (f *Filter) fetch(ctx context.Context) (map[string]float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ticker endpoint returned %s", resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	switch f.exchange {
	case "binance":
		return decodeBinance(body)
	case "okx":
		return decodeOKX(body)
	case "bybit":
		return decodeBybit(body)
	}
	return nil, fmt.Errorf("no ticker decoder for %q", f.exchange)
}

func decodeBinance(body []byte) (map[string]float64, error) {
	var tickers []struct {
		Symbol      string `json:"symbol"`
		QuoteVolume string `json:"quoteVolume"`
	}
	if err := json.Unmarshal(body, &tickers); err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(tickers))
	for _, t := range tickers {
		if v, err := strconv.ParseFloat(t.QuoteVolume, 64); err == nil {
			out[t.Symbol] = v
		}
	}
	return out, nil
}

func decodeOKX(body []byte) (map[string]float64, error) {
	var resp struct {
		Code string `json:"code"`
		Data []struct {
			InstID    string `json:"instId"`
			VolCcy24h string `json:"volCcy24h"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if resp.Code != "0" {
		return nil, fmt.Errorf("tickers request rejected, code %s", resp.Code)
	}
	out := make(map[string]float64, len(resp.Data))
	for _, t := range resp.Data {
		if v, err := strconv.ParseFloat(t.VolCcy24h, 64); err == nil {
			out[strings.ReplaceAll(t.InstID, "-", "")] = v
		}
	}
	return out, nil
}

func decodeBybit(body []byte) (map[string]float64, error) {
	var resp struct {
		RetCode int `json:"retCode"`
		Result  struct {
			List []struct {
				Symbol      string `json:"symbol"`
				Turnover24h string `json:"turnover24h"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if resp.RetCode != 0 {
		return nil, fmt.Errorf("tickers request rejected, retCode %d", resp.RetCode)
	}
	out := make(map[string]float64, len(resp.Result.List))
	for _, t := range resp.Result.List {
		if v, err := strconv.ParseFloat(t.Turnover24h, 64); err == nil {
			out[t.Symbol] = v
		}
	}
	return out, nil
}
