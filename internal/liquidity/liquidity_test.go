package liquidity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
)

func TestApplyFiltersBinanceByQuoteVolume(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"symbol":"BTCUSDT","quoteVolume":"500000.5"},
			{"symbol":"ETHUSDT","quoteVolume":"250000"},
			{"symbol":"DOGEUSDT","quoteVolume":"99999.99"}
		]`))
	}))
	defer srv.Close()

	f := NewFilter("binance", 100000, srv.Client())
	f.SetURL(srv.URL)

	got := f.Apply(context.Background(), []string{"BTC/USDT", "ETH/USDT", "DOGE/USDT", "XYZ/USDT"})
	// XYZ/USDT is absent from the snapshot and stays in.
	want := []string{"BTC/USDT", "ETH/USDT", "XYZ/USDT"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Apply = %v, want %v", got, want)
	}
}

func TestApplyFiltersOKX(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"0","data":[
			{"instId":"BTC-USDT","volCcy24h":"900000"},
			{"instId":"ETH-USDT","volCcy24h":"1000"}
		]}`))
	}))
	defer srv.Close()

	f := NewFilter("okx", 100000, srv.Client())
	f.SetURL(srv.URL)

	got := f.Apply(context.Background(), []string{"BTC/USDT", "ETH/USDT"})
	want := []string{"BTC/USDT"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Apply = %v, want %v", got, want)
	}
}

func TestApplyFiltersBybit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"retCode":0,"result":{"list":[
			{"symbol":"BTCUSDT","turnover24h":"200000"},
			{"symbol":"SOLUSDT","turnover24h":"5"}
		]}}`))
	}))
	defer srv.Close()

	f := NewFilter("bybit", 100000, srv.Client())
	f.SetURL(srv.URL)

	got := f.Apply(context.Background(), []string{"BTC/USDT", "SOL/USDT"})
	want := []string{"BTC/USDT"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Apply = %v, want %v", got, want)
	}
}

func TestApplyFailsOpenOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := NewFilter("binance", 100000, srv.Client())
	f.SetURL(srv.URL)

	in := []string{"BTC/USDT", "DOGE/USDT"}
	if got := f.Apply(context.Background(), in); !reflect.DeepEqual(got, in) {
		t.Fatalf("expected pass-through on error, got %v", got)
	}
}

func TestApplyFailsOpenOnBadPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	f := NewFilter("binance", 100000, srv.Client())
	f.SetURL(srv.URL)

	in := []string{"BTC/USDT"}
	if got := f.Apply(context.Background(), in); !reflect.DeepEqual(got, in) {
		t.Fatalf("expected pass-through on bad payload, got %v", got)
	}
}

func TestApplyDisabledWithoutFloor(t *testing.T) {
	f := NewFilter("binance", 0, nil)
	in := []string{"BTC/USDT"}
	if got := f.Apply(context.Background(), in); !reflect.DeepEqual(got, in) {
		t.Fatalf("expected pass-through with zero floor, got %v", got)
	}
}

func TestCanonicalize(t *testing.T) {
	cases := []struct {
		wire string
		want string
		ok   bool
	}{
		{"BTCUSDT", "BTC/USDT", true},
		{"ETHBTC", "ETH/BTC", true},
		{"SOLFDUSD", "SOL/FDUSD", true},
		{"USDT", "", false},
		{"ABCXYZ", "", false},
	}
	for _, c := range cases {
		got, ok := Canonicalize(c.wire)
		if got != c.want || ok != c.ok {
			t.Errorf("Canonicalize(%q) = %q,%v, want %q,%v", c.wire, got, ok, c.want, c.ok)
		}
	}
}

func TestUniverse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"symbol":"BTCUSDT","quoteVolume":"500000"},
			{"symbol":"ETHBTC","quoteVolume":"100"},
			{"symbol":"WEIRDPAIR","quoteVolume":"1"}
		]`))
	}))
	defer srv.Close()

	f := NewFilter("binance", 100000, srv.Client())
	f.SetURL(srv.URL)

	got, err := f.Universe(context.Background())
	if err != nil {
		t.Fatalf("Universe: %v", err)
	}
	// Unrecognized quotes are dropped; the volume floor does not apply.
	want := []string{"BTC/USDT", "ETH/BTC"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Universe = %v, want %v", got, want)
	}
}

func TestUniverseErrorIsReturned(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	f := NewFilter("binance", 0, srv.Client())
	f.SetURL(srv.URL)

	if _, err := f.Universe(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestUnknownExchangePassesThrough(t *testing.T) {
	f := NewFilter("kraken", 100000, nil)
	in := []string{"BTC/USDT"}
	if got := f.Apply(context.Background(), in); !reflect.DeepEqual(got, in) {
		t.Fatalf("expected pass-through for unknown venue, got %v", got)
	}
}
