package okx

import (
	"encoding/json"
	"testing"
)

func TestEncodeSubscribe(t *testing.T) {
	frames := Protocol{}.EncodeSubscribe([]string{"BTC/USDT", "ETH/BTC"})
	if len(frames) != 1 {
		t.Fatalf("frames = %d, want 1", len(frames))
	}

	var req struct {
		Op   string `json:"op"`
		Args []struct {
			Channel string `json:"channel"`
			InstID  string `json:"instId"`
		} `json:"args"`
	}
	if err := json.Unmarshal(frames[0], &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if req.Op != "subscribe" || len(req.Args) != 2 {
		t.Fatalf("request = %+v", req)
	}
	if req.Args[0].Channel != "tickers" || req.Args[0].InstID != "BTC-USDT" {
		t.Fatalf("arg = %+v", req.Args[0])
	}
	if req.Args[1].InstID != "ETH-BTC" {
		t.Fatalf("arg = %+v", req.Args[1])
	}
}

func TestDecodeTickerData(t *testing.T) {
	frame := []byte(`{"arg":{"channel":"tickers","instId":"BTC-USDT"},"data":[
		{"instId":"BTC-USDT","last":"50000.5","ts":"1700000000000"},
		{"instId":"ETH-USDT","last":"3000","ts":"1700000000001"}
	]}`)

	out := Protocol{}.Decode(frame)
	if len(out) != 2 {
		t.Fatalf("updates = %d, want 2", len(out))
	}
	if out[0].Symbol != "BTC/USDT" || out[0].Price != 50000.5 || out[0].Timestamp != 1700000000000 {
		t.Fatalf("update = %+v", out[0])
	}
	if out[1].Symbol != "ETH/USDT" {
		t.Fatalf("update = %+v", out[1])
	}
}

func TestDecodeIgnoresPongAcksAndErrors(t *testing.T) {
	for _, frame := range []string{
		`pong`,
		`{"event":"subscribe","arg":{"channel":"tickers","instId":"BTC-USDT"}}`,
		`{"event":"error","code":"60012","msg":"invalid request"}`,
		`{"arg":{"channel":"books","instId":"BTC-USDT"},"data":[{"instId":"BTC-USDT","last":"1"}]}`,
		`garbage`,
	} {
		if out := (Protocol{}).Decode([]byte(frame)); out != nil {
			t.Fatalf("frame %q decoded to %+v", frame, out)
		}
	}
}

func TestDecodeSkipsBadPrices(t *testing.T) {
	frame := []byte(`{"arg":{"channel":"tickers","instId":"BTC-USDT"},"data":[
		{"instId":"BTC-USDT","last":"oops","ts":"1"},
		{"instId":"ETH-USDT","last":"3000","ts":"2"}
	]}`)
	out := Protocol{}.Decode(frame)
	if len(out) != 1 || out[0].Symbol != "ETH/USDT" {
		t.Fatalf("updates = %+v", out)
	}
}
