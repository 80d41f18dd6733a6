package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{}

func wsURLOf(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func fastWSConfig(url string) WSConfig {
	cfg := DefaultWSConfig(url)
	cfg.BackoffInitial = 5 * time.Millisecond
	cfg.BackoffMax = 20 * time.Millisecond
	cfg.MaxAttempts = 5
	cfg.HeartbeatTimeout = 2 * time.Second
	return cfg
}

func TestConnectAndReceive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		c.WriteMessage(websocket.TextMessage, []byte("hello"))
		c.ReadMessage() // hold until the client goes away
	}))
	defer srv.Close()

	ws := NewWSClient(fastWSConfig(wsURLOf(srv)))
	raw := ws.Subscribe()
	if err := ws.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer ws.Close()

	if ws.State() != StateConnected || !ws.Healthy() {
		t.Fatalf("state = %v after connect", ws.State())
	}
	select {
	case msg := <-raw:
		if string(msg) != "hello" {
			t.Fatalf("frame = %q", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
	}
}

func TestConnectFailsFast(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := wsURLOf(srv)
	srv.Close()

	ws := NewWSClient(fastWSConfig(url))
	if err := ws.Connect(context.Background()); err == nil {
		t.Fatal("expected dial error")
	}
	if ws.State() != StateDisconnected {
		t.Fatalf("state = %v after failed connect", ws.State())
	}
}

func TestSendReachesServer(t *testing.T) {
	got := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		_, msg, err := c.ReadMessage()
		if err == nil {
			got <- msg
		}
		c.ReadMessage()
	}))
	defer srv.Close()

	ws := NewWSClient(fastWSConfig(wsURLOf(srv)))
	if err := ws.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer ws.Close()

	ws.Send([]byte(`{"method":"SUBSCRIBE"}`))
	select {
	case msg := <-got:
		if string(msg) != `{"method":"SUBSCRIBE"}` {
			t.Fatalf("server saw %q", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the frame")
	}
}

func TestReconnectAfterDrop(t *testing.T) {
	var conns atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		if conns.Add(1) == 1 {
			// Drop the first connection immediately.
			return
		}
		c.WriteMessage(websocket.TextMessage, []byte("back"))
		c.ReadMessage()
	}))
	defer srv.Close()

	var reconnects atomic.Int32
	ws := NewWSClient(fastWSConfig(wsURLOf(srv)))
	ws.OnReconnect = func() { reconnects.Add(1) }
	raw := ws.Subscribe()
	if err := ws.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer ws.Close()

	select {
	case msg := <-raw:
		if string(msg) != "back" {
			t.Fatalf("frame = %q", msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no frame after reconnect")
	}
	if reconnects.Load() == 0 {
		t.Fatal("OnReconnect never fired")
	}
}

func TestExhaustedBackoffEmitsOneFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c.Close()
	}))

	cfg := fastWSConfig(wsURLOf(srv))
	cfg.MaxAttempts = 3
	ws := NewWSClient(cfg)
	if err := ws.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	// Every reconnect attempt now hits a dead port.
	srv.CloseClientConnections()
	srv.Close()

	select {
	case err, ok := <-ws.Fatal():
		if !ok || err == nil {
			t.Fatal("expected a fatal error value")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no fatal error after exhausting attempts")
	}

	// Exactly one: nothing else arrives and the channel stays open until
	// Close.
	select {
	case err, ok := <-ws.Fatal():
		if ok {
			t.Fatalf("second fatal error %v", err)
		}
	case <-time.After(100 * time.Millisecond):
	}
	if ws.State() != StateDisconnected {
		t.Fatalf("state = %v after giving up", ws.State())
	}
}

func TestCloseReleasesFatalWatchers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		c.ReadMessage()
	}))
	defer srv.Close()

	ws := NewWSClient(fastWSConfig(wsURLOf(srv)))
	if err := ws.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	ws.Close()

	select {
	case _, ok := <-ws.Fatal():
		if ok {
			t.Fatal("unexpected fatal error from clean close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Fatal watcher was not released")
	}
	select {
	case <-ws.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done never closed")
	}
}

func TestKeepAliveFrame(t *testing.T) {
	got := make(chan []byte, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				return
			}
			got <- msg
		}
	}))
	defer srv.Close()

	cfg := fastWSConfig(wsURLOf(srv))
	cfg.KeepAlive = KeepAlive{
		Interval: 20 * time.Millisecond,
		Frame:    func() []byte { return []byte("ping") },
	}
	ws := NewWSClient(cfg)
	if err := ws.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer ws.Close()

	select {
	case msg := <-got:
		if string(msg) != "ping" {
			t.Fatalf("keep-alive frame = %q", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no keep-alive frame sent")
	}
}
