package feed

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// KeepAlive describes the protocol-appropriate heartbeat an exchange
// expects. A nil Frame sends a transport-level ping; otherwise the returned
// payload is written as a text frame (application-level pings, e.g. OKX's
// literal "ping" or Bybit's {"op":"ping"}).
type KeepAlive struct {
	Interval time.Duration
	Frame    func() []byte
}

// WSConfig holds tunable parameters for a WSClient.
type WSConfig struct {
	URL string

	// Buffer sizes for the underlying TCP connection.
	ReadBufferSize  int
	WriteBufferSize int

	// HandshakeTimeout bounds the initial dial; a connection that cannot
	// complete its handshake within it fails with a connection error.
	HandshakeTimeout time.Duration

	// HeartbeatTimeout is the maximum duration of silence before the client
	// considers the connection dead and triggers a reconnect.
	HeartbeatTimeout time.Duration

	// Backoff parameters for reconnection. The delay before attempt n is
	// min(BackoffInitial * 2^n, BackoffMax); after MaxAttempts the client
	// gives up and surfaces a single fatal error.
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	MaxAttempts    int

	KeepAlive KeepAlive

	// Headers sent during the WebSocket handshake.
	Headers http.Header
}

// DefaultWSConfig returns defaults tuned for public market-data endpoints.
func DefaultWSConfig(url string) WSConfig {
	return WSConfig{
		URL:              url,
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
		HandshakeTimeout: 10 * time.Second,
		HeartbeatTimeout: 60 * time.Second,
		BackoffInitial:   500 * time.Millisecond,
		BackoffMax:       30 * time.Second,
		MaxAttempts:      10,
	}
}

type outFrame struct {
	messageType int
	data        []byte
}

// WSClient is a resilient WebSocket connection manager. It reconnects with
// bounded exponential backoff, monitors heartbeats, runs the exchange's
// keep-alive cadence, and fans raw inbound frames out to subscribers. Once
// backoff is exhausted it stays Disconnected and reports exactly one fatal
// error on Fatal().
type WSClient struct {
	cfg WSConfig

	state atomic.Int32

	mu   sync.RWMutex
	conn *websocket.Conn

	// subscribers receive copies of every inbound frame.
	subMu sync.RWMutex
	subs  []chan []byte

	// outbox for frames awaiting the write loop.
	outbox chan outFrame

	fatal     chan error
	fatalOnce sync.Once

	cancel context.CancelFunc
	done   chan struct{}

	// OnReconnect is invoked after every successful reconnection, before
	// any new frame is read. Adapters use it to replay their remembered
	// subscription set. Must be set before Connect.
	OnReconnect func()
}

// NewWSClient creates a WebSocket client. Call Connect to start.
func NewWSClient(cfg WSConfig) *WSClient {
	return &WSClient{
		cfg:    cfg,
		outbox: make(chan outFrame, 256),
		fatal:  make(chan error, 1),
		done:   make(chan struct{}),
	}
}

// State returns the current connection lifecycle state.
func (ws *WSClient) State() State {
	return State(ws.state.Load())
}

// Healthy reports whether the transport is open.
func (ws *WSClient) Healthy() bool {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return ws.State() == StateConnected && ws.conn != nil
}

// Fatal returns the channel on which the single unrecoverable transport
// error is delivered after reconnection attempts are exhausted.
func (ws *WSClient) Fatal() <-chan error {
	return ws.fatal
}

// Subscribe returns a channel that receives copies of every inbound frame.
// The caller must drain the channel to avoid dropped frames.
func (ws *WSClient) Subscribe() <-chan []byte {
	ch := make(chan []byte, 512)
	ws.subMu.Lock()
	ws.subs = append(ws.subs, ch)
	ws.subMu.Unlock()
	return ch
}

// Send enqueues a text frame for delivery over the connection.
func (ws *WSClient) Send(data []byte) {
	ws.enqueue(outFrame{messageType: websocket.TextMessage, data: data})
}

func (ws *WSClient) enqueue(f outFrame) {
	select {
	case ws.outbox <- f:
	default:
		log.Warn().Str("url", ws.cfg.URL).Int("bytes", len(f.data)).Msg("ws outbox full, dropping frame")
	}
}

// Connect dials the endpoint and starts the read/write/keep-alive loops.
// It blocks until the initial handshake succeeds or fails.
func (ws *WSClient) Connect(ctx context.Context) error {
	ctx, ws.cancel = context.WithCancel(ctx)

	ws.state.Store(int32(StateConnecting))
	if err := ws.dial(ctx); err != nil {
		ws.state.Store(int32(StateDisconnected))
		return fmt.Errorf("ws connect %s: %w", ws.cfg.URL, err)
	}
	ws.state.Store(int32(StateConnected))

	go ws.readLoop(ctx)
	go ws.writeLoop(ctx)
	if ws.cfg.KeepAlive.Interval > 0 {
		go ws.keepAliveLoop(ctx)
	}

	return nil
}

// Close shuts down the client, closing the underlying connection and all
// subscriber channels.
func (ws *WSClient) Close() {
	ws.state.Store(int32(StateClosing))
	if ws.cancel != nil {
		ws.cancel()
	}
	ws.mu.Lock()
	if ws.conn != nil {
		ws.conn.Close()
	}
	ws.mu.Unlock()

	ws.subMu.Lock()
	for _, ch := range ws.subs {
		close(ch)
	}
	ws.subs = nil
	ws.subMu.Unlock()

	// Release anyone waiting on Fatal if no fatal error was ever sent.
	ws.fatalOnce.Do(func() { close(ws.fatal) })

	ws.state.Store(int32(StateDisconnected))
	close(ws.done)
}

// Done returns a channel that is closed when the client has fully shut down.
func (ws *WSClient) Done() <-chan struct{} {
	return ws.done
}

// dial establishes the WebSocket connection with TCP_NODELAY enabled.
func (ws *WSClient) dial(ctx context.Context) error {
	dialer := websocket.Dialer{
		ReadBufferSize:   ws.cfg.ReadBufferSize,
		WriteBufferSize:  ws.cfg.WriteBufferSize,
		HandshakeTimeout: ws.cfg.HandshakeTimeout,
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			d := net.Dialer{}
			conn, err := d.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			if tc, ok := conn.(*net.TCPConn); ok {
				tc.SetNoDelay(true)
			}
			return conn, nil
		},
	}

	dialCtx, cancel := context.WithTimeout(ctx, ws.cfg.HandshakeTimeout)
	defer cancel()

	conn, _, err := dialer.DialContext(dialCtx, ws.cfg.URL, ws.cfg.Headers)
	if err != nil {
		return err
	}

	// Inbound pongs carry no data but prove liveness; extend the deadline.
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(ws.cfg.HeartbeatTimeout))
	})

	ws.mu.Lock()
	ws.conn = conn
	ws.mu.Unlock()
	return nil
}

// reconnect loops with exponential backoff until a connection is
// re-established, the attempt budget is exhausted, or ctx is cancelled.
func (ws *WSClient) reconnect(ctx context.Context) bool {
	ws.state.Store(int32(StateReconnecting))

	for attempt := 0; attempt < ws.cfg.MaxAttempts; attempt++ {
		delay := ws.cfg.BackoffInitial << attempt
		if delay > ws.cfg.BackoffMax || delay <= 0 {
			delay = ws.cfg.BackoffMax
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}

		if err := ws.dial(ctx); err != nil {
			log.Error().Err(err).Str("url", ws.cfg.URL).Int("attempt", attempt+1).
				Dur("next_delay", delay).Msg("ws reconnect failed")
			continue
		}

		ws.state.Store(int32(StateConnected))
		if ws.OnReconnect != nil {
			ws.OnReconnect()
		}
		log.Info().Str("url", ws.cfg.URL).Int("attempts", attempt+1).Msg("ws reconnected")
		return true
	}

	ws.state.Store(int32(StateDisconnected))
	ws.fatalOnce.Do(func() {
		ws.fatal <- fmt.Errorf("ws %s: gave up after %d reconnect attempts", ws.cfg.URL, ws.cfg.MaxAttempts)
	})
	// Stop the write and keep-alive loops; nothing can be sent anymore.
	if ws.cancel != nil {
		ws.cancel()
	}
	return false
}

// readLoop reads frames and fans them out to subscribers. It also acts as
// the heartbeat monitor: if no frame arrives within HeartbeatTimeout, it
// triggers a reconnect.
func (ws *WSClient) readLoop(ctx context.Context) {
	for {
		ws.mu.RLock()
		c := ws.conn
		ws.mu.RUnlock()

		c.SetReadDeadline(time.Now().Add(ws.cfg.HeartbeatTimeout))
		_, msg, err := c.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Str("url", ws.cfg.URL).Msg("ws read error, reconnecting")
			c.Close()
			if !ws.reconnect(ctx) {
				return
			}
			continue
		}

		ws.fanOut(msg)
	}
}

// writeLoop drains the outbox and writes frames to the connection.
func (ws *WSClient) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-ws.outbox:
			ws.mu.RLock()
			c := ws.conn
			ws.mu.RUnlock()
			if err := c.WriteMessage(f.messageType, f.data); err != nil {
				log.Error().Err(err).Str("url", ws.cfg.URL).Msg("ws write error")
			}
		}
	}
}

// keepAliveLoop sends the exchange's heartbeat at its expected cadence.
func (ws *WSClient) keepAliveLoop(ctx context.Context) {
	ticker := time.NewTicker(ws.cfg.KeepAlive.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ws.State() != StateConnected {
				continue
			}
			if ws.cfg.KeepAlive.Frame != nil {
				ws.enqueue(outFrame{messageType: websocket.TextMessage, data: ws.cfg.KeepAlive.Frame()})
			} else {
				ws.enqueue(outFrame{messageType: websocket.PingMessage, data: nil})
			}
		}
	}
}

// fanOut delivers msg to every subscriber without blocking.
func (ws *WSClient) fanOut(msg []byte) {
	ws.subMu.RLock()
	defer ws.subMu.RUnlock()

	for _, ch := range ws.subs {
		select {
		case ch <- msg:
		default:
			// Slow consumer — drop to avoid head-of-line blocking.
		}
	}
}
