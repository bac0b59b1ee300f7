// Package feed implements the live WebSocket client that receives the
// vendor's real-time book/instrument/status frames. It owns reconnection
// with exponential backoff and hands every raw frame to its caller
// unmodified, so the same bytes can be recorded (internal/recorder),
// ring-buffered (internal/frames), and decoded (pkg/wire) from one source
// of truth.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"bookguard/pkg/wire"
)

const (
	pingInterval     = 50 * time.Second
	readTimeout      = 60 * time.Second
	maxReconnectWait = 30 * time.Second
	writeTimeout     = 10 * time.Second
	frameBufferSize  = 1024
)

// RawFrame is one undecoded wire message with its arrival time.
type RawFrame struct {
	TS  time.Time
	Raw []byte
}

// subscribeMsg is the outbound subscription request.
type subscribeMsg struct {
	Operation string   `json:"operation"`
	Symbols   []string `json:"symbols"`
}

// statusEnvelope is the minimal shape of a "status" channel frame this
// package inspects: a vendor-signaled throttling notice.
type statusEnvelope struct {
	Channel     string `json:"channel"`
	RateLimited bool   `json:"rate_limited"`
	Code        int    `json:"code"`
}

// Feed manages a single WebSocket connection to the vendor's market-data
// endpoint: connection lifecycle, subscription tracking, and automatic
// reconnection with exponential backoff. It deliberately exposes one
// raw-frame channel rather than typed per-event-type channels — decoding
// is the caller's job, via pkg/wire, so the exact same bytes can be
// recorded and ring-buffered verbatim.
type Feed struct {
	url     string
	connMu  sync.Mutex
	conn    *websocket.Conn
	logger  *slog.Logger

	symbolsMu sync.RWMutex
	symbols   map[string]bool

	frameCh chan RawFrame
	rateCh  chan struct{}

	disconnectedMu sync.Mutex
	onDisconnect   func(err error)
}

// New creates a Feed for the given WebSocket URL and initial symbol set.
func New(url string, symbols []string, logger *slog.Logger) *Feed {
	set := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		set[s] = true
	}
	return &Feed{
		url:     url,
		symbols: set,
		logger:  logger.With("component", "feed"),
		frameCh: make(chan RawFrame, frameBufferSize),
		rateCh:  make(chan struct{}, 1),
	}
}

// Frames returns the channel of raw frames as received, in arrival order.
func (f *Feed) Frames() <-chan RawFrame { return f.frameCh }

// RateLimited signals whenever the vendor reports it is throttling this
// connection. Sends are non-blocking: a backlog of one pending signal is
// enough for a consumer that checks promptly.
func (f *Feed) RateLimited() <-chan struct{} { return f.rateCh }

// OnDisconnect registers a callback invoked each time the connection drops
// (including the initial connect failing), before the reconnect backoff
// sleep. Used by the engine to raise a Disconnect incident.
func (f *Feed) OnDisconnect(fn func(err error)) {
	f.disconnectedMu.Lock()
	defer f.disconnectedMu.Unlock()
	f.onDisconnect = fn
}

// Run connects and maintains the connection with auto-reconnect, blocking
// until ctx is cancelled.
func (f *Feed) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("feed disconnected, reconnecting", "error", err, "backoff", backoff)
		f.disconnectedMu.Lock()
		cb := f.onDisconnect
		f.disconnectedMu.Unlock()
		if cb != nil {
			cb(err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

// Subscribe adds symbols to the tracked set and, if connected, sends an
// immediate subscribe request.
func (f *Feed) Subscribe(symbols []string) error {
	f.symbolsMu.Lock()
	for _, s := range symbols {
		f.symbols[s] = true
	}
	f.symbolsMu.Unlock()
	return f.writeJSON(subscribeMsg{Operation: "subscribe", Symbols: symbols})
}

// Close closes the underlying connection, if any.
func (f *Feed) Close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

func (f *Feed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	if err := f.sendInitialSubscription(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	f.logger.Info("feed connected", "url", f.url)

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		f.dispatch(msg)
	}
}

func (f *Feed) sendInitialSubscription() error {
	f.symbolsMu.RLock()
	ids := make([]string, 0, len(f.symbols))
	for id := range f.symbols {
		ids = append(ids, id)
	}
	f.symbolsMu.RUnlock()
	return f.writeJSON(subscribeMsg{Operation: "subscribe", Symbols: ids})
}

// dispatch hands the raw frame to consumers and, separately, inspects
// "status" frames for a vendor rate-limit signal. Consumers decode for
// themselves from the raw bytes — the engine needs the exact bytes anyway,
// to record and ring-buffer them verbatim.
func (f *Feed) dispatch(data []byte) {
	now := time.Now()

	select {
	case f.frameCh <- RawFrame{TS: now, Raw: data}:
	default:
		f.logger.Warn("frame channel full, dropping frame")
	}

	if wire.PeekChannel(data) != wire.ChannelStatus {
		return
	}
	var env statusEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return
	}
	if env.RateLimited || env.Code == 429 {
		select {
		case f.rateCh <- struct{}{}:
		default:
		}
	}
}

func (f *Feed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.writeMessage(websocket.PingMessage, nil); err != nil {
				f.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (f *Feed) writeJSON(v interface{}) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("feed: not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteJSON(v)
}

func (f *Feed) writeMessage(msgType int, data []byte) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("feed: not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteMessage(msgType, data)
}
