package api

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// subscriberQueue bounds how many marshaled events may back up per
	// connection before the subscriber is considered too slow to keep.
	subscriberQueue = 64

	writeDeadline   = 10 * time.Second
	idleDeadline    = 75 * time.Second
	keepaliveEvery  = 30 * time.Second
	maxInboundBytes = 1024 // the stream is one-way; clients have nothing big to say
)

// Hub fans dashboard events out to every connected WebSocket subscriber.
// There is no central dispatch goroutine: Broadcast walks the subscriber
// set under a mutex and hands each subscriber an already-marshaled frame,
// so a stalled connection can only ever lose its own events. A subscriber
// whose queue overflows is detached outright — the stream has no
// retransmit, and a client that far behind needs a fresh snapshot anyway.
type Hub struct {
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
}

// subscriber is one attached WebSocket connection and its pending frames.
type subscriber struct {
	conn  *websocket.Conn
	queue chan []byte
	quit  chan struct{}
	once  sync.Once // guards close(quit)
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger: logger.With("component", "ws-hub"),
		subs:   make(map[*subscriber]struct{}),
	}
}

// Attach takes ownership of conn: it queues the initial snapshot event,
// registers the subscriber, and starts its read/write loops. The
// connection is closed by the hub when the subscriber detaches.
func (h *Hub) Attach(conn *websocket.Conn, initial DashboardEvent) {
	data, err := json.Marshal(initial)
	if err != nil {
		h.logger.Error("failed to marshal initial snapshot", "error", err)
		conn.Close()
		return
	}

	sub := &subscriber{
		conn:  conn,
		queue: make(chan []byte, subscriberQueue),
		quit:  make(chan struct{}),
	}
	sub.queue <- data // fresh queue, cannot block

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.subs[sub] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()

	h.logger.Info("subscriber attached", "subscribers", n)

	go h.writeLoop(sub)
	go h.readLoop(sub)
}

// Broadcast marshals evt once and queues it for every subscriber,
// detaching any whose queue is already full.
func (h *Hub) Broadcast(evt DashboardEvent) {
	data, err := json.Marshal(evt)
	if err != nil {
		h.logger.Error("failed to marshal event", "type", evt.Type, "error", err)
		return
	}

	var slow []*subscriber
	h.mu.Lock()
	for sub := range h.subs {
		select {
		case sub.queue <- data:
		default:
			slow = append(slow, sub)
		}
	}
	h.mu.Unlock()

	for _, sub := range slow {
		h.logger.Warn("detaching slow subscriber", "backlog", cap(sub.queue))
		h.detach(sub)
	}
}

// Close detaches every subscriber and refuses new ones. Called on server
// shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := make([]*subscriber, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		h.detach(sub)
	}
}

// detach removes the subscriber, stops its write loop, and closes the
// connection. Safe to call from any goroutine, any number of times.
func (h *Hub) detach(sub *subscriber) {
	sub.once.Do(func() { close(sub.quit) })

	h.mu.Lock()
	_, attached := h.subs[sub]
	delete(h.subs, sub)
	n := len(h.subs)
	h.mu.Unlock()

	if attached {
		// WriteControl may run concurrently with writeLoop, so the close
		// frame goes out before the connection is torn down.
		sub.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeDeadline))
		sub.conn.Close()
		h.logger.Info("subscriber detached", "subscribers", n)
	}
}

// writeLoop drains the subscriber's queue onto the wire and emits periodic
// pings so intermediaries don't reap a quiet connection.
func (h *Hub) writeLoop(sub *subscriber) {
	keepalive := time.NewTicker(keepaliveEvery)
	defer keepalive.Stop()

	for {
		select {
		case <-sub.quit:
			sub.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			sub.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case data := <-sub.queue:
			sub.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := sub.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.detach(sub)
				return
			}

		case <-keepalive.C:
			sub.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.detach(sub)
				return
			}
		}
	}
}

// readLoop exists to notice closed connections and to refresh the idle
// deadline on pongs; inbound frames are discarded.
func (h *Hub) readLoop(sub *subscriber) {
	defer h.detach(sub)

	sub.conn.SetReadLimit(maxInboundBytes)
	sub.conn.SetReadDeadline(time.Now().Add(idleDeadline))
	sub.conn.SetPongHandler(func(string) error {
		return sub.conn.SetReadDeadline(time.Now().Add(idleDeadline))
	})

	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("subscriber read failed", "error", err)
			}
			return
		}
	}
}
