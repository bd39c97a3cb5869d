package hub

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/teslashibe/go-rover/internal/log"
)

// Hub fans encoded frames out to websocket clients. It remembers the
// last few frames and replays them to every client that joins, so a
// dashboard opened mid-match sees the current status (or recent log
// lines) before the next broadcast.
type Hub struct {
	name   string
	logger *slog.Logger

	clients    map[*Client]struct{}
	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	// Replay ring, owned by Run
	replay []Message
	keep   int

	dropped atomic.Uint64

	// mu guards clients for ClientCount
	mu sync.RWMutex
}

// New creates a hub that replays up to keep recent frames to new clients.
// keep 0 disables replay.
func New(name string, keep int) *Hub {
	return &Hub{
		name:       name,
		logger:     log.Component("hub").With("hub", name),
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		keep:       keep,
	}
}

// Run owns the client set until ctx is done. Remaining clients are
// disconnected on exit.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				h.drop(c)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.flush()
			h.join(c)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				h.drop(c)
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("client disconnected", "clients", count)

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

func (h *Hub) deliver(msg Message) {
	h.remember(msg)
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !c.offer(msg) {
			h.drop(c)
			h.dropped.Add(1)
			h.logger.Warn("dropped slow client")
		}
	}
}

// flush delivers frames broadcast before a pending registration, so the
// joining client's replay includes them.
func (h *Hub) flush() {
	for {
		select {
		case msg := <-h.broadcast:
			h.deliver(msg)
		default:
			return
		}
	}
}

// join registers c and queues the replay ring ahead of live frames.
func (h *Hub) join(c *Client) {
	for _, msg := range h.replay {
		if !c.offer(msg) {
			close(c.send)
			h.dropped.Add(1)
			return
		}
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("client connected", "clients", count, "replayed", len(h.replay))
}

func (h *Hub) remember(msg Message) {
	if h.keep <= 0 {
		return
	}
	h.replay = append(h.replay, msg)
	if n := len(h.replay); n > h.keep {
		h.replay = append(h.replay[:0], h.replay[n-h.keep:]...)
	}
}

// drop removes c. Caller holds mu.
func (h *Hub) drop(c *Client) {
	delete(h.clients, c)
	close(c.send)
}

// Broadcast queues msg for every client. It never blocks the caller; a
// full queue drops the frame.
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Debug("broadcast queue full, dropping frame")
	}
}

// BroadcastJSON wraps v in an Envelope of the given kind and broadcasts it.
func (h *Hub) BroadcastJSON(kind string, v any) error {
	msg, err := Encode(kind, v)
	if err != nil {
		return err
	}
	h.Broadcast(msg)
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many clients were disconnected for falling behind.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}
