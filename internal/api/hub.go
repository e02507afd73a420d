package api

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/gustycube/skywatch/internal/logging"
	"github.com/gustycube/skywatch/internal/types"
)

// Client is one server-sent events subscriber.
type Client struct {
	ID   string
	Send chan []byte
}

// Hub fans change notifications out to SSE clients. Slow clients are
// dropped rather than blocking the tracker.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	count      atomic.Int64
	log        *logging.Logger
}

func NewHub(log *logging.Logger) *Hub {
	if log == nil {
		log = logging.Nop()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Run serves the hub until ctx is done, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				delete(h.clients, c)
				close(c.Send)
			}
			return
		case c := <-h.register:
			h.clients[c] = true
			h.count.Store(int64(len(h.clients)))
			h.log.Debugw("sse client registered", "client", c.ID)
		case c := <-h.unregister:
			if h.clients[c] {
				delete(h.clients, c)
				close(c.Send)
				h.count.Store(int64(len(h.clients)))
				h.log.Debugw("sse client unregistered", "client", c.ID)
			}
		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.Send <- msg:
				default:
					h.log.Warnw("sse client too slow, dropping", "client", c.ID)
					delete(h.clients, c)
					close(c.Send)
				}
			}
			h.count.Store(int64(len(h.clients)))
		}
	}
}

// Clients reports the number of connected subscribers.
func (h *Hub) Clients() int { return int(h.count.Load()) }

// Register adds a client. It blocks until the hub accepts it, ctx ends
// or the hub stops.
func (h *Hub) Register(ctx context.Context, c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-ctx.Done():
		return false
	case <-h.done:
		return false
	}
}

// Unregister removes a client if the hub is still running.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Publish encodes a change as an SSE frame. It never blocks; frames are
// dropped when the hub is backed up.
func (h *Hub) Publish(c types.Change) {
	frame, err := encodeFrame(string(c.Kind), c)
	if err != nil {
		h.log.Warnw("encode change failed", "kind", c.Kind, "err", err)
		return
	}
	select {
	case h.broadcast <- frame:
	default:
		h.log.Warnw("sse broadcast backlog full, dropping change", "kind", c.Kind)
	}
}

func encodeFrame(event string, v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event, b)), nil
}
