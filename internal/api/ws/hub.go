// Package ws streams advisory sets to browser clients over WebSocket.
//
// Every finished learning pass publishes a new advisory set; the hub fans
// it out to all connected clients as an "insights" message. A client that
// connects after a pass receives the latest set immediately. Inbound
// client messages are read only to service control frames and are
// otherwise ignored.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/infrasage/infrasage/internal/intelligence"
)

// Message types
const (
	MessageTypeInsights = "insights"
)

// ErrHubStopped is returned by Broadcast once Run has returned.
var ErrHubStopped = errors.New("websocket hub stopped")

// Message is one server-to-client frame.
type Message struct {
	Type      string                   `json:"type"`
	Insights  *intelligence.Advisories `json:"insights,omitempty"`
	Timestamp time.Time                `json:"timestamp"`
}

// Subscriber publishes advisory sets.
type Subscriber interface {
	Subscribe() (<-chan intelligence.Advisories, func())
}

// Hub maintains active WebSocket clients and broadcasts messages to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	done       chan struct{}

	// latest is the last broadcast frame, replayed to new clients.
	// Owned by the Run goroutine.
	latest []byte

	logger *zap.Logger
}

// NewHub creates a hub. Call Run to start it.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 16),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run serves registrations and broadcasts until ctx is cancelled, then
// disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		h.mu.Lock()
		for c := range h.clients {
			delete(h.clients, c)
			close(c.send)
		}
		h.mu.Unlock()
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			h.mu.Unlock()
			if h.latest != nil {
				c.send <- h.latest // fresh buffer, cannot block
			}
			h.logger.Debug("WebSocket client registered", zap.String("client_id", c.id))

		case c := <-h.unregister:
			h.drop(c)

		case msg := <-h.broadcast:
			h.latest = msg
			h.mu.RLock()
			var slow []*Client
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.RUnlock()
			for _, c := range slow {
				h.logger.Warn("Dropping slow WebSocket client", zap.String("client_id", c.id))
				h.drop(c)
			}
		}
	}
}

func (h *Hub) drop(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Broadcast queues msg for every connected client.
func (h *Hub) Broadcast(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- data:
		return nil
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Forward broadcasts every advisory set published by sub until ctx is
// cancelled or the hub stops.
func (h *Hub) Forward(ctx context.Context, sub Subscriber) error {
	ch, cancel := sub.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-h.done:
			return nil
		case a, ok := <-ch:
			if !ok {
				return nil
			}
			err := h.Broadcast(ctx, Message{Type: MessageTypeInsights, Insights: &a, Timestamp: time.Now().UTC()})
			switch {
			case errors.Is(err, ErrHubStopped), errors.Is(err, context.Canceled):
				return nil
			case err != nil:
				return err
			}
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// join hands a client to Run. It reports false once the hub has stopped.
func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
