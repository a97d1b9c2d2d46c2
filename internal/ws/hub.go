package ws

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/manpreetbhatti/codesync-relay/internal/protocol"
	"github.com/manpreetbhatti/codesync-relay/internal/relay"
	"github.com/manpreetbhatti/codesync-relay/internal/room"
)

// Serializes every connection event through one goroutine into the relay
// engine.
type Hub struct {
	engine *relay.Engine
	log    *slog.Logger
	opts   ClientOptions

	// Live clients, closed on shutdown
	clients map[*Client]struct{}

	// Decoded events from clients
	inbound chan *Message

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	done chan struct{}
	once sync.Once

	// Held for each engine transition; readers take it shared
	mu sync.RWMutex
}

type Message struct {
	Client *Client
	Event  protocol.Inbound
}

type ClientOptions struct {
	MessagesPerSecond float64
	MessageBurst      int
}

func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		MessagesPerSecond: messagesPerSecond,
		MessageBurst:      messageBurst,
	}
}

func NewHub(engine *relay.Engine, log *slog.Logger, opts ClientOptions) *Hub {
	return &Hub{
		engine:     engine,
		log:        log,
		opts:       opts,
		clients:    make(map[*Client]struct{}),
		inbound:    make(chan *Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			err := h.engine.Connect(client.id, client.identity, client)
			if err == nil {
				h.clients[client] = struct{}{}
			}
			h.mu.Unlock()

			if err != nil {
				h.log.Error("register failed", "conn", client.id, "err", err)
				close(client.send)
				continue
			}
			h.log.Info("client connected", "conn", client.id)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				if err := h.engine.Disconnect(client.id); err != nil {
					h.log.Warn("disconnect failed", "conn", client.id, "err", err)
				}
				close(client.send)
			}
			h.mu.Unlock()
			h.log.Info("client disconnected", "conn", client.id)

		case msg := <-h.inbound:
			h.mu.Lock()
			_, live := h.clients[msg.Client]
			var err error
			if live {
				err = h.engine.Handle(msg.Client.id, msg.Event)
			}
			h.mu.Unlock()

			if err != nil {
				h.logRejected(msg, err)
			}
		}
	}
}

func (h *Hub) logRejected(msg *Message, err error) {
	attrs := []any{"conn", msg.Client.id, "event", msg.Event.Event(), "err", err}
	switch {
	case errors.Is(err, relay.ErrNotAdmin), errors.Is(err, relay.ErrUnknownTarget):
		h.log.Warn("event rejected", attrs...)
	default:
		h.log.Debug("event dropped", attrs...)
	}
}

func (h *Hub) shutdown() {
	h.once.Do(func() { close(h.done) })

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		client.conn.Close()
	}
	h.log.Info("hub stopped", "clients", len(h.clients))
}

// Hands work to the hub loop unless it has stopped
func (h *Hub) submitClient(ch chan *Client, c *Client) bool {
	select {
	case ch <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) submitMessage(msg *Message) bool {
	select {
	case h.inbound <- msg:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Stats() relay.Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.engine.Stats()
}

func (h *Hub) Rooms() []room.Summary {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.engine.Rooms()
}

func (h *Hub) Room(id string) (room.Summary, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.engine.Room(id)
}
