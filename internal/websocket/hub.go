package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"feedmesh/internal/logger"
)

// Frame is one message addressed to every client of a scope except From.
// A nil From reaches all of them. A non-nil To narrows it to that client.
type Frame struct {
	Scope   string
	From    *Client
	To      *Client
	Payload []byte
}

// Hub maintains the set of active clients per scope and fans frames out.
type Hub struct {
	// Registered clients. Maps scope to a set of active client connections.
	Clients map[string]map[*Client]bool

	// Inbound frames from clients or from the local process.
	Broadcast chan *Frame

	// Unregister requests from clients.
	Unregister chan *Client

	// Mutex to protect concurrent access to the clients map.
	mu sync.RWMutex

	stopped bool
	done    chan struct{}
	log     *logrus.Entry
}

func NewHub(log *logrus.Entry) *Hub {
	return &Hub{
		Broadcast:  make(chan *Frame, 64),
		Unregister: make(chan *Client),
		Clients:    make(map[string]map[*Client]bool),
		done:       make(chan struct{}),
		log:        logger.OrDefault(log),
	}
}

// NewClient builds a client bound to this hub. The caller registers it and
// starts its pumps.
func (h *Hub) NewClient(scope string, conn Conn) *Client {
	return &Client{
		Hub:   h,
		ID:    uuid.New(),
		Scope: scope,
		Conn:  conn,
		Send:  make(chan []byte, 256),
	}
}

// Run starts the hub's processing loop. It returns when ctx ends, closing
// every client's send channel.
func (h *Hub) Run(ctx context.Context) {
	h.log.Info("WebSocket Hub started")
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			h.stopped = true
			for scope, clients := range h.Clients {
				for client := range clients {
					close(client.Send)
				}
				delete(h.Clients, scope)
			}
			h.mu.Unlock()
			h.log.Info("WebSocket Hub stopped")
			return

		case client := <-h.Unregister:
			h.mu.Lock()
			if scopeClients, ok := h.Clients[client.Scope]; ok {
				if _, clientOk := scopeClients[client]; clientOk {
					delete(scopeClients, client)
					close(client.Send)
					if len(scopeClients) == 0 {
						delete(h.Clients, client.Scope)
					}
					h.log.WithFields(logrus.Fields{
						"scope":     client.Scope,
						"client":    client.ID,
						"remaining": len(scopeClients),
					}).Debug("WebSocket client unregistered")
				}
			}
			h.mu.Unlock()

		case frame := <-h.Broadcast:
			h.mu.RLock()
			for client := range h.Clients[frame.Scope] {
				if client == frame.From || (frame.To != nil && client != frame.To) {
					continue
				}
				select {
				case client.Send <- frame.Payload:
				default:
					h.log.WithField("client", client.ID).Warn("Send buffer full, frame dropped for client")
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Publish lets the local process push a payload to every client of scope.
func (h *Hub) Publish(scope string, payload []byte) {
	h.queue(&Frame{Scope: scope, Payload: payload})
}

// PublishTo queues payload for c alone, behind every frame already queued
// for its scope.
func (h *Hub) PublishTo(c *Client, payload []byte) {
	h.queue(&Frame{Scope: c.Scope, To: c, Payload: payload})
}

func (h *Hub) queue(f *Frame) {
	select {
	case h.Broadcast <- f:
	case <-h.done:
	case <-time.After(1 * time.Second):
		h.log.WithField("scope", f.Scope).Warn("Timeout queuing frame in hub; hub might be busy or stopped")
	}
}

// Attach registers c. It reports false when the hub has stopped. Frames
// the hub fans out after Attach returns reach c.
func (h *Hub) Attach(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return false
	}
	if _, ok := h.Clients[c.Scope]; !ok {
		h.Clients[c.Scope] = make(map[*Client]bool)
	}
	h.Clients[c.Scope][c] = true
	h.log.WithFields(logrus.Fields{
		"scope":  c.Scope,
		"client": c.ID,
		"total":  len(h.Clients[c.Scope]),
	}).Debug("WebSocket client registered")
	return true
}

func (h *Hub) unregister(c *Client) {
	select {
	case h.Unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) forward(f *Frame) {
	select {
	case h.Broadcast <- f:
	case <-h.done:
	}
}

// ScopeSize returns the number of clients connected to scope.
func (h *Hub) ScopeSize(scope string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.Clients[scope])
}
