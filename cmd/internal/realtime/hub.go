// Package realtime contains the live feed: a WebSocket gateway and the hub
// that fans ledger events out to connected viewers.
package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"

	"batepapo/cmd/internal/chat"
	v1 "batepapo/shared/contracts/live/v1"
)

// ClientObserver receives connection and drop counts (metrics).
type ClientObserver interface {
	ClientConnected()
	ClientDisconnected()
	EventDropped()
}

type nopClientObserver struct{}

func (nopClientObserver) ClientConnected()    {}
func (nopClientObserver) ClientDisconnected() {}
func (nopClientObserver) EventDropped()       {}

// Hub tracks live clients and implements chat.Notifier.
//
// Concurrency guarantees:
// - Join/Leave are safe under concurrent Publish.
// - Publish never blocks (drops under backpressure).
// - Publish is panic-safe because Client.Send is never closed by the server.
type Hub struct {
	log *slog.Logger
	obs ClientObserver

	mu      sync.RWMutex
	clients map[string]*Client
}

// NewHub constructs a Hub. obs may be nil.
func NewHub(log *slog.Logger, obs ClientObserver) *Hub {
	if log == nil {
		log = slog.Default()
	}
	if obs == nil {
		obs = nopClientObserver{}
	}
	return &Hub{
		log:     log,
		obs:     obs,
		clients: make(map[string]*Client),
	}
}

// Join registers a client for fanout.
func (h *Hub) Join(client *Client) {
	if h == nil || client == nil || client.SessionID == "" {
		return
	}

	h.mu.Lock()
	_, existed := h.clients[client.SessionID]
	h.clients[client.SessionID] = client
	h.mu.Unlock()

	if !existed {
		h.obs.ClientConnected()
	}
	h.log.Info("live.client.join", "session_id", client.SessionID, "user", client.User)
}

// Leave removes a client from fanout and signals its shutdown.
func (h *Hub) Leave(sessionID string) {
	if h == nil || sessionID == "" {
		return
	}

	h.mu.Lock()
	cl := h.clients[sessionID]
	delete(h.clients, sessionID)
	h.mu.Unlock()

	// Removed from the map first so no publisher still holds it while it tears down.
	if cl == nil {
		return
	}
	cl.Close()
	h.obs.ClientDisconnected()
	h.log.Info("live.client.leave", "session_id", sessionID, "user", cl.User)
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish fans ev out to every client allowed to see its message.
func (h *Hub) Publish(ev chat.Event) {
	if h == nil {
		return
	}
	env, ok := h.envelopeFor(ev)
	if !ok {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.clients {
		if c == nil || !ev.Message.VisibleTo(c.User) {
			continue
		}

		select {
		case <-c.Done():
			continue
		default:
		}

		select {
		case c.Send <- env:
		default:
			h.obs.EventDropped()
			h.log.Warn("live.event.dropped", "session_id", c.SessionID, "type", env.Type)
		}
	}
}

func (h *Hub) envelopeFor(ev chat.Event) (v1.Envelope, bool) {
	var typ string
	switch ev.Kind {
	case chat.EventMessageNew:
		typ = v1.TypeMessageNew
	case chat.EventMessageUpdated:
		typ = v1.TypeMessageUpdated
	case chat.EventMessageDeleted:
		typ = v1.TypeMessageDeleted
	default:
		h.log.Warn("live.event.unknown", "kind", ev.Kind)
		return v1.Envelope{}, false
	}

	payload, err := json.Marshal(messagePayload(ev.Message))
	if err != nil {
		h.log.Error("live.event.encode.fail", "err", err)
		return v1.Envelope{}, false
	}
	return newEnvelope(typ, payload, ev.At.UTC()), true
}

func messagePayload(m chat.Message) v1.MessagePayload {
	return v1.MessagePayload{
		ID:   m.ID,
		From: m.From,
		To:   m.To,
		Text: m.Text,
		Type: m.Type,
		Time: m.Time,
	}
}

var _ chat.Notifier = (*Hub)(nil)
