package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/bodul/buzzbingo/internal/game"
	"github.com/bodul/buzzbingo/internal/observe"
)

const (
	sseChannelBuffer = 64
	sseHeartbeat     = 30 * time.Second
)

// client represents a single SSE connection.
type client struct {
	ch        chan string
	sessionID string
}

// Broadcaster fans session events out to SSE clients. It is the
// game.Notifier of every session in the store.
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	met     *observe.Metrics
	log     *slog.Logger
}

var _ game.Notifier = (*Broadcaster)(nil)

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster(met *observe.Metrics, log *slog.Logger) *Broadcaster {
	if met == nil {
		met = observe.DefaultMetrics()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Broadcaster{
		clients: make(map[*client]struct{}),
		met:     met,
		log:     log,
	}
}

// Register adds a client for a session and returns it.
func (b *Broadcaster) Register(sessionID string) *client {
	c := &client{
		ch:        make(chan string, sseChannelBuffer),
		sessionID: sessionID,
	}
	b.mu.Lock()
	b.clients[c] = struct{}{}
	b.mu.Unlock()
	b.met.EventClients.Add(context.Background(), 1)
	return c
}

// Unregister removes a client and closes its channel.
func (b *Broadcaster) Unregister(c *client) {
	b.mu.Lock()
	_, ok := b.clients[c]
	if ok {
		delete(b.clients, c)
		close(c.ch)
	}
	b.mu.Unlock()
	if ok {
		b.met.EventClients.Add(context.Background(), -1)
	}
}

// CloseSession disconnects every client of a session.
func (b *Broadcaster) CloseSession(sessionID string) {
	b.mu.Lock()
	n := 0
	for c := range b.clients {
		if c.sessionID == sessionID {
			delete(b.clients, c)
			close(c.ch)
			n++
		}
	}
	b.mu.Unlock()
	if n > 0 {
		b.met.EventClients.Add(context.Background(), int64(-n))
	}
}

// Broadcast sends a message to all clients of a session.
func (b *Broadcaster) Broadcast(sessionID, data string) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for c := range b.clients {
		if c.sessionID == sessionID {
			select {
			case c.ch <- data:
			default:
				// Channel full, skip slow client.
			}
		}
	}
}

// Notify encodes ev and broadcasts it to the session's clients.
func (b *Broadcaster) Notify(sessionID string, ev game.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		b.log.Error("encode event", "session", sessionID, "type", ev.Type, "err", err)
		return
	}
	b.Broadcast(sessionID, string(data))
}

// ClientCount returns the number of connected clients for a session.
func (b *Broadcaster) ClientCount(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := 0
	for c := range b.clients {
		if c.sessionID == sessionID {
			n++
		}
	}
	return n
}

// ServeSSE handles an SSE connection for a session.
func (b *Broadcaster) ServeSSE(w http.ResponseWriter, r *http.Request, sessionID string, onConnect func(c *client)) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		jsonError(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	c := b.Register(sessionID)
	defer b.Unregister(c)

	if onConnect != nil {
		onConnect(c)
	}
	// Send headers right away so the browser sees the stream open.
	flusher.Flush()

	ticker := time.NewTicker(sseHeartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-c.ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprintf(w, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}
