package services

import (
	"log"
	"sync"
	"time"

	"github.com/SeoHyeokGyu/planit-sub001/middleware"
)

const (
	clientBufferSize  = 8
	heartbeatInterval = 25 * time.Second
)

// StreamEvent is one named server-sent event.
type StreamEvent struct {
	Name string
	Data any
}

// StreamClient owns the outbound event channel for a single connection.
type StreamClient struct {
	UserID string
	Events chan StreamEvent
}

// StreamHub fans ranking updates out to every connected stream. One writer
// (the award path) broadcasts to N reader connections; a slow or dead client
// misses events rather than blocking the award path, and re-fetches the
// authoritative Top-N over REST when it reconnects.
type StreamHub struct {
	mu       sync.RWMutex
	clients  map[*StreamClient]bool
	stopChan chan struct{}
	stopOnce sync.Once
}

func NewStreamHub() *StreamHub {
	hub := &StreamHub{
		clients:  make(map[*StreamClient]bool),
		stopChan: make(chan struct{}),
	}

	go hub.heartbeatLoop()

	return hub
}

// Register adds a connection and returns its client handle. The caller must
// Unregister when the connection ends.
func (h *StreamHub) Register(userID string) *StreamClient {
	client := &StreamClient{
		UserID: userID,
		Events: make(chan StreamEvent, clientBufferSize),
	}

	h.mu.Lock()
	h.clients[client] = true
	total := len(h.clients)
	h.mu.Unlock()

	middleware.SetStreamClients(total)
	log.Printf("StreamHub: client registered for %s. Total clients: %d", userID, total)
	return client
}

// Unregister removes the client and closes its channel. Safe to call more
// than once for the same client.
func (h *StreamHub) Unregister(client *StreamClient) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.Events)
	}
	total := len(h.clients)
	h.mu.Unlock()

	middleware.SetStreamClients(total)
	log.Printf("StreamHub: client unregistered. Total clients: %d", total)
}

// Broadcast delivers the event to every connected client. Sends never block:
// a client whose buffer is full drops the event and resyncs from the REST API
// on its next fetch.
func (h *StreamHub) Broadcast(event StreamEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		select {
		case client.Events <- event:
		default:
			log.Printf("StreamHub: dropping %s event for slow client %s", event.Name, client.UserID)
		}
	}
}

// ClientCount returns the number of currently connected clients.
func (h *StreamHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *StreamHub) heartbeatLoop() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// Keep-alive only; clients must not treat this as a data update.
			h.Broadcast(StreamEvent{
				Name: "heartbeat",
				Data: map[string]int64{"timestamp": time.Now().Unix()},
			})
		case <-h.stopChan:
			return
		}
	}
}

// Shutdown stops the heartbeat and disconnects every client.
func (h *StreamHub) Shutdown() {
	h.stopOnce.Do(func() {
		close(h.stopChan)

		h.mu.Lock()
		for client := range h.clients {
			delete(h.clients, client)
			close(client.Events)
		}
		h.mu.Unlock()

		middleware.SetStreamClients(0)
		log.Println("StreamHub: shut down")
	})
}
