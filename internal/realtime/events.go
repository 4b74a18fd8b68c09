// file: internal/realtime/events.go
// version: 2.0.0
// guid: 9e8d7f6a-5c4b-3a21-0f9e-8d7c6b5a4392

// Package realtime fans connection and caching events out to SSE subscribers.
// Delivery is best-effort: a slow subscriber loses events, it never blocks the
// publisher or the other subscribers. There is no history; late subscribers
// see only future events.
package realtime

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	ulid "github.com/oklog/ulid/v2"

	"github.com/mangadeck/mangadeck/internal/metrics"
)

// EventType defines the type of real-time event
type EventType string

const (
	EventConnectionStatus EventType = "connection.status"
	EventCachingStarted   EventType = "caching.started"
	EventCachingProgress  EventType = "caching.progress"
	EventCachingFinished  EventType = "caching.finished"
	EventUploadStarted    EventType = "upload.started"
	EventUploadProgress   EventType = "upload.progress"
	EventUploadFinished   EventType = "upload.finished"
)

// Event represents a real-time event to send to clients
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Client represents a connected SSE subscriber
type Client struct {
	ID      string
	Channel chan *Event
}

// NewClient creates a new SSE client with a buffered delivery channel.
func NewClient(id string) *Client {
	return &Client{
		ID:      id,
		Channel: make(chan *Event, 100),
	}
}

// EventHub manages SSE connections and event distribution
type EventHub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewEventHub creates a new event hub
func NewEventHub() *EventHub {
	return &EventHub{
		clients: make(map[string]*Client),
	}
}

// RegisterClient registers a new client
func (h *EventHub) RegisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
	metrics.SetSSEClients(len(h.clients))
	log.Printf("[DEBUG] SSE client %s registered, total clients: %d", client.ID, len(h.clients))
}

// UnregisterClient removes a client
func (h *EventHub) UnregisterClient(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if client, exists := h.clients[clientID]; exists {
		close(client.Channel)
		delete(h.clients, clientID)
		metrics.SetSSEClients(len(h.clients))
		log.Printf("[DEBUG] SSE client %s unregistered, remaining clients: %d", clientID, len(h.clients))
	}
}

// Broadcast sends an event to every connected client. A client whose channel
// is full has the event dropped.
func (h *EventHub) Broadcast(event *Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients {
		select {
		case client.Channel <- event:
		default:
			log.Printf("[WARN] SSE client %s channel full, dropping event %s", client.ID, event.Type)
		}
	}
}

// Publish builds and broadcasts an event of the given type.
func (h *EventHub) Publish(eventType EventType, data map[string]interface{}) {
	h.Broadcast(&Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	})
}

// GetClientCount returns the number of connected clients
func (h *EventHub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleSSE handles a Server-Sent Events connection
func (h *EventHub) HandleSSE(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache, no-transform")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	clientID := ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
	client := NewClient(clientID)

	h.RegisterClient(client)
	defer h.UnregisterClient(clientID)

	initial := &Event{
		Type:      "connection.established",
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"client_id": clientID},
	}
	if data, err := json.Marshal(initial); err == nil {
		_, _ = c.Writer.Write([]byte(fmt.Sprintf("data: %s\n\n", data)))
		c.Writer.Flush()
	}

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			log.Printf("[DEBUG] SSE client %s connection closed", clientID)
			return
		case event, ok := <-client.Channel:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				log.Printf("[ERROR] Failed to marshal event: %v", err)
				continue
			}
			if _, err := c.Writer.Write([]byte(fmt.Sprintf("data: %s\n\n", data))); err != nil {
				log.Printf("[WARN] Failed to write to SSE client %s: %v", clientID, err)
				return
			}
			c.Writer.Flush()
		case <-ticker.C:
			heartbeat := map[string]interface{}{
				"type":      "heartbeat",
				"timestamp": time.Now(),
			}
			if data, err := json.Marshal(heartbeat); err == nil {
				_, _ = c.Writer.Write([]byte(fmt.Sprintf("data: %s\n\n", data)))
				c.Writer.Flush()
			}
		}
	}
}
