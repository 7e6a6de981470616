// Package opsapi exposes the ops-only HTTP surface named in SPEC_FULL.md §1
// and §6: health, Prometheus metrics, and a read-only WebSocket event
// stream. It deliberately does not implement the CRUD-style task façade
// (create/cancel/list over HTTP) — that stays an external collaborator.
package opsapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/icij/taskworker/domain"
)

// EventType labels the kind of task event broadcast over /ws/events.
type EventType string

// TaskStatusChanged is the only event type this surface emits: a task's
// resolved status changed (per publisher.Publish's resolution result).
const TaskStatusChanged EventType = "task_status_changed"

// Event is the JSON envelope sent to every connected WebSocket client.
type Event struct {
	Type    EventType   `json:"type"`
	Payload interface{} `json:"payload"`
}

// TaskEventPayload is the Payload shape for a TaskStatusChanged event.
type TaskEventPayload struct {
	Project  string            `json:"project"`
	TaskID   string            `json:"task_id"`
	Type     string            `json:"type"`
	Status   domain.TaskStatus `json:"status"`
	Retries  int               `json:"retries"`
	Progress *float64          `json:"progress,omitempty"`
}

var upgrader = websocket.Upgrader{
	// This is a read-only stream with no cross-origin credentials at
	// stake; any origin may subscribe.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub maintains the set of subscribed WebSocket clients and broadcasts task
// events to all of them. It implements publisher.Notifier.
type Hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]struct{}
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*websocket.Conn]struct{})}
}

// ServeWS upgrades the connection and registers it as a subscriber. The
// stream is one-directional (server to client); inbound messages are read
// and discarded, and a read error (such as a closed connection) unregisters
// the client.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	h.register(conn)
	defer h.unregister(conn)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// NotifyTaskStatus broadcasts a TaskStatusChanged event built from t to
// every connected client. It satisfies publisher.Notifier.
func (h *Hub) NotifyTaskStatus(ctx context.Context, t *domain.Task) {
	h.Broadcast(ctx, Event{
		Type: TaskStatusChanged,
		Payload: TaskEventPayload{
			Project:  t.Project,
			TaskID:   t.ID,
			Type:     t.Type,
			Status:   t.Status,
			Retries:  t.Retries,
			Progress: t.Progress,
		},
	})
}

// Broadcast sends event to every currently connected client. Clients that
// have disconnected are silently removed.
func (h *Hub) Broadcast(ctx context.Context, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	h.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		select {
		case <-ctx.Done():
			return
		default:
			if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
				h.unregister(c)
			}
		}
	}
}

func (h *Hub) register(c *websocket.Conn) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	_ = c.Close()
}
