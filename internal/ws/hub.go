package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"discussion-service/internal/models"
	"discussion-service/internal/observability"
)

const (
	wsKind       = "notifications"
	wsRoutingKey = "ws_events.notifications"
	writeTimeout = 5 * time.Second
)

// Notification is a discussion event addressed to one user.
type Notification struct {
	UserID int                    `json:"user_id"`
	Event  models.DiscussionEvent `json:"event"`
}

// Relay fans notifications out to every service instance, including this one.
type Relay interface {
	Publish(ctx context.Context, n Notification) error
}

// Hub tracks the notification sockets of connected users.
type Hub struct {
	users map[int]map[*websocket.Conn]ConnInfo
	relay Relay
	mu    sync.RWMutex
	// gorilla connections allow one concurrent writer.
	writeMu sync.Mutex
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{users: make(map[int]map[*websocket.Conn]ConnInfo)}
}

// SetRelay routes NotifyUser through relay instead of delivering locally.
func (h *Hub) SetRelay(relay Relay) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.relay = relay
}

// AddClient registers a websocket connection for a user.
func (h *Hub) AddClient(userID int, conn *websocket.Conn, info ConnInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.users[userID]; !ok {
		h.users[userID] = make(map[*websocket.Conn]ConnInfo)
	}
	h.users[userID][conn] = info
}

// RemoveClient removes a user's websocket connection.
func (h *Hub) RemoveClient(userID int, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.users[userID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.users, userID)
		}
	}
}

// Connected reports how many sockets the user has open on this instance.
func (h *Hub) Connected(userID int) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

// NotifyUser sends event to every socket of userID. With a relay the notification goes through
// it so sockets held by other instances get it too; if the relay fails it is delivered locally.
func (h *Hub) NotifyUser(ctx context.Context, userID int, event models.DiscussionEvent) {
	n := Notification{UserID: userID, Event: event}

	h.mu.RLock()
	relay := h.relay
	h.mu.RUnlock()
	if relay != nil {
		err := relay.Publish(ctx, n)
		if err == nil {
			return
		}
		log.Printf("notification relay publish failed user_id=%d: %v", userID, err)
	}
	h.Deliver(n)
}

// Deliver writes n to the sockets of its user held by this instance.
func (h *Hub) Deliver(n Notification) {
	h.mu.RLock()
	conns := make(map[*websocket.Conn]ConnInfo, len(h.users[n.UserID]))
	for conn, info := range h.users[n.UserID] {
		conns[conn] = info
	}
	h.mu.RUnlock()
	if len(conns) == 0 {
		return
	}

	payload, _ := json.Marshal(n.Event)
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	for conn, info := range conns {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			log.Printf("websocket write error: %v", err)
			conn.Close()
			h.RemoveClient(n.UserID, conn)
			publishWSEvent(context.Background(), "ws_error", info, err.Error())
			continue
		}
		observability.IncWSEvent(wsKind, n.Event.Type)
	}
}

// publishWSEvent reports a socket lifecycle event on the bus.
func publishWSEvent(ctx context.Context, name string, info ConnInfo, reason string) {
	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"kind":        wsKind,
			"event":       name,
			"conn_id":     info.ConnID,
			"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"user_id":   info.UserID,
			"device_id": info.DeviceID,
			"ip":        info.IP,
		},
	}

	_ = observability.PublishEvent(ctx, wsRoutingKey, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: name,
		RequestID: info.RequestID,
		TraceID:   info.TraceID,
		Payload:   payload,
	})
	observability.IncWSEvent(wsKind, name)
}
