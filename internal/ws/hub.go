package ws

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"dm-service/internal/observability"
	"dm-service/internal/push"
)

// Hub tracks the websocket connections of this instance, grouped by
// conversation topic.
type Hub struct {
	rooms    map[string]map[*websocket.Conn]bool
	connInfo map[string]map[*websocket.Conn]ConnInfo
	mu       sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		rooms:    make(map[string]map[*websocket.Conn]bool),
		connInfo: make(map[string]map[*websocket.Conn]ConnInfo),
	}
}

// AddClient registers a websocket connection under a topic.
func (h *Hub) AddClient(topic string, conn *websocket.Conn, info ConnInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[topic]; !ok {
		h.rooms[topic] = make(map[*websocket.Conn]bool)
	}
	h.rooms[topic][conn] = true
	if _, ok := h.connInfo[topic]; !ok {
		h.connInfo[topic] = make(map[*websocket.Conn]ConnInfo)
	}
	h.connInfo[topic][conn] = info
}

// RemoveClient removes a websocket connection from a topic.
func (h *Hub) RemoveClient(topic string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.rooms[topic]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.rooms, topic)
		}
	}
	if infos, ok := h.connInfo[topic]; ok {
		delete(infos, conn)
		if len(infos) == 0 {
			delete(h.connInfo, topic)
		}
	}
}

// RoomSize reports the number of connections on a topic.
func (h *Hub) RoomSize(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[topic])
}

// Broadcast writes the event to every connection on the topic. Dead
// connections are closed and dropped.
func (h *Hub) Broadcast(topic string, ev push.Event) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.rooms[topic]))
	for conn := range h.rooms[topic] {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf("ws: marshal event: %v", err)
		return
	}
	for _, conn := range conns {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			log.Printf("websocket write error: %v", err)
			conn.Close()
			h.RemoveClient(topic, conn)
			observability.IncWSEvent("ws_error")
		}
	}
}
