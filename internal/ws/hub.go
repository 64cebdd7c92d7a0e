package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/technosupport/ts-analytics/internal/metrics"
)

// Hub fans bus events out to every connected client. A failed send
// drops that client; the event still reaches the rest.
type Hub struct {
	cache *LatestCache

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

func NewHub(cache *LatestCache) *Hub {
	return &Hub{
		cache: cache,
		conns: make(map[*websocket.Conn]struct{}),
	}
}

// Add registers a client and replays the latest per-camera snapshot.
func (h *Hub) Add(ctx context.Context, conn *websocket.Conn) {
	if h.cache != nil {
		snapshot, err := h.cache.Snapshot(ctx)
		if err != nil {
			log.Printf("[WARN] WS: snapshot replay failed: %v", err)
		}
		for _, body := range snapshot {
			if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
				conn.Close()
				return
			}
		}
	}

	h.mu.Lock()
	h.conns[conn] = struct{}{}
	total := len(h.conns)
	h.mu.Unlock()
	metrics.WsClientsConnected.Set(float64(total))
	log.Printf("WS: client connected, %d active", total)
}

// Remove drops a client.
func (h *Hub) Remove(conn *websocket.Conn) {
	h.mu.Lock()
	_, ok := h.conns[conn]
	delete(h.conns, conn)
	total := len(h.conns)
	h.mu.Unlock()
	conn.Close()
	if ok {
		metrics.WsClientsConnected.Set(float64(total))
		log.Printf("WS: client disconnected, %d active", total)
	}
}

// Broadcast forwards one bus payload verbatim to every client and
// refreshes the per-camera snapshot cache.
func (h *Hub) Broadcast(ctx context.Context, body []byte) {
	if h.cache != nil {
		var meta struct {
			CameraName string `json:"camera_name"`
		}
		if err := json.Unmarshal(body, &meta); err == nil && meta.CameraName != "" {
			if err := h.cache.Store(ctx, meta.CameraName, body); err != nil {
				log.Printf("[WARN] WS: %v", err)
			}
		}
	}

	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
			log.Printf("[WARN] WS: dropping client after failed send: %v", err)
			h.Remove(conn)
		}
	}
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}
