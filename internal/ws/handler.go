package ws

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/technosupport/ts-analytics/internal/tokens"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browsers cannot set custom headers on WebSocket dials; origin
	// enforcement happens at the ingress.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Handler upgrades event-stream clients after validating the token
// passed as a query parameter. Invalid credentials get a policy
// violation close so browser clients can tell auth failures from
// network errors.
type Handler struct {
	hub    *Hub
	tokens *tokens.Manager
}

func NewHandler(hub *Hub, tokens *tokens.Manager) *Handler {
	return &Handler{hub: hub, tokens: tokens}
}

// Router mounts the event-stream endpoint.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Get("/ws/events", h.serve)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return r
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WARN] WS: upgrade failed: %v", err)
		return
	}

	claims, err := h.tokens.ValidateToken(r.URL.Query().Get("token"))
	if err != nil {
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "invalid token")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		conn.Close()
		return
	}
	log.Printf("WS: viewer %s connected", claims.UserID)

	h.hub.Add(r.Context(), conn)

	// Reads only serve to detect the peer going away.
	go func() {
		defer h.hub.Remove(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
