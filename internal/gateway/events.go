package gateway

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Jelgon94/hr-voice-agent/internal/turn"
)

const writeWait = 5 * time.Second

var eventsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Allow any origin for local use; restrict in production
		return true
	},
}

// Hub pushes state snapshots to every connected UI. Slow or broken clients
// are dropped instead of stalling the broadcast.
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*websocket.Conn]struct{})}
}

// ServeWS upgrades the request, delivers the current snapshot, then keeps
// the client subscribed until its socket closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, current turn.Snapshot) {
	conn, err := eventsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("gateway: events upgrade error: %v", err)
		return
	}

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(current); err != nil {
		delete(h.clients, conn)
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.mu.Unlock()

	// Reader only detects close; clients send nothing meaningful.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.drop(conn)
				return
			}
		}
	}()
}

// Broadcast sends one snapshot to every client.
func (h *Hub) Broadcast(snap turn.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(snap); err != nil {
			delete(h.clients, conn)
			_ = conn.Close()
		}
	}
}

func (h *Hub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
	_ = conn.Close()
}
