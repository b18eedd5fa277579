package job

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/stocksim/portfolio-engine/internal/model"
)

// Event is pushed to WebSocket subscribers whenever a batch job finishes,
// so admin dashboards see outcomes without polling.
type Event struct {
	Type      string             `json:"type"` // job name
	Period    string             `json:"period,omitempty"`
	Summary   model.BatchSummary `json:"summary"`
	Duration  string             `json:"duration"`
	Timestamp time.Time          `json:"timestamp"`
}

const (
	pongWait      = 60 * time.Second
	pingInterval  = 30 * time.Second
	sendQueueSize = 16
)

// Hub fans job events out to connected WebSocket clients. Each client gets
// its own buffered send queue and writer goroutine; a client that cannot
// keep up is dropped rather than allowed to stall a job broadcast.
type Hub struct {
	mu   sync.Mutex
	subs map[*websocket.Conn]chan []byte
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[*websocket.Conn]chan []byte)}
}

// Broadcast queues an event for every subscriber.
func (h *Hub) Broadcast(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, queue := range h.subs {
		select {
		case queue <- data:
		default:
			// Slow consumer: close the queue, the writer tears down.
			delete(h.subs, conn)
			close(queue)
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // Allow all origins during development.
	},
}

// HandleWS upgrades the request and subscribes the client to job events.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	queue := make(chan []byte, sendQueueSize)
	h.mu.Lock()
	h.subs[conn] = queue
	total := len(h.subs)
	h.mu.Unlock()
	slog.Info("ws client connected", "total", total)

	go h.writeLoop(conn, queue)
	go h.readLoop(conn)
}

// writeLoop drains the client's queue and pings it to keep intermediaries
// from closing the connection.
func (h *Hub) writeLoop(conn *websocket.Conn, queue chan []byte) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case data, ok := <-queue:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.drop(conn)
				return
			}
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.drop(conn)
				return
			}
		}
	}
}

// readLoop discards inbound frames; it exists to surface disconnects and
// service pong control frames.
func (h *Hub) readLoop(conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.drop(conn)
			return
		}
	}
}

func (h *Hub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if queue, ok := h.subs[conn]; ok {
		delete(h.subs, conn)
		close(queue)
	}
	conn.Close()
}
