package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/atmx/market-feed/internal/metrics"
	"github.com/atmx/market-feed/internal/model"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
)

// hubClient is one WebSocket connection. An empty filter receives everything.
type hubClient struct {
	conn   *websocket.Conn
	filter map[string]bool
}

func (c *hubClient) wants(id string) bool {
	return len(c.filter) == 0 || c.filter[id]
}

type hubMessage struct {
	instrumentID string
	data         []byte
}

// Hub manages WebSocket connections and broadcasts notifications to every
// connected client whose instrument filter matches.
type Hub struct {
	clients    map[*websocket.Conn]*hubClient
	broadcast  chan hubMessage
	register   chan *hubClient
	unregister chan *websocket.Conn
	done       chan struct{}
	mu         sync.RWMutex
	logger     *slog.Logger
}

// NewHub creates a new WebSocket hub. bufferSize bounds pending broadcasts.
func NewHub(bufferSize int, logger *slog.Logger) *Hub {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*websocket.Conn]*hubClient),
		broadcast:  make(chan hubMessage, bufferSize),
		register:   make(chan *hubClient),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		logger:     logger.With("component", "ws_hub"),
	}
}

// Run is the hub's event loop. It returns when ctx is done, closing every
// client connection.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			metrics.WebSocketClients.Set(0)
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.conn] = c
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(total))
			h.logger.Info("ws client connected", "total", total)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(total))

		case msg := <-h.broadcast:
			h.mu.Lock()
			for conn, c := range h.clients {
				if !c.wants(msg.instrumentID) {
					continue
				}
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, msg.data); err != nil {
					conn.Close()
					delete(h.clients, conn)
				}
			}
			total := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(total))
		}
	}
}

// Notify queues a notification for broadcast. It never blocks; when the
// buffer is full the notification is dropped and ErrDropped returned.
func (h *Hub) Notify(n model.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- hubMessage{instrumentID: n.InstrumentID, data: data}:
		return nil
	default:
		return ErrDropped
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // Allow all origins during development.
	},
}

// HandleWS upgrades GET /api/v1/ws. The optional "instruments" query
// parameter is a comma-separated identifier filter.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws upgrade failed", "err", err)
		return
	}

	c := &hubClient{conn: conn, filter: parseFilter(r.URL.Query().Get("instruments"))}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	// Read pump: keep connection alive and detect disconnects.
	go func() {
		defer func() {
			select {
			case h.unregister <- conn:
			case <-h.done:
			}
		}()
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()

	// Ping ticker to keep connection alive through proxies. WriteControl may
	// run concurrently with the hub's WriteMessage.
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for range ticker.C {
			h.mu.RLock()
			_, ok := h.clients[conn]
			h.mu.RUnlock()
			if !ok {
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}()
}

func parseFilter(raw string) map[string]bool {
	if raw == "" {
		return nil
	}
	filter := make(map[string]bool)
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			filter[id] = true
		}
	}
	return filter
}
