package bus

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"shrike/internal/metrics"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pingPeriod     = 30 * time.Second
	pongWait       = pingPeriod + 10*time.Second
	clientSendSize = 64
)

// Frame is the envelope pushed to every live subscriber. Data carries the
// bus message verbatim.
type Frame struct {
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

type hubClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans bus traffic out to the connected dashboard sockets. Delivery is
// best-effort and at-most-once: subscribers joining after a message was
// published never see it, and a subscriber that cannot keep up is dropped
// rather than buffered without bound.
type Hub struct {
	mu       sync.Mutex
	clients  map[*hubClient]struct{}
	upgrader websocket.Upgrader
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*hubClient]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// HandleWS upgrades an incoming dashboard connection and serves it until the
// peer goes away.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("WebSocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	client := &hubClient{conn: conn, send: make(chan []byte, clientSendSize)}

	h.mu.Lock()
	h.clients[client] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()
	metrics.LiveSubscribers.Set(float64(total))

	log.Info("WebSocket client connected", "remote", r.RemoteAddr, "subscribers", total)

	go h.writePump(client)
	h.readPump(client, r.RemoteAddr)
}

// Broadcast wraps data in the topic envelope and pushes it to every client
// connected right now.
func (h *Hub) Broadcast(topic string, data []byte) {
	frame, err := json.Marshal(Frame{Topic: topic, Data: data})
	if err != nil {
		log.Error("Failed to build broadcast frame", "topic", topic, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		select {
		case client.send <- frame:
		default:
			// Slow consumer: drop it instead of stalling the relay.
			h.dropLocked(client)
		}
	}
}

// CloseAll disconnects every subscriber, used during shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		h.dropLocked(client)
	}
}

func (h *Hub) drop(client *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(client)
}

func (h *Hub) dropLocked(client *hubClient) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)
	metrics.LiveSubscribers.Set(float64(len(h.clients)))
}

// writePump delivers frames and probes liveness with periodic pings; a
// missed write or ping tears the connection down.
func (h *Hub) writePump(client *hubClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = client.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-client.send:
			if !ok {
				_ = client.conn.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(writeWait))
				return
			}
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				h.drop(client)
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.drop(client)
				return
			}
		}
	}
}

// readPump consumes pongs and client frames until disconnect. Subscribers
// have nothing to say beyond keep-alive, so inbound payloads are discarded.
func (h *Hub) readPump(client *hubClient, remote string) {
	defer func() {
		h.drop(client)
		_ = client.conn.Close()
		log.Info("WebSocket client disconnected", "remote", remote)
	}()

	client.conn.SetReadLimit(1024)
	_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}
