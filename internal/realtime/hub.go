// Package realtime streams session states to websocket clients per bay.
package realtime

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"carwash-backend/internal/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 32
)

type client struct {
	bayID int64
	conn  *websocket.Conn
	send  chan []byte
	once  sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub fans session states out to the websocket clients watching each bay.
type Hub struct {
	upgrader websocket.Upgrader
	log      *zap.Logger

	mu      sync.RWMutex
	clients map[int64]map[*client]struct{}
}

// NewHub creates an empty Hub.
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log:     log,
		clients: make(map[int64]map[*client]struct{}),
	}
}

// Publish implements session.Observer. Slow clients are disconnected rather
// than waited for.
func (h *Hub) Publish(s session.State) {
	msg, err := json.Marshal(s)
	if err != nil {
		h.log.Error("failed to encode session state", zap.Error(err))
		return
	}

	h.mu.RLock()
	var slow []*client
	for c := range h.clients[s.BayID] {
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.log.Warn("websocket client too slow, disconnecting", zap.Int64("bay_id", c.bayID))
		h.unregister(c)
	}
}

// Clients reports how many clients watch the bay.
func (h *Hub) Clients(bayID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[bayID])
}

// Serve upgrades the request and streams the bay's states to it. initial,
// when not nil, is sent first.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, bayID int64, initial *session.State) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := &client{bayID: bayID, conn: conn, send: make(chan []byte, sendBuffer)}
	if initial != nil {
		if msg, err := json.Marshal(initial); err == nil {
			c.send <- msg
		}
	}
	h.register(c)

	go h.writePump(c)
	go h.readPump(c)
	return nil
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for bayID, set := range h.clients {
		for c := range set {
			c.close()
		}
		delete(h.clients, bayID)
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	set, ok := h.clients[c.bayID]
	if !ok {
		set = make(map[*client]struct{})
		h.clients[c.bayID] = set
	}
	set[c] = struct{}{}
	h.mu.Unlock()
	h.log.Debug("websocket client connected", zap.Int64("bay_id", c.bayID))
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if set, ok := h.clients[c.bayID]; ok {
		if _, ok := set[c]; ok {
			delete(set, c)
			if len(set) == 0 {
				delete(h.clients, c.bayID)
			}
		}
	}
	h.mu.Unlock()
	c.close()
}

// readPump only watches for the peer going away; clients never send data.
func (h *Hub) readPump(c *client) {
	defer h.unregister(c)
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
