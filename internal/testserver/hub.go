package testserver

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/okian/goalboard/internal/domain/model"
	"github.com/okian/goalboard/pkg/logger"
)

const writeWait = time.Second

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) write(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

type hub struct {
	mu      sync.Mutex
	clients map[*wsClient]struct{}
	logger  logger.Logger
}

func newHub(l logger.Logger) *hub {
	return &hub{clients: make(map[*wsClient]struct{}), logger: l}
}

func (h *hub) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn(r.Context(), "upgrade failed", logger.Error(err))
		return
	}
	c := &wsClient{conn: conn}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	defer h.remove(c)
	// client frames are read and ignored, as the real service does
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *hub) remove(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	_ = c.conn.Close()
}

func (h *hub) broadcast(t model.EventType, data any) {
	frame, err := json.Marshal(struct {
		Type model.EventType `json:"type"`
		Data any             `json:"data"`
	}{t, data})
	if err != nil {
		h.logger.Error(context.Background(), "marshal broadcast", logger.Error(err))
		return
	}
	h.send(frame)
}

func (h *hub) send(frame []byte) {
	for _, c := range h.snapshot() {
		if err := c.write(frame); err != nil {
			h.logger.Debug(context.Background(), "broadcast write failed", logger.Error(err))
			h.remove(c)
		}
	}
}

func (h *hub) snapshot() []*wsClient {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	return out
}

func (h *hub) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *hub) closeAll() {
	for _, c := range h.snapshot() {
		h.remove(c)
	}
}
