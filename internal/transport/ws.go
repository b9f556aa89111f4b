package transport

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agentmesh/relay/internal/models"
)

const wsWriteTimeout = 10 * time.Second

// WSHandle adapts a websocket connection to the Handle interface.
// gorilla/websocket allows one concurrent writer, so writes are
// serialized behind a mutex.
type WSHandle struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWSHandle wraps an upgraded websocket connection.
func NewWSHandle(conn *websocket.Conn) *WSHandle {
	return &WSHandle{conn: conn}
}

func (h *WSHandle) Send(msg *models.WireMessage) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return h.conn.WriteJSON(msg)
}

func (h *WSHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conn.Close()
}
