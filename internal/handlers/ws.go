package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/agentmesh/relay/internal/transport"
)

const (
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Origin checks belong to the deployment's ingress layer.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WS upgrades the connection and registers it as the endpoint for the
// identity in the path. The connection drains any offline backlog on
// register and receives routed messages until it closes.
func (h *Handler) WS(logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if !validID(id) {
			h.Error(w, http.StatusBadRequest, "invalid endpoint id")
			return
		}
		kind := r.URL.Query().Get("kind")
		if kind == "" {
			kind = "agent"
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn().Err(err).Str("id", id).Msg("websocket upgrade failed")
			return
		}

		handle := transport.NewWSHandle(conn)
		h.svc.Transport().Register(r.Context(), id, kind, handle)

		go wsPingLoop(conn, logger)

		// Read pump: the relay pushes, clients only send control frames.
		conn.SetReadLimit(4096)
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}

		h.svc.Transport().UnregisterHandle(id, handle)
	}
}

func wsPingLoop(conn *websocket.Conn, logger zerolog.Logger) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for range ticker.C {
		deadline := time.Now().Add(10 * time.Second)
		if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
			return
		}
	}
}
