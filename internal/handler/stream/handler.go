// Package stream delivers job events to clients over WebSocket and SSE. Both
// transports register into the shared connection registry; a user may hold
// any mix of them at once.
package stream

import (
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/actionsync/backend/internal/model/event"
	"github.com/actionsync/backend/internal/service/connection"
	"github.com/actionsync/backend/pkg/utils"
)

const (
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 30 * time.Second

	// sseBuffer bounds the per-connection queue; a client that cannot drain
	// it is dropped rather than allowed to stall the broadcast.
	sseBuffer = 64
)

// Handler upgrades and registers client connections.
type Handler struct {
	conns    *connection.Manager
	upgrader websocket.Upgrader
}

// New creates the stream handler.
func New(conns *connection.Manager) *Handler {
	return &Handler{
		conns: conns,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes mounts the SSE endpoint under the API router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/events", h.handleSSE)
}

// RegisterWebSocketRoutes mounts the WebSocket endpoint at the root router;
// it lives outside /api to match what frontend WS clients expect.
func (h *Handler) RegisterWebSocketRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
}

func userID(r *http.Request) string {
	if id := r.URL.Query().Get("user"); id != "" {
		return id
	}
	return r.Header.Get("X-User-ID")
}

// wsConn adapts a gorilla connection to the registry. Send is safe for
// concurrent use; gorilla allows only one writer at a time.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) Send(ev event.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(ev)
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id := userID(r)
	if id == "" {
		utils.RespondError(w, http.StatusBadRequest, "user query parameter is required")
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[stream] websocket upgrade failed: %v", err)
		return
	}

	conn := &wsConn{conn: ws}
	h.conns.Register(id, conn)
	log.Printf("[stream] websocket connected user=%s", id)

	defer func() {
		h.conns.Unregister(id, conn)
		ws.Close()
		log.Printf("[stream] websocket disconnected user=%s", id)
	}()

	ws.SetReadLimit(4096)
	ws.SetReadDeadline(time.Now().Add(pongTimeout))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.ping(); err != nil {
					return
				}
			}
		}
	}()
	defer close(done)

	// Clients only listen; the read loop exists to notice disconnects and
	// answer pings.
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[stream] websocket read error user=%s: %v", id, err)
			}
			return
		}
	}
}

// sseConn queues events for one EventSource client.
type sseConn struct {
	ch chan event.Event
}

var errSlowClient = errors.New("sse client too slow")

func (c *sseConn) Send(ev event.Event) error {
	select {
	case c.ch <- ev:
		return nil
	default:
		return errSlowClient
	}
}

func (h *Handler) handleSSE(w http.ResponseWriter, r *http.Request) {
	id := userID(r)
	if id == "" {
		utils.RespondError(w, http.StatusBadRequest, "user query parameter is required")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	utils.SetupSSEHeaders(w)

	conn := &sseConn{ch: make(chan event.Event, sseBuffer)}
	h.conns.Register(id, conn)
	log.Printf("[stream] sse connected user=%s", id)
	defer func() {
		h.conns.Unregister(id, conn)
		log.Printf("[stream] sse disconnected user=%s", id)
	}()

	utils.SendSSEChunk(w, flusher, map[string]string{"type": "connected"})

	heartbeat := time.NewTicker(pingInterval)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			utils.SendSSEChunk(w, flusher, map[string]string{"type": "heartbeat"})
		case ev := <-conn.ch:
			utils.SendSSEChunk(w, flusher, ev)
		}
	}
}
