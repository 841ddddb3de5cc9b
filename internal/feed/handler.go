package feed

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/anfrage-erp/anfrage/internal/platform/httpx"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Handler upgrades feed requests to websocket connections.
type Handler struct {
	hub      *Hub
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewHandler builds a handler. checkOrigin may be nil to use the same-origin default.
func NewHandler(hub *Hub, logger *slog.Logger, checkOrigin func(*http.Request) bool) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		hub:    hub,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
	}
}

// MountRoutes registers GET /{collection}.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{collection}", h.serve)
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request) {
	topic := chi.URLParam(r, "collection")
	if !h.hub.Has(topic) {
		httpx.RespondError(w, httpx.ErrNotFound)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("feed upgrade failed", slog.Any("error", err))
		return
	}
	c := h.hub.register(topic)
	if frame, ok := h.hub.Frame(topic); ok {
		select {
		case c.send <- frame:
		default:
		}
	}
	go h.writeLoop(conn, c)
	h.readLoop(conn, c)
}

// readLoop discards client messages and returns when the peer goes away.
func (h *Handler) readLoop(conn *websocket.Conn, c *client) {
	defer func() {
		h.hub.unregister(c)
		conn.Close()
	}()
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("feed client closed", slog.Any("error", err))
			}
			return
		}
	}
}

func (h *Handler) writeLoop(conn *websocket.Conn, c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
