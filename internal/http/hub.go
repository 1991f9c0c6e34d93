package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"anpr-tracker/internal/domain/anpr"
)

const (
	MessageAlert          = "alert"
	MessageCaptureRequest = "capture_request"
)

// Message is the envelope pushed to every websocket subscriber.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Hub fans engine events out to websocket subscribers. It implements the
// engine's AlertNotifier and CaptureRequester; publishing never blocks and a
// full queue drops the message.
type Hub struct {
	log        zerolog.Logger
	upgrader   websocket.Upgrader
	clients    map[*websocket.Conn]struct{}
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	broadcast  chan []byte
	done       chan struct{}
	count      atomic.Int64
	writeWait  time.Duration
}

func NewHub(allowedOrigins []string, log zerolog.Logger) *Hub {
	return &Hub{
		log: log,
		upgrader: websocket.Upgrader{
			CheckOrigin: originChecker(allowedOrigins),
		},
		clients:    make(map[*websocket.Conn]struct{}),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		broadcast:  make(chan []byte, 64),
		done:       make(chan struct{}),
		writeWait:  time.Second,
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}

// Run owns the subscriber set until ctx is cancelled, then closes every
// connection.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for conn := range h.clients {
				h.drop(conn)
			}
			return

		case conn := <-h.register:
			h.clients[conn] = struct{}{}
			h.count.Store(int64(len(h.clients)))
			h.log.Info().Int("clients", len(h.clients)).Msg("websocket client connected")

		case conn := <-h.unregister:
			if _, ok := h.clients[conn]; ok {
				h.drop(conn)
				h.log.Info().Int("clients", len(h.clients)).Msg("websocket client disconnected")
			}

		case msg := <-h.broadcast:
			for conn := range h.clients {
				_ = conn.SetWriteDeadline(time.Now().Add(h.writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					h.log.Warn().Err(err).Msg("websocket write failed, dropping client")
					h.drop(conn)
				}
			}
		}
	}
}

func (h *Hub) drop(conn *websocket.Conn) {
	delete(h.clients, conn)
	h.count.Store(int64(len(h.clients)))
	_ = conn.Close()
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	return int(h.count.Load())
}

func (h *Hub) NotifyAlert(ev anpr.AlertEvent) {
	h.publish(MessageAlert, ev)
}

func (h *Hub) RequestCapture(req anpr.CaptureRequest) {
	h.publish(MessageCaptureRequest, req)
}

func (h *Hub) publish(kind string, data any) {
	payload, err := json.Marshal(Message{Type: kind, Data: data})
	if err != nil {
		h.log.Error().Err(err).Str("type", kind).Msg("failed to encode websocket message")
		return
	}
	select {
	case h.broadcast <- payload:
	default:
		h.log.Warn().Str("type", kind).Msg("websocket queue full, dropping message")
	}
}

// Serve upgrades the request and keeps the connection registered until the
// client goes away.
func (h *Hub) Serve(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("failed to upgrade websocket")
		return
	}

	select {
	case h.register <- conn:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go func() {
		defer func() {
			select {
			case h.unregister <- conn:
			case <-h.done:
			}
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.log.Debug().Err(err).Msg("websocket read error")
				}
				return
			}
		}
	}()
}
