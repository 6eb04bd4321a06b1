package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"lyra/internal/domain"
	"lyra/internal/protocol"
	"lyra/internal/session"
)

const (
	clientQueueSize = 64
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = 50 * time.Second
	maxFrameBytes   = 1 << 20
)

// eventFrame is pushed to every client.
type eventFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// commandFrame is sent by a client; replyFrame answers it.
type commandFrame struct {
	ID      string          `json:"id"`
	Command string          `json:"command"`
	Args    json.RawMessage `json:"args"`
}

type replyFrame struct {
	ID     string `json:"id"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Hub fans backend events out to WebSocket clients. It implements
// ports.EventSink, so it can be built before the services it reports on.
type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger: logger.With("component", "bridge"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     localOrigin,
		},
		clients: make(map[*client]struct{}),
	}
}

// localOrigin accepts requests without an Origin header and browser pages
// served from the loopback interface.
func localOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return isLoopbackName(u.Hostname())
}

func isLoopbackName(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Handler upgrades requests and serves each client until it disconnects.
// Command frames from the client run against commands.
func (h *Hub) Handler(commands *Commands) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.serve(commands, w, r)
	}
}

func (h *Hub) serve(commands *Commands, w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, clientQueueSize),
		done: make(chan struct{}),
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Info("bridge client connected", "remote", r.RemoteAddr)

	go h.writeLoop(c)
	h.readLoop(r.Context(), commands, c)

	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
	h.logger.Info("bridge client disconnected", "remote", r.RemoteAddr)
}

func (h *Hub) readLoop(ctx context.Context, commands *Commands, c *client) {
	c.conn.SetReadLimit(maxFrameBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) &&
				!errors.Is(err, net.ErrClosed) {
				h.logger.Debug("websocket read ended", "error", err)
			}
			return
		}

		var frame commandFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			h.reply(c, replyFrame{Error: "malformed command frame"})
			continue
		}
		result, err := commands.Execute(ctx, frame.Command, frame.Args)
		reply := replyFrame{ID: frame.ID, Result: result}
		if err != nil {
			reply.Error = err.Error()
		}
		h.reply(c, reply)
	}
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				h.logger.Debug("websocket write failed", "error", err)
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}

// reply queues a command answer, waiting for room unlike broadcasts.
func (h *Hub) reply(c *client, reply replyFrame) {
	payload, err := json.Marshal(reply)
	if err != nil {
		h.logger.Warn("failed to encode reply", "error", err)
		return
	}
	select {
	case c.send <- payload:
	case <-c.done:
	}
}

func (h *Hub) broadcast(event string, data any) {
	payload, err := json.Marshal(eventFrame{Event: event, Data: data})
	if err != nil {
		h.logger.Warn("failed to encode event", "event", event, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			h.logger.Warn("dropping event for slow client", "event", event)
		}
	}
}

// ClientCount reports connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) StateChanged(snapshot session.Snapshot) {
	h.broadcast(domain.EventState, snapshot)
}

func (h *Hub) EngineMessage(msg protocol.Message) {
	payload, err := protocol.Encode(msg)
	if err != nil {
		h.logger.Warn("failed to encode engine message", "type", msg.MessageType(), "error", err)
		return
	}
	h.broadcast(domain.EventEngineMessage, json.RawMessage(payload))
}

func (h *Hub) CodeYellow() {
	h.broadcast(domain.EventCodeYellow, nil)
}

func (h *Hub) CodeYellowResults(results domain.ResourceResults) {
	h.broadcast(domain.EventCodeYellowResults, results)
}

func (h *Hub) SessionError(code domain.ErrorCode, detail string) {
	h.broadcast(domain.EventError, domain.NewErrorEvent(code, detail))
}
