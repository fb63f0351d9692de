// Package hub fans console updates out to connected browser sockets and
// accepts a small inbound vocabulary (ping, message) from them.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"opconsole/internal/protocol"
)

const writeTimeout = 5 * time.Second

// MessageSink accepts an operator message submitted over the socket and
// returns the saved message id.
type MessageSink func(text string, attachments []string) (string, error)

type Config struct {
	// MaxClients caps concurrent observers; extras are closed with 4429.
	MaxClients int
	// Authorize decides whether the upgrade request carries a valid console
	// session. A nil Authorize admits everyone (tests).
	Authorize func(r *http.Request) bool
}

type client struct {
	id   string
	conn *websocket.Conn
}

// Hub is the local fan-out broadcaster. Observer sockets are strictly
// best-effort: a slow or dead observer loses frames, it never stalls the
// console.
type Hub struct {
	cfg    Config
	logger *slog.Logger
	sink   MessageSink

	mu      sync.RWMutex
	clients map[*client]struct{}
}

func New(cfg Config, sink MessageSink, logger *slog.Logger) *Hub {
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = 2
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		sink:    sink,
		clients: map[*client]struct{}{},
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Debug("ws accept failed", "error", err)
		return
	}
	// Auth and capacity are checked post-upgrade so the client sees a
	// distinct close code instead of a failed handshake.
	if h.cfg.Authorize != nil && !h.cfg.Authorize(r) {
		_ = conn.Close(websocket.StatusCode(protocol.CloseUnauthorized), "unauthorized")
		return
	}
	c := &client{id: uuid.NewString(), conn: conn}
	h.mu.Lock()
	if len(h.clients) >= h.cfg.MaxClients {
		h.mu.Unlock()
		_ = conn.Close(websocket.StatusCode(protocol.CloseCapacity), "too many clients")
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	h.writeFrame(r.Context(), c, protocol.ConsoleFrame{
		Type:     protocol.ConsoleHello,
		ClientID: c.id,
		T:        time.Now().UnixMilli(),
	})
	h.readLoop(r.Context(), c)

	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

func (h *Hub) readLoop(ctx context.Context, c *client) {
	for {
		kind, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		if kind != websocket.MessageText {
			continue
		}
		var frame protocol.ConsoleFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		switch frame.Type {
		case protocol.ConsolePing:
			h.writeFrame(ctx, c, protocol.ConsoleFrame{
				Type: protocol.ConsolePong,
				T:    time.Now().UnixMilli(),
			})
		case protocol.ConsoleMessage:
			ack := protocol.ConsoleFrame{Type: protocol.ConsoleAck}
			if h.sink != nil {
				if saved, err := h.sink(frame.Text, frame.Attachments); err == nil {
					ack.OK = true
					ack.SavedID = saved
				}
			}
			h.writeFrame(ctx, c, ack)
		}
	}
}

// Broadcast serializes the frame once and writes it to every connected
// observer. Per-observer write failures are swallowed; the read loop will
// reap dead sockets.
func (h *Hub) Broadcast(frame protocol.ConsoleFrame) {
	if h == nil {
		return
	}
	if frame.T == 0 {
		frame.T = time.Now().UnixMilli()
	}
	raw, err := json.Marshal(frame)
	if err != nil {
		h.logger.Warn("broadcast marshal failed", "type", frame.Type, "error", err)
		return
	}
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := c.conn.Write(ctx, websocket.MessageText, raw); err != nil {
			h.logger.Debug("broadcast write failed", "client", c.id, "error", err)
		}
		cancel()
	}
}

// BroadcastJSON marshals payload into the frame field named by typ.
func (h *Hub) BroadcastJSON(typ string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		h.logger.Warn("broadcast marshal failed", "type", typ, "error", err)
		return
	}
	frame := protocol.ConsoleFrame{Type: typ}
	switch typ {
	case protocol.ConsoleMessage:
		frame.Message = raw
	case protocol.ConsoleWorklog:
		frame.Entry = raw
	case protocol.ConsoleRun:
		frame.State = raw
	case protocol.ConsoleChecklist:
		frame.Active = raw
	case protocol.ConsoleScheduled:
		frame.Entry = raw
	default:
		frame.Message = raw
	}
	h.Broadcast(frame)
}

// CloseAll disconnects every observer; used on shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.clients = map[*client]struct{}{}
	h.mu.Unlock()
	for _, c := range targets {
		_ = c.conn.Close(websocket.StatusGoingAway, "shutting down")
	}
}

func (h *Hub) writeFrame(ctx context.Context, c *client, frame protocol.ConsoleFrame) {
	raw, err := json.Marshal(frame)
	if err != nil {
		return
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := c.conn.Write(wctx, websocket.MessageText, raw); err != nil {
		h.logger.Debug("ws write failed", "client", c.id, "error", err)
	}
}
