package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"opconsole/internal/protocol"
)

var (
	ErrNotConnected = errors.New("gateway socket not connected")
	ErrDisconnected = errors.New("gateway connection lost")
	ErrTimeout      = errors.New("gateway request timeout")
)

type Config struct {
	URL            string
	Token          string
	SessionKey     string
	ClientID       string
	ClientVersion  string
	DisplayName    string
	MinProtocol    int
	MaxProtocol    int
	RequestTimeout time.Duration
	// ReconnectDelay is a fixed retry delay. The gateway is assumed to be a
	// co-located, generally-available process, so there is no backoff growth
	// and no attempt cap; tune this for hostile networks.
	ReconnectDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.ClientID == "" {
		c.ClientID = "gateway-client"
	}
	if c.ClientVersion == "" {
		c.ClientVersion = "opconsole-bridge"
	}
	if c.DisplayName == "" {
		c.DisplayName = "Operator Console Bridge"
	}
	if c.MinProtocol == 0 {
		c.MinProtocol = 3
	}
	if c.MaxProtocol == 0 {
		c.MaxProtocol = 3
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 60 * time.Second
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 1500 * time.Millisecond
	}
	return c
}

// Hooks are the bridge's only way of driving the rest of the console.
// All are optional.
type Hooks struct {
	// OnConnected fires after a successful handshake.
	OnConnected func(host string, protocolVersion int)
	// OnDisconnect fires when the socket closes for any reason.
	OnDisconnect func(wasConnected bool)
	// OnFinalReply fires for a terminal assistant reply on the bridge's
	// session with non-empty extracted text.
	OnFinalReply func(runID, text string)
}

// Recorder receives observability entries (the worklog).
type Recorder interface {
	Record(event string, data map[string]any)
}

type noopRecorder struct{}

func (noopRecorder) Record(string, map[string]any) {}

type settle struct {
	payload json.RawMessage
	err     error
}

// Bridge owns the single persistent gateway connection: it dials,
// completes the challenge/connect handshake, correlates request/response
// pairs, routes unsolicited events, and reconnects on loss.
type Bridge struct {
	cfg      Config
	dialer   Dialer
	logger   *slog.Logger
	hooks    Hooks
	recorder Recorder

	mu        sync.Mutex
	sock      Socket
	connected bool
	nonce     string
	pending   map[string]chan settle

	writeMu sync.Mutex
}

func New(cfg Config, dialer Dialer, logger *slog.Logger, hooks Hooks, recorder Recorder) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &Bridge{
		cfg:      cfg.withDefaults(),
		dialer:   dialer,
		logger:   logger,
		hooks:    hooks,
		recorder: recorder,
		pending:  map[string]chan settle{},
	}
}

// Run keeps the gateway connection alive until ctx is cancelled. A missing
// token disables the bridge entirely rather than hammering the gateway
// with unauthenticatable connections.
func (b *Bridge) Run(ctx context.Context) error {
	if strings.TrimSpace(b.cfg.Token) == "" {
		b.recorder.Record("gateway.token.missing", map[string]any{})
		b.logger.Warn("gateway token missing, bridge disabled")
		<-ctx.Done()
		return nil
	}
	for {
		if ctx.Err() != nil {
			return nil
		}
		b.recorder.Record("gateway.connecting", map[string]any{"url": b.cfg.URL})
		sock, err := b.dialer.Dial(ctx, b.cfg.URL)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			b.logger.Warn("gateway dial failed", "error", err)
			if !sleepOrDone(ctx, b.cfg.ReconnectDelay) {
				return nil
			}
			continue
		}

		b.mu.Lock()
		b.sock = sock
		b.connected = false
		b.nonce = ""
		b.mu.Unlock()

		b.readLoop(ctx, sock)
		b.teardown(sock)

		if ctx.Err() != nil {
			return nil
		}
		if !sleepOrDone(ctx, b.cfg.ReconnectDelay) {
			return nil
		}
	}
}

func (b *Bridge) readLoop(ctx context.Context, sock Socket) {
	for {
		text, err := sock.ReadText(ctx)
		if err != nil {
			return
		}
		b.handleFrame(ctx, text)
	}
}

// teardown fails every outstanding request and reports the loss; liveness
// of anything that was in flight can no longer be confirmed.
func (b *Bridge) teardown(sock Socket) {
	b.mu.Lock()
	was := b.connected
	b.connected = false
	if b.sock == sock {
		b.sock = nil
	}
	failed := b.pending
	b.pending = map[string]chan settle{}
	b.mu.Unlock()

	_ = sock.Close()
	for _, ch := range failed {
		ch <- settle{err: ErrDisconnected}
	}
	b.recorder.Record("gateway.disconnected", map[string]any{"wasConnected": was})
	if b.hooks.OnDisconnect != nil {
		b.hooks.OnDisconnect(was)
	}
}

// Connected reports handshake-complete readiness, not mere socket liveness.
func (b *Bridge) Connected() bool {
	if b == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *Bridge) PendingCount() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Send issues one request and waits for its response. Settlement happens
// exactly once: a matching response, the per-request timeout, or connection
// teardown. There are no retries here; callers decide. Requests are
// refused until the handshake completes; only connect itself may go out
// on an unauthenticated socket (see send).
func (b *Bridge) Send(ctx context.Context, method string, params any) (json.RawMessage, error) {
	b.mu.Lock()
	ready := b.connected && b.sock != nil
	b.mu.Unlock()
	if !ready {
		return nil, ErrNotConnected
	}
	return b.send(ctx, method, params)
}

// send writes one request without the readiness gate. sendConnect uses it
// for the handshake round-trip.
func (b *Bridge) send(ctx context.Context, method string, params any) (json.RawMessage, error) {
	b.mu.Lock()
	sock := b.sock
	b.mu.Unlock()
	if sock == nil {
		return nil, ErrNotConnected
	}

	rawParams, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal %s params: %w", method, err)
	}
	id := uuid.NewString()
	raw, err := json.Marshal(protocol.Frame{
		Type:   protocol.FrameReq,
		ID:     id,
		Method: method,
		Params: rawParams,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", method, err)
	}

	ch := make(chan settle, 1)
	b.mu.Lock()
	b.pending[id] = ch
	b.mu.Unlock()

	b.writeMu.Lock()
	err = sock.WriteText(ctx, string(raw))
	b.writeMu.Unlock()
	if err != nil {
		b.unregister(id)
		return nil, fmt.Errorf("write %s request: %w", method, err)
	}

	timer := time.NewTimer(b.cfg.RequestTimeout)
	defer timer.Stop()
	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		return res.payload, nil
	case <-timer.C:
		b.unregister(id)
		return nil, fmt.Errorf("%w: %s", ErrTimeout, method)
	case <-ctx.Done():
		b.unregister(id)
		return nil, ctx.Err()
	}
}

func (b *Bridge) hasSocket() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sock != nil
}

func (b *Bridge) unregister(id string) {
	b.mu.Lock()
	delete(b.pending, id)
	b.mu.Unlock()
}

func (b *Bridge) handleFrame(ctx context.Context, text string) {
	frame, err := protocol.DecodeFrame([]byte(text))
	if err != nil {
		// Malformed frames are dropped; the stream continues.
		b.logger.Debug("dropping malformed gateway frame", "error", err)
		return
	}
	switch frame.Type {
	case protocol.FrameRes:
		b.mu.Lock()
		ch, ok := b.pending[frame.ID]
		if ok {
			delete(b.pending, frame.ID)
		}
		b.mu.Unlock()
		if !ok {
			return
		}
		if frame.OK {
			ch <- settle{payload: frame.Payload}
			return
		}
		msg := "gateway error"
		if frame.Error != nil && strings.TrimSpace(frame.Error.Message) != "" {
			msg = frame.Error.Message
		}
		ch <- settle{err: errors.New(msg)}
	case protocol.FrameEvent:
		b.handleEvent(ctx, frame)
	}
}

func (b *Bridge) handleEvent(ctx context.Context, frame protocol.Frame) {
	switch frame.Event {
	case protocol.EventChallenge:
		var challenge protocol.ChallengePayload
		if err := json.Unmarshal(frame.Payload, &challenge); err != nil {
			return
		}
		b.mu.Lock()
		b.nonce = challenge.Nonce
		b.mu.Unlock()
		// Fire-and-forget: the read loop must not block on the handshake
		// round-trip.
		go b.sendConnect(ctx)
	case protocol.EventChat:
		b.handleChatEvent(frame.Payload)
	}
}

func (b *Bridge) sendConnect(ctx context.Context) {
	payload, err := b.send(ctx, protocol.MethodConnect, protocol.ConnectParams{
		MinProtocol: b.cfg.MinProtocol,
		MaxProtocol: b.cfg.MaxProtocol,
		Client: protocol.ConnectClient{
			ID:          b.cfg.ClientID,
			Version:     b.cfg.ClientVersion,
			Platform:    "linux",
			Mode:        "webchat",
			DisplayName: b.cfg.DisplayName,
		},
		Role: "operator",
		Auth: protocol.ConnectAuth{Token: b.cfg.Token},
	})
	if err != nil {
		b.recorder.Record("gateway.connect.error", map[string]any{"error": err.Error()})
		b.logger.Warn("gateway handshake failed", "error", err)
		return
	}
	var hello protocol.HelloPayload
	if err := json.Unmarshal(payload, &hello); err != nil || hello.Type != protocol.HelloOK {
		b.recorder.Record("gateway.connect.error", map[string]any{"error": "unexpected handshake payload"})
		return
	}
	b.mu.Lock()
	b.connected = true
	b.mu.Unlock()
	b.recorder.Record("gateway.connected", map[string]any{
		"host":     hello.Server.Host,
		"protocol": hello.Protocol,
	})
	b.logger.Info("gateway connected", "host", hello.Server.Host, "protocol", hello.Protocol)
	if b.hooks.OnConnected != nil {
		b.hooks.OnConnected(hello.Server.Host, hello.Protocol)
	}
}

func (b *Bridge) handleChatEvent(payload json.RawMessage) {
	var evt protocol.ChatEventPayload
	if err := json.Unmarshal(payload, &evt); err != nil {
		return
	}
	if evt.State != protocol.ChatStateFinal || len(evt.Message) == 0 {
		return
	}
	// No cross-session leakage: foreign session keys are ignored entirely.
	if evt.SessionKey != b.cfg.SessionKey {
		return
	}
	var msg protocol.GatewayMessage
	if err := json.Unmarshal(evt.Message, &msg); err != nil {
		return
	}
	if msg.Role != protocol.RoleAssistant {
		return
	}
	text := protocol.ExtractText(msg)
	if text == "" {
		// All blocks non-text or stripped to nothing: no transcript entry
		// and no run-state transition.
		return
	}
	b.recorder.Record("gateway.reply.posted", map[string]any{
		"sessionKey": evt.SessionKey,
		"runId":      evt.RunID,
	})
	if b.hooks.OnFinalReply != nil {
		b.hooks.OnFinalReply(evt.RunID, text)
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
