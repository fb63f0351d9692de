// Package chat owns message delivery to the gateway: persist the operator
// message, mark the run in flight, issue chat.send, and settle the run via
// the pushed chat event or the fallback history poll, whichever lands
// first.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"opconsole/internal/chatlog"
	"opconsole/internal/gateway"
	"opconsole/internal/protocol"
	"opconsole/internal/runstate"
	"opconsole/internal/transcript"
)

// ErrNoReply means the poll window closed without a new assistant message.
var ErrNoReply = errors.New("no assistant reply within poll window")

// Sender is the slice of the gateway bridge the service needs.
type Sender interface {
	Send(ctx context.Context, method string, params any) (json.RawMessage, error)
}

type Config struct {
	SessionKey string
	// PollInterval paces the chat.history fallback loop.
	PollInterval time.Duration
	// ReplyWindow bounds the fallback poll after an operator message.
	ReplyWindow  time.Duration
	HistoryLimit int
	// AskWindow and AskHistoryLimit are the tighter variant used for
	// synchronous prompts (checklist generation). AskSessionKey keeps those
	// prompts out of the operator chat session; it defaults to SessionKey.
	AskWindow       time.Duration
	AskHistoryLimit int
	AskSessionKey   string
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 900 * time.Millisecond
	}
	if c.ReplyWindow <= 0 {
		c.ReplyWindow = 90 * time.Second
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 50
	}
	if c.AskWindow <= 0 {
		c.AskWindow = 45 * time.Second
	}
	if c.AskHistoryLimit <= 0 {
		c.AskHistoryLimit = 30
	}
	if c.AskSessionKey == "" {
		c.AskSessionKey = c.SessionKey
	}
	return c
}

// Service coordinates the chatlog, transcript, run-state tracker, and
// gateway bridge around one session.
type Service struct {
	cfg        Config
	sender     Sender
	runs       *runstate.Tracker
	log        *chatlog.Store
	transcript *transcript.Store
	recorder   gateway.Recorder
	logger     *slog.Logger
	notify     func(chatlog.Message)
	baseCtx    context.Context

	mu            sync.Mutex
	lastAssistant string
}

type Option func(*Service)

// WithNotify registers a callback for every newly appended message; the
// console wires it to the fan-out broadcaster.
func WithNotify(fn func(chatlog.Message)) Option {
	return func(s *Service) { s.notify = fn }
}

// WithBaseContext bounds the background delivery goroutines; defaults to
// context.Background().
func WithBaseContext(ctx context.Context) Option {
	return func(s *Service) { s.baseCtx = ctx }
}

func NewService(cfg Config, sender Sender, runs *runstate.Tracker, log *chatlog.Store, tr *transcript.Store, recorder gateway.Recorder, logger *slog.Logger, opts ...Option) (*Service, error) {
	if sender == nil || runs == nil || log == nil {
		return nil, errors.New("sender, run tracker, and chatlog are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		cfg:        cfg.withDefaults(),
		sender:     sender,
		runs:       runs,
		log:        log,
		transcript: tr,
		recorder:   recorder,
		logger:     logger,
		baseCtx:    context.Background(),
	}
	if s.recorder == nil {
		s.recorder = noopRecorder{}
	}
	for _, opt := range opts {
		opt(s)
	}
	// Seed dedupe state from the persisted transcript so a restart does not
	// re-post the agent's last reply.
	if recent, err := log.Recent(cfg.HistoryLimit); err == nil {
		for i := len(recent) - 1; i >= 0; i-- {
			if recent[i].Role == chatlog.RoleAssistant {
				s.lastAssistant = recent[i].Text
				break
			}
		}
	}
	return s, nil
}

type noopRecorder struct{}

func (noopRecorder) Record(string, map[string]any) {}

// Accept persists the operator message, flips the session in flight, and
// starts delivery in the background. The in-flight transition happens
// before any network I/O so a crash mid-send is recoverable as a stuck
// run, never a silently lost one.
func (s *Service) Accept(text string, attachments []string) (chatlog.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" && len(attachments) == 0 {
		return chatlog.Message{}, errors.New("message text is required")
	}
	msg := s.log.NewMessage(chatlog.RoleUser, text, attachments)
	if err := s.log.Append(msg); err != nil {
		return chatlog.Message{}, err
	}
	if s.transcript != nil {
		if err := s.transcript.Append(chatlog.RoleUser, msg.ID, text, attachments); err != nil {
			s.logger.Warn("transcript append failed", "error", err)
		}
	}
	if s.notify != nil {
		s.notify(msg)
	}
	s.runs.SetInFlight(s.cfg.SessionKey, true)
	go s.deliver(msg)
	return msg, nil
}

func (s *Service) deliver(msg chatlog.Message) {
	ctx, cancel := context.WithTimeout(s.baseCtx, s.cfg.ReplyWindow+5*time.Second)
	defer cancel()

	body := msg.Text
	if len(msg.Attachments) > 0 {
		body = strings.TrimSpace(body + "\n\n" + strings.Join(msg.Attachments, "\n"))
	}
	s.recorder.Record("gateway.chat.send", map[string]any{"msgId": msg.ID})
	_, err := s.sender.Send(ctx, protocol.MethodChatSend, protocol.ChatSendParams{
		SessionKey:     s.cfg.SessionKey,
		IdempotencyKey: msg.ID,
		Message:        body,
		Deliver:        false,
	})
	if err != nil {
		s.recorder.Record("gateway.chat.send.error", map[string]any{"msgId": msg.ID, "error": err.Error()})
		s.logger.Warn("chat.send failed", "msgId", msg.ID, "error", err)
		s.setIdle()
		return
	}

	pollCtx, cancelPoll := context.WithTimeout(ctx, s.cfg.ReplyWindow)
	defer cancelPoll()
	text, ok := s.awaitReply(pollCtx, s.cfg.SessionKey, s.lastAssistantText(), s.cfg.HistoryLimit, func() bool {
		return !s.runs.InFlight(s.cfg.SessionKey)
	})
	if ok {
		s.PostAssistant(text)
		return
	}
	// Window exhausted with the run still open: give up quietly. The pushed
	// chat event may still arrive later and post the reply.
	if s.runs.InFlight(s.cfg.SessionKey) {
		s.recorder.Record("gateway.reply.timeout", map[string]any{"msgId": msg.ID})
		s.setIdle()
	}
}

// HandleFinalReply is the bridge's OnFinalReply hook.
func (s *Service) HandleFinalReply(runID, text string) {
	s.PostAssistant(text)
}

// PostAssistant appends one assistant message and settles the run. The
// push path and the poll path both land here; last-seen-text comparison
// keeps the same reply from being posted twice.
func (s *Service) PostAssistant(text string) {
	s.mu.Lock()
	if text == s.lastAssistant {
		s.mu.Unlock()
		s.setIdle()
		return
	}
	s.lastAssistant = text
	s.mu.Unlock()

	bot := s.log.NewMessage(chatlog.RoleAssistant, text, nil)
	if err := s.log.Append(bot); err != nil {
		s.logger.Warn("chatlog append failed", "error", err)
	}
	if s.transcript != nil {
		if err := s.transcript.Append(chatlog.RoleAssistant, bot.ID, text, nil); err != nil {
			s.logger.Warn("transcript append failed", "error", err)
		}
	}
	if s.notify != nil {
		s.notify(bot)
	}
	s.setIdle()
}

// Abort asks the gateway to stop the active run. The run flips idle only
// after the gateway accepts the abort.
func (s *Service) Abort(ctx context.Context) error {
	s.recorder.Record("gateway.chat.abort", map[string]any{"sessionKey": s.cfg.SessionKey})
	if _, err := s.sender.Send(ctx, protocol.MethodChatAbort, protocol.ChatAbortParams{SessionKey: s.cfg.SessionKey}); err != nil {
		return err
	}
	s.setIdle()
	return nil
}

// Ask sends a prompt on the ask session and synchronously waits for the
// agent's reply using the tighter window. The exchange bypasses the
// chatlog and the run tracker.
func (s *Service) Ask(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.AskWindow)
	defer cancel()

	// Snapshot the session's latest reply first so a leftover answer from an
	// earlier prompt is never mistaken for this one.
	baseline := ""
	if payload, err := s.sender.Send(ctx, protocol.MethodChatHistory, protocol.ChatHistoryParams{
		SessionKey: s.cfg.AskSessionKey,
		Limit:      s.cfg.AskHistoryLimit,
	}); err == nil {
		baseline = protocol.LatestAssistantText(protocol.DecodeHistoryMessages(payload))
	}

	_, err := s.sender.Send(ctx, protocol.MethodChatSend, protocol.ChatSendParams{
		SessionKey:     s.cfg.AskSessionKey,
		IdempotencyKey: "ask_" + uuid.NewString(),
		Message:        prompt,
		Deliver:        false,
	})
	if err != nil {
		return "", err
	}
	text, ok := s.awaitReply(ctx, s.cfg.AskSessionKey, baseline, s.cfg.AskHistoryLimit, nil)
	if !ok {
		return "", ErrNoReply
	}
	return text, nil
}

// InFlight reports whether the service's session has an open run.
func (s *Service) InFlight() bool {
	return s.runs.InFlight(s.cfg.SessionKey)
}

func (s *Service) awaitReply(ctx context.Context, sessionKey, baseline string, limit int, settled func() bool) (string, bool) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", false
		case <-ticker.C:
			if settled != nil && settled() {
				return "", false
			}
			payload, err := s.sender.Send(ctx, protocol.MethodChatHistory, protocol.ChatHistoryParams{
				SessionKey: sessionKey,
				Limit:      limit,
			})
			if err != nil {
				continue
			}
			msgs := protocol.DecodeHistoryMessages(payload)
			if text := protocol.LatestAssistantText(msgs); text != "" && text != baseline {
				return text, true
			}
		}
	}
}

func (s *Service) lastAssistantText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAssistant
}

func (s *Service) setIdle() {
	s.runs.SetInFlight(s.cfg.SessionKey, false)
}
