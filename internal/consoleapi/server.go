// Package consoleapi is the local HTTP surface of the console: message
// intake, run control, store reads, settings, and the /ws fan-out mount.
package consoleapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"opconsole/internal/chatlog"
	"opconsole/internal/checklist"
	"opconsole/internal/runstate"
	"opconsole/internal/scheduled"
	"opconsole/internal/settings"
	"opconsole/internal/transcript"
	"opconsole/internal/worklog"
)

type ChatController interface {
	Abort(ctx context.Context) error
	Ask(ctx context.Context, prompt string) (string, error)
}

type MessageLog interface {
	Recent(limit int) ([]chatlog.Message, error)
}

type WorklogReader interface {
	Recent(limit int) ([]worklog.Entry, error)
}

type ScheduledLog interface {
	Add(kind, title, instructions, report string) (scheduled.Entry, error)
	Recent(limit int) ([]scheduled.Entry, error)
}

type TranscriptLog interface {
	Last(n int) ([]transcript.Line, error)
	Rewrite(fn func(transcript.Line) *transcript.Line) (removed, updated int, err error)
}

type Checklists interface {
	Snapshot() (checklist.State, *checklist.List)
	Toggle(listID string, idx int, done *bool) error
	MarkAll(listID string) error
	Delete(listID string) error
	ShiftActive(dir int)
	AppendGenerated(items []string) *checklist.List
}

type RunStates interface {
	Get(sessionKey string) runstate.State
}

type SettingsStore interface {
	LoadOrInit() (settings.Settings, error)
	Save(cfg settings.Settings) error
}

type Deps struct {
	// AcceptMessage is the full operator-message flow: persist, extract a
	// checklist, mark in flight, deliver.
	AcceptMessage func(text string, attachments []string) (chatlog.Message, error)

	Chat             ChatController
	Messages         MessageLog
	Worklog          WorklogReader
	Scheduled        ScheduledLog
	Transcript       TranscriptLog
	Checklists       Checklists
	RunStates        RunStates
	Settings         SettingsStore
	GatewayConnected func() bool
	Leading          func() bool

	SessionKey string
	AuthUser   string
	AuthPass   string

	// WS is the fan-out hub; it runs its own auth so rejected sockets get a
	// close code instead of a failed upgrade.
	WS http.Handler

	Logger *slog.Logger
}

type Server struct {
	deps     Deps
	mux      *http.ServeMux
	sessions *sessionStore
	logger   *slog.Logger
}

func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		deps:     deps,
		mux:      http.NewServeMux(),
		sessions: newSessionStore(),
		logger:   logger,
	}
	s.registerChatRoutes()
	s.registerStoreRoutes()
	s.registerChecklistRoutes()
	s.registerSettingsRoutes()
	s.mux.HandleFunc("/healthz", s.handleHealth)
	if deps.WS != nil {
		s.mux.Handle("/ws", deps.WS)
	}
	return s
}

// Handler wraps the mux with the console auth gate.
func (s *Server) Handler() http.Handler {
	return s.authMiddleware(s.mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondOK(w, map[string]any{"status": "ok"})
}

func respondOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "data": data})
}

func respondError(w http.ResponseWriter, code int, errCode string, msg string) {
	writeJSON(w, code, map[string]any{"ok": false, "error": map[string]any{"code": errCode, "message": msg}})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func decodeBody(w http.ResponseWriter, r *http.Request, into any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(into); err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return false
	}
	return true
}

func requirePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST required")
		return false
	}
	return true
}
