package consoleapi

import (
	"net/http"
	"strings"
	"time"

	"opconsole/internal/checklist"
	"opconsole/internal/settings"
	"opconsole/internal/transcript"
)

func (s *Server) registerChatRoutes() {
	s.mux.HandleFunc("/api/message", s.handleMessage)
	s.mux.HandleFunc("/api/abort", s.handleAbort)
	s.mux.HandleFunc("/api/state", s.handleState)
}

func (s *Server) registerStoreRoutes() {
	s.mux.HandleFunc("/api/messages", s.handleMessages)
	s.mux.HandleFunc("/api/worklog", s.handleWorklog)
	s.mux.HandleFunc("/api/transcript", s.handleTranscript)
	s.mux.HandleFunc("/api/transcript/prune", s.handleTranscriptPrune)
	s.mux.HandleFunc("/api/scheduled", s.handleScheduledList)
	s.mux.HandleFunc("/api/scheduled/add", s.handleScheduledAdd)
}

func (s *Server) registerChecklistRoutes() {
	s.mux.HandleFunc("/api/checklist", s.handleChecklist)
	s.mux.HandleFunc("/api/checklist/toggle", s.handleChecklistToggle)
	s.mux.HandleFunc("/api/checklist/mark-all", s.handleChecklistMarkAll)
	s.mux.HandleFunc("/api/checklist/delete", s.handleChecklistDelete)
	s.mux.HandleFunc("/api/checklist/active", s.handleChecklistActive)
	s.mux.HandleFunc("/api/checklist/generate", s.handleChecklistGenerate)
}

func (s *Server) registerSettingsRoutes() {
	s.mux.HandleFunc("/api/settings", s.handleSettings)
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var body struct {
		Text        string   `json:"text"`
		Attachments []string `json:"attachments"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.Text) == "" && len(body.Attachments) == 0 {
		respondError(w, http.StatusBadRequest, "bad_request", "text or attachments required")
		return
	}
	msg, err := s.deps.AcceptMessage(body.Text, body.Attachments)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "accept_failed", err.Error())
		return
	}
	respondOK(w, map[string]any{"savedId": msg.ID, "message": msg})
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	if err := s.deps.Chat.Abort(r.Context()); err != nil {
		respondError(w, http.StatusBadGateway, "abort_failed", err.Error())
		return
	}
	respondOK(w, map[string]any{"aborted": true})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	run := s.deps.RunStates.Get(s.deps.SessionKey)
	respondOK(w, map[string]any{
		"sessionKey": s.deps.SessionKey,
		"connected":  s.deps.GatewayConnected(),
		"leading":    s.deps.Leading(),
		"run":        run,
	})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.deps.Messages.Recent(limitParam(r, 50, 200))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	respondOK(w, map[string]any{"messages": msgs})
}

func (s *Server) handleWorklog(w http.ResponseWriter, r *http.Request) {
	entries, err := s.deps.Worklog.Recent(limitParam(r, 50, 200))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	respondOK(w, map[string]any{"entries": entries})
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	lines, err := s.deps.Transcript.Last(limitParam(r, 50, 500))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	respondOK(w, map[string]any{"lines": lines})
}

// handleTranscriptPrune drops transcript lines older than the retention
// window. RFC3339 UTC timestamps compare lexicographically, so the cutoff
// is a plain string comparison.
func (s *Server) handleTranscriptPrune(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var body struct {
		KeepDays int `json:"keepDays"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.KeepDays <= 0 {
		body.KeepDays = 30
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -body.KeepDays).Format(time.RFC3339)
	removed, _, err := s.deps.Transcript.Rewrite(func(line transcript.Line) *transcript.Line {
		if line.T < cutoff {
			return nil
		}
		return &line
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	respondOK(w, map[string]any{"removed": removed})
}

func (s *Server) handleScheduledList(w http.ResponseWriter, r *http.Request) {
	entries, err := s.deps.Scheduled.Recent(limitParam(r, 50, 200))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	respondOK(w, map[string]any{"entries": entries})
}

func (s *Server) handleScheduledAdd(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var body struct {
		Kind         string `json:"kind"`
		Title        string `json:"title"`
		Instructions string `json:"instructions"`
		Report       string `json:"report"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	entry, err := s.deps.Scheduled.Add(body.Kind, body.Title, body.Instructions, body.Report)
	if err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	respondOK(w, map[string]any{"entry": entry})
}

func (s *Server) handleChecklist(w http.ResponseWriter, _ *http.Request) {
	state, active := s.deps.Checklists.Snapshot()
	respondOK(w, map[string]any{"state": state, "active": active})
}

func (s *Server) handleChecklistToggle(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var body struct {
		ListID string `json:"listId"`
		Idx    int    `json:"idx"`
		Done   *bool  `json:"done"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := s.deps.Checklists.Toggle(body.ListID, body.Idx, body.Done); err != nil {
		s.respondChecklistErr(w, err)
		return
	}
	s.respondChecklistState(w)
}

func (s *Server) handleChecklistMarkAll(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var body struct {
		ListID string `json:"listId"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := s.deps.Checklists.MarkAll(body.ListID); err != nil {
		s.respondChecklistErr(w, err)
		return
	}
	s.respondChecklistState(w)
}

func (s *Server) handleChecklistDelete(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var body struct {
		ListID string `json:"listId"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := s.deps.Checklists.Delete(body.ListID); err != nil {
		s.respondChecklistErr(w, err)
		return
	}
	s.respondChecklistState(w)
}

func (s *Server) handleChecklistActive(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var body struct {
		Dir int `json:"dir"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	s.deps.Checklists.ShiftActive(body.Dir)
	s.respondChecklistState(w)
}

// handleChecklistGenerate asks the agent for an execution list over the
// tighter poll window and optionally activates the parsed result.
func (s *Server) handleChecklistGenerate(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	if !s.deps.GatewayConnected() {
		respondError(w, http.StatusConflict, "gateway_offline", "gateway not connected")
		return
	}
	var body struct {
		Title    string `json:"title"`
		Body     string `json:"body"`
		Activate bool   `json:"activate"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.Title) == "" {
		respondError(w, http.StatusBadRequest, "bad_request", "title required")
		return
	}
	reply, err := s.deps.Chat.Ask(r.Context(), checklist.TodoPrompt(body.Title, body.Body))
	if err != nil {
		respondError(w, http.StatusGatewayTimeout, "generate_timeout", err.Error())
		return
	}
	items := checklist.ParseTodos(reply)
	if body.Activate && len(items) > 0 {
		s.deps.Checklists.AppendGenerated(items)
	}
	todos := make([]map[string]any, 0, len(items))
	for _, item := range items {
		todos = append(todos, map[string]any{"text": item, "done": false})
	}
	respondOK(w, map[string]any{"todos": todos})
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		cfg, err := s.deps.Settings.LoadOrInit()
		if err != nil {
			respondError(w, http.StatusInternalServerError, "store_error", err.Error())
			return
		}
		respondOK(w, map[string]any{"settings": cfg})
	case http.MethodPost:
		var body struct {
			Settings settings.Settings `json:"settings"`
		}
		if !decodeBody(w, r, &body) {
			return
		}
		if err := s.deps.Settings.Save(body.Settings); err != nil {
			respondError(w, http.StatusInternalServerError, "store_error", err.Error())
			return
		}
		cfg, err := s.deps.Settings.LoadOrInit()
		if err != nil {
			respondError(w, http.StatusInternalServerError, "store_error", err.Error())
			return
		}
		respondOK(w, map[string]any{"settings": cfg})
	default:
		respondError(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET or POST required")
	}
}

func (s *Server) respondChecklistState(w http.ResponseWriter) {
	state, active := s.deps.Checklists.Snapshot()
	respondOK(w, map[string]any{"state": state, "active": active})
}

func (s *Server) respondChecklistErr(w http.ResponseWriter, err error) {
	if err == checklist.ErrNoList {
		respondError(w, http.StatusNotFound, "no_list", err.Error())
		return
	}
	respondError(w, http.StatusBadRequest, "bad_request", err.Error())
}
