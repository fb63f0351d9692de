package consoleapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"opconsole/internal/chatlog"
	"opconsole/internal/checklist"
	"opconsole/internal/runstate"
	"opconsole/internal/scheduled"
	"opconsole/internal/settings"
	"opconsole/internal/transcript"
	"opconsole/internal/worklog"
)

type fakeChat struct {
	abortErr error
	askReply string
	askErr   error
	asked    []string
}

func (f *fakeChat) Abort(context.Context) error { return f.abortErr }

func (f *fakeChat) Ask(_ context.Context, prompt string) (string, error) {
	f.asked = append(f.asked, prompt)
	return f.askReply, f.askErr
}

type fakeMessages struct{ msgs []chatlog.Message }

func (f *fakeMessages) Recent(int) ([]chatlog.Message, error) { return f.msgs, nil }

type fakeWorklog struct{ entries []worklog.Entry }

func (f *fakeWorklog) Recent(int) ([]worklog.Entry, error) { return f.entries, nil }

type fakeScheduled struct{ entries []scheduled.Entry }

func (f *fakeScheduled) Add(kind, title, instructions, report string) (scheduled.Entry, error) {
	if kind == "" {
		return scheduled.Entry{}, errors.New("kind is required")
	}
	e := scheduled.Entry{ID: "sch_1", Kind: kind, Title: title, Instructions: instructions, Report: report}
	f.entries = append(f.entries, e)
	return e, nil
}

func (f *fakeScheduled) Recent(int) ([]scheduled.Entry, error) { return f.entries, nil }

type fakeTranscript struct{ lines []transcript.Line }

func (f *fakeTranscript) Last(int) ([]transcript.Line, error) { return f.lines, nil }

func (f *fakeTranscript) Rewrite(fn func(transcript.Line) *transcript.Line) (int, int, error) {
	removed := 0
	kept := make([]transcript.Line, 0, len(f.lines))
	for _, line := range f.lines {
		out := fn(line)
		if out == nil {
			removed++
			continue
		}
		kept = append(kept, *out)
	}
	f.lines = kept
	return removed, 0, nil
}

type fakeRunStates struct{ state runstate.State }

func (f *fakeRunStates) Get(string) runstate.State { return f.state }

type fakeSettings struct{ saved *settings.Settings }

func (f *fakeSettings) LoadOrInit() (settings.Settings, error) {
	if f.saved != nil {
		return *f.saved, nil
	}
	return settings.Settings{Poll: settings.PollSettings{IntervalMS: 900}}, nil
}

func (f *fakeSettings) Save(cfg settings.Settings) error {
	f.saved = &cfg
	return nil
}

type fixture struct {
	server     *Server
	chat       *fakeChat
	checks     *checklist.Store
	transcript *fakeTranscript
	connected  bool
	accepted   []string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fx := &fixture{chat: &fakeChat{}, transcript: &fakeTranscript{}, connected: true}
	fx.checks = checklist.NewStore(t.TempDir() + "/dynamic-exec.json")
	fx.server = NewServer(Deps{
		AcceptMessage: func(text string, attachments []string) (chatlog.Message, error) {
			fx.accepted = append(fx.accepted, text)
			return chatlog.Message{ID: "msg_test1", Text: text, Attachments: attachments}, nil
		},
		Chat:             fx.chat,
		Messages:         &fakeMessages{},
		Worklog:          &fakeWorklog{},
		Scheduled:        &fakeScheduled{},
		Transcript:       fx.transcript,
		Checklists:       fx.checks,
		RunStates:        &fakeRunStates{state: runstate.State{InFlight: true}},
		Settings:         &fakeSettings{},
		GatewayConnected: func() bool { return fx.connected },
		Leading:          func() bool { return true },
		SessionKey:       "agent:main",
		AuthUser:         "operator",
		AuthPass:         "secret",
	})
	return fx
}

func (fx *fixture) request(t *testing.T, method, path string, body any, auth bool) *http.Response {
	t.Helper()
	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal failed: %v", err)
		}
		buf = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, buf)
	if auth {
		req.SetBasicAuth("operator", "secret")
	}
	rec := httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(rec, req)
	return rec.Result()
}

func decodeData(t *testing.T, res *http.Response) map[string]any {
	t.Helper()
	defer res.Body.Close()
	var payload struct {
		OK   bool           `json:"ok"`
		Data map[string]any `json:"data"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !payload.OK {
		t.Fatalf("expected ok response")
	}
	return payload.Data
}

func TestServer_HealthzIsOpen(t *testing.T) {
	fx := newFixture(t)
	res := fx.request(t, http.MethodGet, "/healthz", nil, false)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
}

func TestServer_AuthGate(t *testing.T) {
	fx := newFixture(t)

	res := fx.request(t, http.MethodGet, "/api/state", nil, false)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.StatusCode)
	}
	if res.Header.Get("WWW-Authenticate") == "" {
		t.Fatalf("expected auth challenge header")
	}

	res = fx.request(t, http.MethodGet, "/api/state", nil, true)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with basic auth, got %d", res.StatusCode)
	}
	var sess *http.Cookie
	for _, c := range res.Cookies() {
		if c.Name == SessionCookie {
			sess = c
		}
	}
	if sess == nil || sess.Value == "" {
		t.Fatalf("expected minted session cookie")
	}

	// Cookie alone is enough afterwards.
	req := httptest.NewRequest(http.MethodGet, "/api/state", nil)
	req.AddCookie(sess)
	rec := httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with cookie, got %d", rec.Code)
	}
}

func TestServer_BlankPasswordRefusesToServe(t *testing.T) {
	fx := newFixture(t)
	fx.server.deps.AuthPass = ""
	res := fx.request(t, http.MethodGet, "/api/state", nil, false)
	if res.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500 for unconfigured auth, got %d", res.StatusCode)
	}
}

func TestServer_MessageAcceptAndValidation(t *testing.T) {
	fx := newFixture(t)

	res := fx.request(t, http.MethodPost, "/api/message", map[string]any{"text": "do the thing"}, true)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	data := decodeData(t, res)
	if data["savedId"] != "msg_test1" {
		t.Fatalf("unexpected payload: %v", data)
	}
	if len(fx.accepted) != 1 || fx.accepted[0] != "do the thing" {
		t.Fatalf("accept flow not invoked: %v", fx.accepted)
	}

	res = fx.request(t, http.MethodPost, "/api/message", map[string]any{"text": "  "}, true)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank text, got %d", res.StatusCode)
	}
	res = fx.request(t, http.MethodGet, "/api/message", nil, true)
	if res.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", res.StatusCode)
	}
}

func TestServer_StateReportsRunAndGateway(t *testing.T) {
	fx := newFixture(t)
	data := decodeData(t, fx.request(t, http.MethodGet, "/api/state", nil, true))
	if data["connected"] != true || data["leading"] != true {
		t.Fatalf("unexpected state: %v", data)
	}
	run, ok := data["run"].(map[string]any)
	if !ok || run["inFlight"] != true {
		t.Fatalf("unexpected run state: %v", data["run"])
	}
}

func TestServer_AbortMapsGatewayFailure(t *testing.T) {
	fx := newFixture(t)
	fx.chat.abortErr = errors.New("not connected")
	res := fx.request(t, http.MethodPost, "/api/abort", map[string]any{}, true)
	if res.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", res.StatusCode)
	}
	fx.chat.abortErr = nil
	res = fx.request(t, http.MethodPost, "/api/abort", map[string]any{}, true)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
}

func TestServer_ChecklistToggleRoundTrip(t *testing.T) {
	fx := newFixture(t)
	list, ok := fx.checks.CaptureFromOperator("msg_1", "- first task here\n- second task here\n- third task here")
	if !ok {
		t.Fatalf("seed capture failed")
	}

	res := fx.request(t, http.MethodPost, "/api/checklist/toggle", map[string]any{"listId": list.ID, "idx": 0, "done": true}, true)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	data := decodeData(t, fx.request(t, http.MethodGet, "/api/checklist", nil, true))
	active, ok := data["active"].(map[string]any)
	if !ok {
		t.Fatalf("expected active list, got %v", data)
	}
	items := active["items"].([]any)
	if items[0].(map[string]any)["done"] != true {
		t.Fatalf("toggle did not stick: %v", items[0])
	}

	res = fx.request(t, http.MethodPost, "/api/checklist/toggle", map[string]any{"listId": "absent", "idx": 0}, true)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown list, got %d", res.StatusCode)
	}
}

func TestServer_ChecklistGenerate(t *testing.T) {
	fx := newFixture(t)

	fx.connected = false
	res := fx.request(t, http.MethodPost, "/api/checklist/generate", map[string]any{"title": "Ship it"}, true)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 offline, got %d", res.StatusCode)
	}

	fx.connected = true
	fx.chat.askReply = "- draft the migration\n- run it on staging\n- verify row counts\n- flip the flag"
	res = fx.request(t, http.MethodPost, "/api/checklist/generate", map[string]any{"title": "Ship it", "activate": true}, true)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	data := decodeData(t, res)
	todos := data["todos"].([]any)
	if len(todos) != 4 {
		t.Fatalf("expected 4 todos, got %v", todos)
	}
	if len(fx.chat.asked) != 1 {
		t.Fatalf("expected one generation prompt, got %d", len(fx.chat.asked))
	}
	_, active := fx.checks.Snapshot()
	if active == nil || len(active.Items) != 4 {
		t.Fatalf("activate should append the generated list, got %+v", active)
	}

	res = fx.request(t, http.MethodPost, "/api/checklist/generate", map[string]any{"title": ""}, true)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing title, got %d", res.StatusCode)
	}
}

func TestServer_TranscriptPruneDropsOldLines(t *testing.T) {
	fx := newFixture(t)
	fx.transcript.lines = []transcript.Line{
		{T: "2001-01-01T00:00:00Z", R: "user", X: "ancient"},
		{T: time.Now().UTC().Format(time.RFC3339), R: "user", X: "fresh"},
	}

	res := fx.request(t, http.MethodPost, "/api/transcript/prune", map[string]any{"keepDays": 7}, true)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	data := decodeData(t, res)
	if data["removed"].(float64) != 1 {
		t.Fatalf("expected one pruned line, got %v", data)
	}
	if len(fx.transcript.lines) != 1 || fx.transcript.lines[0].X != "fresh" {
		t.Fatalf("recent line must survive the prune: %+v", fx.transcript.lines)
	}

	res = fx.request(t, http.MethodGet, "/api/transcript/prune", nil, true)
	if res.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", res.StatusCode)
	}
}

func TestServer_ScheduledAddAndList(t *testing.T) {
	fx := newFixture(t)
	res := fx.request(t, http.MethodPost, "/api/scheduled/add", map[string]any{"kind": "report", "title": "Nightly"}, true)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	data := decodeData(t, fx.request(t, http.MethodGet, "/api/scheduled", nil, true))
	entries := data["entries"].([]any)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %v", entries)
	}
}

func TestServer_SettingsSaveRoundTrip(t *testing.T) {
	fx := newFixture(t)
	res := fx.request(t, http.MethodPost, "/api/settings", map[string]any{
		"settings": map[string]any{"poll": map[string]any{"interval_ms": 400}},
	}, true)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	data := decodeData(t, res)
	cfg := data["settings"].(map[string]any)
	poll := cfg["poll"].(map[string]any)
	if poll["interval_ms"].(float64) != 400 {
		t.Fatalf("settings did not round-trip: %v", poll)
	}
}
