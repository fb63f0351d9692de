package runstate

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// State is the persisted last-known run indicator for one session. A
// restart recovers the stored value but cannot recover true liveness.
type State struct {
	InFlight  bool   `json:"inFlight"`
	UpdatedAt string `json:"updatedAt"`
}

// Tracker is the idle/in-flight state machine, scoped per session key.
// Every transition is written to disk synchronously before observers are
// notified, so a crash immediately after a transition keeps the last value.
type Tracker struct {
	path   string
	notify func(key string, state State)
	now    func() time.Time

	mu     sync.Mutex
	states map[string]State
}

type Option func(*Tracker)

// WithNotify registers the observer callback invoked after each persisted
// transition.
func WithNotify(fn func(key string, state State)) Option {
	return func(t *Tracker) { t.notify = fn }
}

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker loads the last persisted state from path (best-effort; a
// missing or corrupt file starts idle).
func NewTracker(path string, opts ...Option) *Tracker {
	t := &Tracker{
		path:   path,
		now:    time.Now,
		states: map[string]State{},
	}
	for _, opt := range opts {
		opt(t)
	}
	if b, err := os.ReadFile(path); err == nil {
		var stored map[string]State
		if err := json.Unmarshal(b, &stored); err == nil && stored != nil {
			t.states = stored
		}
	}
	return t
}

func (t *Tracker) Get(key string) State {
	if t == nil {
		return State{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.states[key]
}

func (t *Tracker) InFlight(key string) bool {
	return t.Get(key).InFlight
}

// SetInFlight records a transition for key. It persists before returning
// and then notifies; redundant sets (same value) are still persisted and
// broadcast, matching the "every transition" contract.
func (t *Tracker) SetInFlight(key string, inFlight bool) State {
	if t == nil {
		return State{}
	}
	t.mu.Lock()
	state := State{
		InFlight:  inFlight,
		UpdatedAt: t.now().UTC().Format(time.RFC3339),
	}
	t.states[key] = state
	t.persistLocked()
	t.mu.Unlock()

	if t.notify != nil {
		t.notify(key, state)
	}
	return state
}

// ForceIdle flips every tracked session to idle. Used on connection loss,
// when liveness of any pending chat can no longer be confirmed.
func (t *Tracker) ForceIdle() {
	if t == nil {
		return
	}
	t.mu.Lock()
	keys := make([]string, 0, len(t.states))
	for key, state := range t.states {
		if state.InFlight {
			keys = append(keys, key)
		}
	}
	t.mu.Unlock()
	for _, key := range keys {
		t.SetInFlight(key, false)
	}
}

// persistLocked writes the state file atomically. Best-effort: a failed
// write never blocks a transition.
func (t *Tracker) persistLocked() {
	b, err := json.Marshal(t.states)
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return
	}
	tmp := t.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return
	}
	_ = os.Rename(tmp, t.path)
}
