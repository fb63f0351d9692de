package runstate

import (
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestTracker_TransitionPersistsAndNotifies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run-state.json")
	var mu sync.Mutex
	var seen []State
	tr := NewTracker(path, WithNotify(func(_ string, state State) {
		mu.Lock()
		seen = append(seen, state)
		mu.Unlock()
	}))

	tr.SetInFlight("console-main", true)
	if !tr.InFlight("console-main") {
		t.Fatalf("expected in-flight after submit transition")
	}
	tr.SetInFlight("console-main", false)
	if tr.InFlight("console-main") {
		t.Fatalf("expected idle after terminal transition")
	}

	mu.Lock()
	notifies := len(seen)
	mu.Unlock()
	if notifies != 2 {
		t.Fatalf("expected 2 notifications, got %d", notifies)
	}

	// A fresh tracker over the same file recovers the last known value.
	reloaded := NewTracker(path)
	if reloaded.InFlight("console-main") {
		t.Fatalf("expected persisted idle state after reload")
	}
	if reloaded.Get("console-main").UpdatedAt == "" {
		t.Fatalf("expected persisted timestamp")
	}
}

func TestTracker_ReloadRecoversInFlight(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run-state.json")
	NewTracker(path).SetInFlight("console-main", true)

	reloaded := NewTracker(path)
	if !reloaded.InFlight("console-main") {
		t.Fatalf("expected in-flight recovered as last known value")
	}
}

func TestTracker_ForceIdleFlipsAllSessions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run-state.json")
	tr := NewTracker(path, WithClock(func() time.Time {
		return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	}))
	tr.SetInFlight("console-main", true)
	tr.SetInFlight("planning", true)

	tr.ForceIdle()

	if tr.InFlight("console-main") || tr.InFlight("planning") {
		t.Fatalf("expected every session idle after forced idle")
	}
	if got := tr.Get("console-main").UpdatedAt; got != "2025-06-01T12:00:00Z" {
		t.Fatalf("unexpected timestamp %q", got)
	}
}

func TestTracker_MissingFileStartsIdle(t *testing.T) {
	tr := NewTracker(filepath.Join(t.TempDir(), "missing", "run-state.json"))
	if tr.InFlight("console-main") {
		t.Fatalf("expected idle with no state file")
	}
}
