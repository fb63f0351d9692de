package scheduled

import (
	"path/filepath"
	"strings"
	"testing"

	"opconsole/internal/db"
)

func newTestStore(t *testing.T, notify func(Entry)) *Store {
	t.Helper()
	gdb, err := db.OpenSQLite(filepath.Join(t.TempDir(), "console.db"))
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	store, err := NewStore(gdb, notify)
	if err != nil {
		t.Fatalf("new store failed: %v", err)
	}
	return store
}

func TestStore_AddAndRecent(t *testing.T) {
	var notified []Entry
	store := newTestStore(t, func(e Entry) { notified = append(notified, e) })

	entry, err := store.Add("report", "Nightly health", "check uptime", "all green")
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if !strings.HasPrefix(entry.ID, "sch_") {
		t.Fatalf("expected sch_ prefix, got %q", entry.ID)
	}
	if _, err := store.Add("backup", "", "", ""); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	entries, err := store.Recent(10)
	if err != nil {
		t.Fatalf("recent failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Title != "Nightly health" {
		t.Fatalf("expected chronological order, got %+v", entries[0])
	}
	if entries[1].Title != "backup" {
		t.Fatalf("title should fall back to kind, got %q", entries[1].Title)
	}
	if len(notified) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(notified))
	}
}

func TestStore_KindIsRequired(t *testing.T) {
	store := newTestStore(t, nil)
	if _, err := store.Add("  ", "x", "", ""); err == nil {
		t.Fatalf("expected error for blank kind")
	}
}
