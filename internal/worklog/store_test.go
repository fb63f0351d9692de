package worklog

import (
	"path/filepath"
	"sync"
	"testing"

	"opconsole/internal/db"
)

func TestStore_RecordPersistsAndNotifies(t *testing.T) {
	gdb, err := db.OpenSQLite(filepath.Join(t.TempDir(), "console.db"))
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	var mu sync.Mutex
	var notified []Entry
	store, err := NewStore(gdb, func(e Entry) {
		mu.Lock()
		notified = append(notified, e)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("new store failed: %v", err)
	}

	store.Record("gateway.connected", map[string]any{"host": "gw"})
	store.Record("gateway.reply.posted", map[string]any{"runId": "r1"})

	entries, err := store.Recent(10)
	if err != nil {
		t.Fatalf("recent failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Event != "gateway.connected" {
		t.Fatalf("expected chronological order, got %q first", entries[0].Event)
	}
	if entries[1].Data["runId"] != "r1" {
		t.Fatalf("data did not round-trip: %#v", entries[1].Data)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(notified) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(notified))
	}
}
