package chatlog

import (
	"path/filepath"
	"strings"
	"testing"

	"opconsole/internal/db"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	gdb, err := db.OpenSQLite(filepath.Join(t.TempDir(), "console.db"))
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	store, err := NewStore(gdb)
	if err != nil {
		t.Fatalf("new store failed: %v", err)
	}
	return store
}

func TestStore_AppendAndRecent(t *testing.T) {
	store := newTestStore(t)

	user := store.NewMessage(RoleUser, "hello", []string{"https://x.test/a.png"})
	if !strings.HasPrefix(user.ID, "msg_") {
		t.Fatalf("expected msg_ prefix for operator message, got %q", user.ID)
	}
	bot := store.NewMessage(RoleAssistant, "hi there", nil)
	if !strings.HasPrefix(bot.ID, "bot_") {
		t.Fatalf("expected bot_ prefix for assistant message, got %q", bot.ID)
	}

	if err := store.Append(user); err != nil {
		t.Fatalf("append user failed: %v", err)
	}
	if err := store.Append(bot); err != nil {
		t.Fatalf("append bot failed: %v", err)
	}

	msgs, err := store.Recent(10)
	if err != nil {
		t.Fatalf("recent failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != RoleUser || msgs[1].Role != RoleAssistant {
		t.Fatalf("expected chronological order, got %q then %q", msgs[0].Role, msgs[1].Role)
	}
	if len(msgs[0].Attachments) != 1 || msgs[0].Attachments[0] != "https://x.test/a.png" {
		t.Fatalf("attachments did not round-trip: %#v", msgs[0].Attachments)
	}
	if msgs[1].Attachments == nil {
		t.Fatalf("expected empty, non-nil attachments")
	}
}

func TestStore_RecentHonorsLimit(t *testing.T) {
	store := newTestStore(t)
	for i := 0; i < 5; i++ {
		if err := store.Append(store.NewMessage(RoleUser, "m", nil)); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}
	msgs, err := store.Recent(3)
	if err != nil {
		t.Fatalf("recent failed: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
}
