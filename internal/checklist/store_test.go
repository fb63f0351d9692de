package checklist

import (
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) (*Store, *int) {
	t.Helper()
	notifies := 0
	store := NewStore(filepath.Join(t.TempDir(), "dynamic-exec.json"),
		WithNotify(func(State, *List) { notifies++ }))
	return store, &notifies
}

func TestStore_CaptureFromOperatorActivatesNewList(t *testing.T) {
	store, notifies := newTestStore(t)

	list, ok := store.CaptureFromOperator("msg_1", "- fix the login redirect\n- update the cookie name\n- write regression tests")
	if !ok || list == nil {
		t.Fatalf("expected a captured list")
	}
	if len(list.Items) != 3 || list.SourceMsgID != "msg_1" {
		t.Fatalf("unexpected list: %+v", list)
	}
	if *notifies != 1 {
		t.Fatalf("expected one notify, got %d", *notifies)
	}

	if _, ok := store.CaptureFromOperator("msg_2", "thanks, looks good"); ok {
		t.Fatalf("plain chatter must not create a list")
	}

	st, active := store.Snapshot()
	if len(st.Lists) != 1 || st.ActiveIndex != 0 || active == nil {
		t.Fatalf("unexpected state: %+v", st)
	}
}

func TestStore_ReloadsFromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dynamic-exec.json")
	store := NewStore(path)
	if _, ok := store.CaptureFromOperator("msg_1", "- first task here\n- second task here\n- third task here"); !ok {
		t.Fatalf("capture failed")
	}

	reloaded := NewStore(path)
	st, active := reloaded.Snapshot()
	if len(st.Lists) != 1 || active == nil || len(active.Items) != 3 {
		t.Fatalf("state did not survive reload: %+v", st)
	}
}

func TestStore_AutoCheckoffExplicitLines(t *testing.T) {
	store, _ := newTestStore(t)
	store.CaptureFromOperator("msg_1", "- fix the login redirect\n- update the cookie name\n- write regression tests")

	changed := store.AutoCheckoff("DEL UPDATE:\n[x] fix the login redirect\n[ ] update the cookie name\n[x] write regression tests")
	if !changed {
		t.Fatalf("expected checkoff to apply")
	}
	_, active := store.Snapshot()
	if !active.Items[0].Done || active.Items[1].Done || !active.Items[2].Done {
		t.Fatalf("unexpected item states: %+v", active.Items)
	}
	if active.Completed {
		t.Fatalf("list with an open item must not be completed")
	}
}

func TestStore_AutoCheckoffFuzzyPrefix(t *testing.T) {
	store, _ := newTestStore(t)
	store.CaptureFromOperator("msg_1", "- fix the login redirect\n- update the cookie name\n- write regression tests")

	changed := store.AutoCheckoff("Done! I went ahead and fix the login redirect as requested.")
	if !changed {
		t.Fatalf("expected fuzzy checkoff to apply")
	}
	_, active := store.Snapshot()
	if !active.Items[0].Done || active.Items[1].Done {
		t.Fatalf("unexpected item states: %+v", active.Items)
	}

	if store.AutoCheckoff("unrelated chatter") {
		t.Fatalf("no mention means no change")
	}
}

func TestStore_ToggleAndCompletion(t *testing.T) {
	store, _ := newTestStore(t)
	list, _ := store.CaptureFromOperator("msg_1", "- alpha task here\n- beta task here\n- gamma task here")

	if err := store.Toggle("", 0, nil); err != nil {
		t.Fatalf("toggle failed: %v", err)
	}
	if err := store.Toggle(list.ID, 1, nil); err != nil {
		t.Fatalf("toggle failed: %v", err)
	}
	if err := store.Toggle(list.ID, 2, nil); err != nil {
		t.Fatalf("toggle failed: %v", err)
	}
	_, active := store.Snapshot()
	if !active.Completed {
		t.Fatalf("all-done list should be completed")
	}
	if err := store.Toggle(list.ID, 99, nil); err == nil {
		t.Fatalf("expected out-of-range error")
	}
	if err := store.Toggle("absent", 0, nil); err != ErrNoList {
		t.Fatalf("expected ErrNoList, got %v", err)
	}
}

func TestStore_MarkAllDeleteAndShift(t *testing.T) {
	store, _ := newTestStore(t)
	first, _ := store.CaptureFromOperator("msg_1", "- alpha task one\n- alpha task two\n- alpha task three")
	second, _ := store.CaptureFromOperator("msg_2", "- beta task one\n- beta task two\n- beta task three")

	if err := store.MarkAll(first.ID); err != nil {
		t.Fatalf("mark all failed: %v", err)
	}
	st, active := store.Snapshot()
	if !st.Lists[0].Completed || active.ID != second.ID {
		t.Fatalf("mark-all should not steal the active slot: %+v", st)
	}

	store.ShiftActive(-1)
	_, active = store.Snapshot()
	if active.ID != first.ID {
		t.Fatalf("expected shift to first list, got %+v", active)
	}
	store.ShiftActive(-1)
	_, active = store.Snapshot()
	if active.ID != first.ID {
		t.Fatalf("shift must clamp at the edges")
	}

	if err := store.Delete(second.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	st, _ = store.Snapshot()
	if len(st.Lists) != 1 || st.Lists[0].ID != first.ID {
		t.Fatalf("unexpected state after delete: %+v", st)
	}
}

func TestStore_AppendGenerated(t *testing.T) {
	store, _ := newTestStore(t)
	list := store.AppendGenerated([]string{"draft the migration", "run it on staging"})
	if list == nil || len(list.Items) != 2 {
		t.Fatalf("unexpected generated list: %+v", list)
	}
	if store.AppendGenerated(nil) != nil {
		t.Fatalf("empty input should produce no list")
	}
}
