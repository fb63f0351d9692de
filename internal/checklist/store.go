// Package checklist keeps the execution lists the console carves out of
// operator messages, with assistant-driven auto-checkoff.
package checklist

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

var ErrNoList = errors.New("no matching checklist")

type Item struct {
	Text string `json:"text"`
	Done bool   `json:"done"`
}

type List struct {
	ID          string `json:"id"`
	CreatedAt   string `json:"createdAt"`
	UpdatedAt   string `json:"updatedAt"`
	SourceMsgID string `json:"sourceMsgId,omitempty"`
	Completed   bool   `json:"completed"`
	Items       []Item `json:"items"`
}

// State is the whole on-disk document. ActiveIndex is -1 when no list is
// selected.
type State struct {
	Lists       []List `json:"lists"`
	ActiveIndex int    `json:"activeIndex"`
}

func (st State) active() *List {
	if st.ActiveIndex < 0 || st.ActiveIndex >= len(st.Lists) {
		return nil
	}
	return &st.Lists[st.ActiveIndex]
}

type Store struct {
	path   string
	now    func() time.Time
	notify func(State, *List)
	mu     sync.Mutex
	state  State
}

type Option func(*Store)

// WithNotify fires after every persisted change with the new state and the
// active list; the console wires it to the fan-out broadcaster.
func WithNotify(fn func(State, *List)) Option {
	return func(s *Store) { s.notify = fn }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore loads existing state; a missing or torn file starts empty.
func NewStore(path string, opts ...Option) *Store {
	s := &Store{path: path, now: time.Now, state: State{ActiveIndex: -1}}
	for _, opt := range opts {
		opt(s)
	}
	if raw, err := os.ReadFile(path); err == nil {
		var st State
		if err := json.Unmarshal(raw, &st); err == nil && st.Lists != nil {
			s.state = st
		}
	}
	return s
}

// Snapshot returns a deep copy of the state plus the active list.
func (s *Store) Snapshot() (State, *List) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() (State, *List) {
	st := State{ActiveIndex: s.state.ActiveIndex, Lists: make([]List, len(s.state.Lists))}
	for i, l := range s.state.Lists {
		l.Items = append([]Item(nil), l.Items...)
		st.Lists[i] = l
	}
	return st, st.active()
}

// CaptureFromOperator extracts a list from an operator message and, when
// one is found, appends it and makes it active.
func (s *Store) CaptureFromOperator(msgID, text string) (*List, bool) {
	items := Extract(text)
	if items == nil {
		return nil, false
	}
	ts := s.now().UTC().Format(time.RFC3339)
	list := List{
		ID:          "de_" + randomHex(6),
		CreatedAt:   ts,
		UpdatedAt:   ts,
		SourceMsgID: msgID,
	}
	for _, item := range items {
		list.Items = append(list.Items, Item{Text: item})
	}

	s.mu.Lock()
	s.state.Lists = append(s.state.Lists, list)
	s.state.ActiveIndex = len(s.state.Lists) - 1
	s.persistLocked()
	st, active := s.snapshotLocked()
	s.mu.Unlock()
	s.fire(st, active)
	return active, true
}

// AutoCheckoff applies an assistant reply to the active list. Explicit
// [x]/[ ] lines win and set items both ways; otherwise any undone item
// whose leading 40 characters appear in the reply is marked done.
func (s *Store) AutoCheckoff(replyText string) bool {
	s.mu.Lock()
	list := s.state.active()
	if list == nil || list.Completed || len(list.Items) == 0 {
		s.mu.Unlock()
		return false
	}

	changed := false
	var checkLines []string
	for _, raw := range strings.Split(replyText, "\n") {
		line := strings.TrimSpace(strings.TrimSuffix(raw, "\r"))
		low := strings.ToLower(line)
		if strings.HasPrefix(low, "[x]") || strings.HasPrefix(low, "[ ]") {
			checkLines = append(checkLines, line)
		}
	}

	if len(checkLines) > 0 {
		for _, line := range checkLines {
			mark := strings.HasPrefix(strings.ToLower(line), "[x]")
			text := strings.ToLower(strings.TrimSpace(line[3:]))
			if text == "" {
				continue
			}
			for i := range list.Items {
				if strings.ToLower(list.Items[i].Text) == text && list.Items[i].Done != mark {
					list.Items[i].Done = mark
					changed = true
				}
			}
		}
	} else {
		lower := strings.ToLower(replyText)
		for i := range list.Items {
			if list.Items[i].Done {
				continue
			}
			needle := strings.ToLower(list.Items[i].Text)
			if runes := []rune(needle); len(runes) > 40 {
				needle = string(runes[:40])
			}
			if needle != "" && strings.Contains(lower, needle) {
				list.Items[i].Done = true
				changed = true
			}
		}
	}

	if !changed {
		s.mu.Unlock()
		return false
	}
	list.UpdatedAt = s.now().UTC().Format(time.RFC3339)
	list.Completed = allDone(list.Items)
	s.persistLocked()
	st, active := s.snapshotLocked()
	s.mu.Unlock()
	s.fire(st, active)
	return true
}

// Toggle flips one item. done==nil toggles; otherwise it sets. An empty
// listID targets the active list.
func (s *Store) Toggle(listID string, idx int, done *bool) error {
	s.mu.Lock()
	list := s.findLocked(listID)
	if list == nil {
		s.mu.Unlock()
		return ErrNoList
	}
	if idx < 0 || idx >= len(list.Items) {
		s.mu.Unlock()
		return errors.New("item index out of range")
	}
	if done == nil {
		list.Items[idx].Done = !list.Items[idx].Done
	} else {
		list.Items[idx].Done = *done
	}
	list.UpdatedAt = s.now().UTC().Format(time.RFC3339)
	list.Completed = allDone(list.Items)
	s.persistLocked()
	st, active := s.snapshotLocked()
	s.mu.Unlock()
	s.fire(st, active)
	return nil
}

// MarkAll completes every item on the list.
func (s *Store) MarkAll(listID string) error {
	s.mu.Lock()
	list := s.findLocked(listID)
	if list == nil {
		s.mu.Unlock()
		return ErrNoList
	}
	for i := range list.Items {
		list.Items[i].Done = true
	}
	list.Completed = true
	list.UpdatedAt = s.now().UTC().Format(time.RFC3339)
	s.persistLocked()
	st, active := s.snapshotLocked()
	s.mu.Unlock()
	s.fire(st, active)
	return nil
}

// Delete removes the list and clamps the active index.
func (s *Store) Delete(listID string) error {
	s.mu.Lock()
	idx := -1
	for i := range s.state.Lists {
		if s.state.Lists[i].ID == listID {
			idx = i
			break
		}
	}
	if idx == -1 {
		s.mu.Unlock()
		return ErrNoList
	}
	s.state.Lists = append(s.state.Lists[:idx], s.state.Lists[idx+1:]...)
	if s.state.ActiveIndex >= len(s.state.Lists) {
		s.state.ActiveIndex = len(s.state.Lists) - 1
	}
	s.persistLocked()
	st, active := s.snapshotLocked()
	s.mu.Unlock()
	s.fire(st, active)
	return nil
}

// ShiftActive moves the active pointer by dir, clamped to the list range.
func (s *Store) ShiftActive(dir int) {
	s.mu.Lock()
	if len(s.state.Lists) == 0 {
		s.mu.Unlock()
		return
	}
	i := s.state.ActiveIndex
	if i < 0 {
		i = len(s.state.Lists) - 1
	}
	i += dir
	if i < 0 {
		i = 0
	}
	if i >= len(s.state.Lists) {
		i = len(s.state.Lists) - 1
	}
	s.state.ActiveIndex = i
	s.persistLocked()
	st, active := s.snapshotLocked()
	s.mu.Unlock()
	s.fire(st, active)
}

// AppendGenerated adds a fresh list from generated items and makes it
// active.
func (s *Store) AppendGenerated(items []string) *List {
	if len(items) == 0 {
		return nil
	}
	ts := s.now().UTC().Format(time.RFC3339)
	list := List{ID: "de_" + randomHex(6), CreatedAt: ts, UpdatedAt: ts}
	for _, item := range items {
		list.Items = append(list.Items, Item{Text: item})
	}
	s.mu.Lock()
	s.state.Lists = append(s.state.Lists, list)
	s.state.ActiveIndex = len(s.state.Lists) - 1
	s.persistLocked()
	st, active := s.snapshotLocked()
	s.mu.Unlock()
	s.fire(st, active)
	return active
}

func (s *Store) findLocked(listID string) *List {
	if listID == "" {
		return s.state.active()
	}
	for i := range s.state.Lists {
		if s.state.Lists[i].ID == listID {
			return &s.state.Lists[i]
		}
	}
	return nil
}

func (s *Store) persistLocked() {
	raw, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return
	}
	_ = os.Rename(tmp, s.path)
}

func (s *Store) fire(st State, active *List) {
	if s.notify != nil {
		s.notify(st, active)
	}
}

func allDone(items []Item) bool {
	for _, it := range items {
		if !it.Done {
			return false
		}
	}
	return true
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return hex.EncodeToString([]byte(time.Now().UTC().Format("150405.000000000")))[:2*n]
	}
	return hex.EncodeToString(b)
}
