// Package transcript keeps the rolling JSONL transcript file. Lines use
// tiny keys to keep the file small: t timestamp, r role, x text, i message
// id, a attachment links. Writes are best-effort; transcript trouble must
// never break chat.
package transcript

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

type Line struct {
	T string   `json:"t"`
	R string   `json:"r"`
	X string   `json:"x"`
	I string   `json:"i,omitempty"`
	A []string `json:"a,omitempty"`
}

type Store struct {
	path string
	now  func() time.Time
	mu   sync.Mutex
}

func NewStore(path string) *Store {
	return &Store{path: path, now: time.Now}
}

// Append writes one line. CRLF is normalized so downstream consumers can
// split on \n.
func (s *Store) Append(role, id, text string, attachments []string) error {
	if s == nil {
		return errors.New("transcript store is not initialized")
	}
	line := Line{
		T: s.now().UTC().Format(time.RFC3339),
		R: role,
		X: strings.ReplaceAll(text, "\r\n", "\n"),
		I: id,
	}
	if len(attachments) > 0 {
		line.A = attachments
	}
	raw, err := json.Marshal(line)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(raw, '\n')); err != nil {
		return err
	}
	return nil
}

// Last returns the final n parseable lines in file order. Unparseable
// lines are skipped, not fatal.
func (s *Store) Last(n int) ([]Line, error) {
	if s == nil {
		return nil, errors.New("transcript store is not initialized")
	}
	if n <= 0 {
		n = 50
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Line{}, nil
		}
		return nil, err
	}
	defer f.Close()

	var lines []Line
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var line Line
		if err := json.Unmarshal([]byte(raw), &line); err != nil {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}

// Rewrite maps every line through fn: return nil to drop a line, or a
// (possibly modified) line to keep it. The file is replaced atomically;
// on any error the original is left untouched.
func (s *Store) Rewrite(fn func(Line) *Line) (removed, updated int, err error) {
	if s == nil {
		return 0, 0, errors.New("transcript store is not initialized")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	src, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, 0, nil
		}
		return 0, 0, err
	}

	var out []string
	for _, raw := range strings.Split(string(src), "\n") {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		var line Line
		if err := json.Unmarshal([]byte(raw), &line); err != nil {
			out = append(out, raw)
			continue
		}
		next := fn(line)
		if next == nil {
			removed++
			continue
		}
		encoded, err := json.Marshal(*next)
		if err != nil {
			out = append(out, raw)
			continue
		}
		if string(encoded) != raw {
			updated++
		}
		out = append(out, string(encoded))
	}

	body := strings.Join(out, "\n")
	if len(out) > 0 {
		body += "\n"
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(body), 0o644); err != nil {
		return 0, 0, err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return 0, 0, err
	}
	return removed, updated, nil
}
