// Package leader implements the single-writer lease for the console data
// directory. Election is best-effort: it guards against two consoles
// fighting over the same gateway session, not against byzantine writers.
package leader

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	DefaultTTL       = 3500 * time.Millisecond
	DefaultHeartbeat = 1200 * time.Millisecond
)

// Lease is the on-disk claim. ExpiresAt is unix milliseconds.
type Lease struct {
	OwnerID   string `json:"ownerId"`
	ExpiresAt int64  `json:"expiresAt"`
}

func (l Lease) expired(now time.Time) bool {
	return now.UnixMilli() >= l.ExpiresAt
}

// Store reads and writes the lease file. All writes are atomic
// tmp+rename so a crashed writer never leaves a torn claim.
type Store struct {
	path string
	ttl  time.Duration
	now  func() time.Time
	mu   sync.Mutex
}

type StoreOption func(*Store)

func WithTTL(ttl time.Duration) StoreOption {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

func NewStore(path string, opts ...StoreOption) *Store {
	s := &Store{path: path, ttl: DefaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Acquire takes or refreshes the lease. It succeeds when the lease is
// free, expired, or already held by ownerID.
func (s *Store) Acquire(ownerID string) (bool, error) {
	if ownerID == "" {
		return false, errors.New("owner id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok, err := s.readLocked()
	if err != nil {
		return false, err
	}
	if ok && current.OwnerID != ownerID && !current.expired(s.now()) {
		return false, nil
	}
	return true, s.writeLocked(Lease{
		OwnerID:   ownerID,
		ExpiresAt: s.now().Add(s.ttl).UnixMilli(),
	})
}

// Resign drops the lease if ownerID still holds it.
func (s *Store) Resign(ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok, err := s.readLocked()
	if err != nil || !ok {
		return err
	}
	if current.OwnerID != ownerID {
		return nil
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Current returns the live claim, if any. Expired claims read as absent.
func (s *Store) Current() (Lease, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok, err := s.readLocked()
	if err != nil || !ok {
		return Lease{}, false, err
	}
	if current.expired(s.now()) {
		return Lease{}, false, nil
	}
	return current, true, nil
}

func (s *Store) readLocked() (Lease, bool, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Lease{}, false, nil
		}
		return Lease{}, false, err
	}
	var lease Lease
	if err := json.Unmarshal(raw, &lease); err != nil {
		// A torn or garbage lease file counts as free.
		return Lease{}, false, nil
	}
	if lease.OwnerID == "" {
		return Lease{}, false, nil
	}
	return lease, true, nil
}

func (s *Store) writeLocked(lease Lease) error {
	raw, err := json.Marshal(lease)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Elector heartbeats the lease and reports leadership transitions.
type Elector struct {
	store     *Store
	ownerID   string
	heartbeat time.Duration
	logger    *slog.Logger
	onChange  func(leading bool)

	mu      sync.Mutex
	leading bool
}

func NewElector(store *Store, ownerID string, heartbeat time.Duration, logger *slog.Logger, onChange func(bool)) *Elector {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Elector{
		store:     store,
		ownerID:   ownerID,
		heartbeat: heartbeat,
		logger:    logger,
		onChange:  onChange,
	}
}

// Leading reports the last observed election outcome.
func (e *Elector) Leading() bool {
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.leading
}

// Run heartbeats until ctx is cancelled, then resigns. Lease I/O errors
// demote rather than fail the loop.
func (e *Elector) Run(ctx context.Context) error {
	e.tick()
	ticker := time.NewTicker(e.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if e.Leading() {
				if err := e.store.Resign(e.ownerID); err != nil {
					e.logger.Warn("lease resign failed", "error", err)
				}
				e.setLeading(false)
			}
			return nil
		case <-ticker.C:
			e.tick()
		}
	}
}

func (e *Elector) tick() {
	ok, err := e.store.Acquire(e.ownerID)
	if err != nil {
		e.logger.Warn("lease heartbeat failed", "error", err)
		ok = false
	}
	e.setLeading(ok)
}

func (e *Elector) setLeading(leading bool) {
	e.mu.Lock()
	changed := e.leading != leading
	e.leading = leading
	e.mu.Unlock()
	if changed {
		e.logger.Info("leadership changed", "leading", leading, "owner", e.ownerID)
		if e.onChange != nil {
			e.onChange(leading)
		}
	}
}
