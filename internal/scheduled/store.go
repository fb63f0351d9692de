// Package scheduled persists the scheduled-report log: entries dropped by
// cron-driven agents or added by the operator by hand.
package scheduled

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	dbmodel "opconsole/internal/db"
)

type Entry struct {
	ID           string `json:"id"`
	TS           string `json:"ts"`
	Kind         string `json:"kind"`
	Title        string `json:"title"`
	Instructions string `json:"instructions"`
	Report       string `json:"report"`
}

type Store struct {
	db     *gorm.DB
	now    func() time.Time
	notify func(Entry)
}

// NewStore uses the shared console DB. notify (optional) fires after each
// added entry.
func NewStore(gdb *gorm.DB, notify func(Entry)) (*Store, error) {
	if gdb == nil {
		return nil, errors.New("db is required")
	}
	return &Store{db: gdb, now: time.Now, notify: notify}, nil
}

// Add validates and persists one entry. Title falls back to the kind.
func (s *Store) Add(kind, title, instructions, report string) (Entry, error) {
	if s == nil || s.db == nil {
		return Entry{}, errors.New("scheduled store is not initialized")
	}
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return Entry{}, errors.New("kind is required")
	}
	if strings.TrimSpace(title) == "" {
		title = kind
	}
	entry := Entry{
		ID:           "sch_" + randomHex(8),
		TS:           s.now().UTC().Format(time.RFC3339),
		Kind:         kind,
		Title:        title,
		Instructions: instructions,
		Report:       report,
	}
	if err := s.db.Create(&dbmodel.ScheduledEntry{
		EntryID:      entry.ID,
		Kind:         entry.Kind,
		Title:        entry.Title,
		Instructions: entry.Instructions,
		Report:       entry.Report,
		CreatedAt:    s.now().UTC().Unix(),
	}).Error; err != nil {
		return Entry{}, err
	}
	if s.notify != nil {
		s.notify(entry)
	}
	return entry, nil
}

// Recent returns the newest limit entries in chronological order.
func (s *Store) Recent(limit int) ([]Entry, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("scheduled store is not initialized")
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	rows := make([]dbmodel.ScheduledEntry, 0, limit)
	if err := s.db.Order("rowid DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		out = append(out, Entry{
			ID:           row.EntryID,
			TS:           time.Unix(row.CreatedAt, 0).UTC().Format(time.RFC3339),
			Kind:         row.Kind,
			Title:        row.Title,
			Instructions: row.Instructions,
			Report:       row.Report,
		})
	}
	return out, nil
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return hex.EncodeToString([]byte(time.Now().UTC().Format("150405.000000000")))[:2*n]
	}
	return hex.EncodeToString(b)
}
