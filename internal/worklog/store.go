// Package worklog records console observability entries: gateway lifecycle,
// reply delivery, fan-out connects. Append-only.
package worklog

import (
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"

	dbmodel "opconsole/internal/db"
)

type Entry struct {
	TS    string         `json:"ts"`
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

type Store struct {
	db     *gorm.DB
	now    func() time.Time
	notify func(Entry)
}

// NewStore uses the shared console DB. notify (optional) fires after each
// persisted entry; the console wires it to the fan-out broadcaster.
func NewStore(gdb *gorm.DB, notify func(Entry)) (*Store, error) {
	if gdb == nil {
		return nil, errors.New("db is required")
	}
	return &Store{db: gdb, now: time.Now, notify: notify}, nil
}

// Record satisfies the bridge's Recorder interface. Persistence failures
// are swallowed: observability must never break chat.
func (s *Store) Record(event string, data map[string]any) {
	if s == nil || s.db == nil {
		return
	}
	entry := Entry{
		TS:    s.now().UTC().Format(time.RFC3339),
		Event: event,
		Data:  data,
	}
	raw, err := json.Marshal(data)
	if err != nil {
		raw = []byte("{}")
	}
	_ = s.db.Create(&dbmodel.WorklogEntry{
		Event:     event,
		DataJSON:  string(raw),
		CreatedAt: s.now().UTC().Unix(),
	}).Error
	if s.notify != nil {
		s.notify(entry)
	}
}

// Recent returns the newest limit entries in chronological order.
func (s *Store) Recent(limit int) ([]Entry, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("worklog store is not initialized")
	}
	if limit <= 0 {
		limit = 50
	}
	rows := make([]dbmodel.WorklogEntry, 0, limit)
	if err := s.db.Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		var data map[string]any
		if row.DataJSON != "" {
			_ = json.Unmarshal([]byte(row.DataJSON), &data)
		}
		out = append(out, Entry{
			TS:    time.Unix(row.CreatedAt, 0).UTC().Format(time.RFC3339),
			Event: row.Event,
			Data:  data,
		})
	}
	return out, nil
}
