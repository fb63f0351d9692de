// Package chatlog persists the append-only operator/assistant transcript
// messages. Messages are immutable once appended.
package chatlog

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"

	dbmodel "opconsole/internal/db"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one transcript entry as the console API and fan-out channel
// see it.
type Message struct {
	ID          string   `json:"id"`
	TS          string   `json:"ts"`
	Role        string   `json:"role"`
	Text        string   `json:"text"`
	Attachments []string `json:"attachments"`
}

type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// NewStore uses the shared console DB. Caller must not close the db.
func NewStore(gdb *gorm.DB) (*Store, error) {
	if gdb == nil {
		return nil, errors.New("db is required")
	}
	return &Store{db: gdb, now: time.Now}, nil
}

// NewMessage builds an operator or assistant message with a fresh prefixed
// id. Assistant messages get the bot_ prefix so clients can tell the two
// apart without inspecting the role.
func (s *Store) NewMessage(role, text string, attachments []string) Message {
	prefix := "msg_"
	if role == RoleAssistant {
		prefix = "bot_"
	}
	if attachments == nil {
		attachments = []string{}
	}
	return Message{
		ID:          prefix + randomHex(8),
		TS:          s.now().UTC().Format(time.RFC3339),
		Role:        role,
		Text:        text,
		Attachments: attachments,
	}
}

func (s *Store) Append(msg Message) error {
	if s == nil || s.db == nil {
		return errors.New("chatlog store is not initialized")
	}
	atts, err := json.Marshal(msg.Attachments)
	if err != nil {
		return err
	}
	ts, err := time.Parse(time.RFC3339, msg.TS)
	if err != nil {
		ts = s.now().UTC()
	}
	return s.db.Create(&dbmodel.ChatMessage{
		MsgID:           msg.ID,
		Role:            msg.Role,
		Text:            msg.Text,
		AttachmentsJSON: string(atts),
		CreatedAt:       ts.Unix(),
	}).Error
}

// Recent returns the newest limit messages in chronological order.
func (s *Store) Recent(limit int) ([]Message, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("chatlog store is not initialized")
	}
	if limit <= 0 {
		limit = 50
	}
	rows := make([]dbmodel.ChatMessage, 0, limit)
	// rowid preserves append order even when timestamps collide.
	if err := s.db.Order("rowid DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Message, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		var atts []string
		if row.AttachmentsJSON != "" {
			_ = json.Unmarshal([]byte(row.AttachmentsJSON), &atts)
		}
		if atts == nil {
			atts = []string{}
		}
		out = append(out, Message{
			ID:          row.MsgID,
			TS:          time.Unix(row.CreatedAt, 0).UTC().Format(time.RFC3339),
			Role:        row.Role,
			Text:        row.Text,
			Attachments: atts,
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
