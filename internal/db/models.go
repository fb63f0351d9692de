package db

type ChatMessage struct {
	MsgID           string `gorm:"column:msg_id;primaryKey"`
	Role            string `gorm:"column:role;not null;default:''"`
	Text            string `gorm:"column:text;not null;default:''"`
	AttachmentsJSON string `gorm:"column:attachments_json;not null;default:''"`
	CreatedAt       int64  `gorm:"column:created_at;not null;default:0"`
}

func (ChatMessage) TableName() string { return "chat_messages" }

type WorklogEntry struct {
	ID        int64  `gorm:"column:id;primaryKey;autoIncrement"`
	Event     string `gorm:"column:event;not null"`
	DataJSON  string `gorm:"column:data_json;not null;default:''"`
	CreatedAt int64  `gorm:"column:created_at;not null;default:0"`
}

func (WorklogEntry) TableName() string { return "worklog_entries" }

type ScheduledEntry struct {
	EntryID      string `gorm:"column:entry_id;primaryKey"`
	Kind         string `gorm:"column:kind;not null;default:''"`
	Title        string `gorm:"column:title;not null;default:''"`
	Instructions string `gorm:"column:instructions;not null;default:''"`
	Report       string `gorm:"column:report;not null;default:''"`
	CreatedAt    int64  `gorm:"column:created_at;not null;default:0"`
}

func (ScheduledEntry) TableName() string { return "scheduled_entries" }
