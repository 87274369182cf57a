package postgres

import "time"

// MessageModel is the GORM model for one stored chat message.
// The (chat_id, seq_num) unique index gives each conversation its own dense
// sequence and keeps range scans over a single conversation cheap.
type MessageModel struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	ChatID    int64     `gorm:"uniqueIndex:idx_chat_seq;index:idx_chat_created"`
	SeqNum    int       `gorm:"uniqueIndex:idx_chat_seq"`
	Username  string    `gorm:"size:255;not null"`
	Content   string    `gorm:"type:text;not null"`
	FromBot   bool      `gorm:"not null;default:false"`
	CreatedAt time.Time `gorm:"index:idx_chat_created"`
}

// TableName overrides GORM's pluralized default.
func (MessageModel) TableName() string { return "messages" }
