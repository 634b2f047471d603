package types

import (
	"time"

	"gorm.io/datatypes"
)

// Message is a persisted chat message. Deletion is always soft: the flag is
// set and the content stays in storage.
type Message struct {
	Id          string         `json:"id" gorm:"primaryKey"`
	ChannelId   string         `json:"channel_id" gorm:"index"`
	AuthorId    string         `json:"author_id"`
	Content     string         `json:"content"`
	Attachments datatypes.JSON `json:"attachments,omitempty"`
	CreatedAt   time.Time      `json:"created_at" gorm:"index"`
	EditedAt    *time.Time     `json:"edited_at,omitempty"`
	Deleted     bool           `json:"deleted"`
}
