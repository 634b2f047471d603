package types

import "time"

const ChannelKindText = "text"

// Channel is a topic room within a server. Access set = server owner plus the
// server's members.
type Channel struct {
	Id        string    `json:"id" gorm:"primaryKey"`
	ServerId  string    `json:"server_id" gorm:"index"`
	Name      string    `json:"name"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}
