package types

import "time"

const (
	VisibilityPublic  = "public"
	VisibilityPrivate = "private"
)

// Server is a community container owning channels and memberships. Not to be
// confused with the network host.
type Server struct {
	Id          string    `json:"id" gorm:"primaryKey"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Visibility  string    `json:"visibility"`
	OwnerId     string    `json:"owner_id" gorm:"index"`
	CreatedAt   time.Time `json:"created_at"`
}

// Membership is one (server, user) pair. The owner is implicitly a member
// and never gets a row.
type Membership struct {
	ServerId  string    `json:"server_id" gorm:"primaryKey"`
	UserId    string    `json:"user_id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
}
