package types

import "time"

type User struct {
	Id         string        `json:"id" gorm:"primaryKey"` // opaque identity supplied by the asserter, unique!
	Name       string        `json:"name"`                 // display name
	Email      string        `json:"email"`
	Language   string        `json:"language"` // alpha-2 iso
	Tags       JSONStringMap `json:"tags"`
	LastOnline time.Time     `json:"last_online"`
}
