package models

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	Avatar    string    `json:"avatar,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Participant is the display view of a user inside a conversation.
func (u *User) Participant() Participant {
	return Participant{ID: u.ID.String(), Name: u.Username, Avatar: u.Avatar}
}
