package models

import "time"

// User represents a chat user. Accounts are created by the external auth
// provider; this service only reads and updates profile fields.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email,omitempty"`
	ImageURL  string    `json:"imageUrl,omitempty"`
	Bio       string    `json:"bio,omitempty"`
	Latitude  *float64  `json:"latitude,omitempty"`
	Longitude *float64  `json:"longitude,omitempty"`
	Points    int       `json:"points"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasLocation reports whether the user has stored coordinates.
func (u *User) HasLocation() bool {
	return u.Latitude != nil && u.Longitude != nil
}
