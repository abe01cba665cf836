package domain

import (
	"errors"
	"time"
)

// User is a locally known account linked to one external identity-provider subject.
type User struct {
	ID         string
	Subject    string // external IdP subject; unique
	Email      string
	Name       string
	PictureURL string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Profile is what a verified external login tells us about the user.
type Profile struct {
	Subject    string `json:"subject"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	PictureURL string `json:"pictureUrl"`
}

// Validate validates the user for persistence. Returns an error describing the first validation failure.
func (u *User) Validate() error {
	if u.ID == "" {
		return errors.New("id is required")
	}
	if u.Subject == "" {
		return errors.New("subject is required")
	}
	return nil
}

// DiffersFrom reports whether p carries profile data that is not yet stored on u.
// Empty profile fields never overwrite stored values.
func (u *User) DiffersFrom(p Profile) bool {
	return (p.Email != "" && p.Email != u.Email) ||
		(p.Name != "" && p.Name != u.Name) ||
		(p.PictureURL != "" && p.PictureURL != u.PictureURL)
}

// Apply copies non-empty profile fields onto u.
func (u *User) Apply(p Profile) {
	if p.Email != "" {
		u.Email = p.Email
	}
	if p.Name != "" {
		u.Name = p.Name
	}
	if p.PictureURL != "" {
		u.PictureURL = p.PictureURL
	}
}
