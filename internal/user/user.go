// Package user holds the minimal borrower record the engine resolves before a loan
// is written. Registration and profiles live outside this service.
package user

import (
	"net/mail"
	"strings"
	"time"

	"lendingapi/internal/apperr"
	"lendingapi/internal/auth"
)

var (
	ErrNotFound      = apperr.New(apperr.KindNotFound, "user not found")
	ErrAlreadyExists = apperr.New(apperr.KindConflict, "a user with this email already exists")
)

type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      auth.Role `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

// Summary is the user projection joined into loan listings.
type Summary struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (u User) Summary() Summary {
	return Summary{ID: u.ID, Name: u.Name, Email: u.Email}
}

// Validate normalizes u in place and rejects incomplete records.
func (u *User) Validate() error {
	u.Name = strings.TrimSpace(u.Name)
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if u.Name == "" {
		return apperr.FieldValidation("name", "name is required")
	}
	if _, err := mail.ParseAddress(u.Email); err != nil {
		return apperr.FieldValidation("email", "email must be a valid address")
	}
	if u.Role == "" {
		u.Role = auth.RoleUser
	}
	if !u.Role.Valid() {
		return apperr.FieldValidation("role", "role must be USER or ADMIN")
	}
	return nil
}
