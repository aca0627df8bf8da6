// Package domain contains entity without logic, just meta-data
package domain

import "errors"

const (
	MaxUserIDLen   = 64
	MaxUsernameLen = 64
)

var (
	ErrUserIDEmpty     = errors.New("user id empty")
	ErrUserIDTooLong   = errors.New("user id too long")
	ErrUsernameTooLong = errors.New("username too long")
)

type UserID string

// User is the identity claim a client presents when joining a room.
// It is not authenticated here.
type User struct {
	ID      UserID `json:"id"`
	Name    string `json:"name"`
	IsTutor bool   `json:"isTutor"`
}

func (u User) Validate() error {
	if u.ID == "" {
		return ErrUserIDEmpty
	}
	if len(u.ID) > MaxUserIDLen {
		return ErrUserIDTooLong
	}
	if len(u.Name) > MaxUsernameLen {
		return ErrUsernameTooLong
	}
	return nil
}
