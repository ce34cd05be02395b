package repositories

import "errors"

var (
	ErrMessageNotFound = errors.New("message not found")
	ErrUserNotFound    = errors.New("user not found")
	// ErrUnauthorized is returned when a user acts on a message they may not change.
	ErrUnauthorized = errors.New("unauthorized")
)
