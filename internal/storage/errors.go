package storage

import "errors"

var (
	// ErrUserNotFound is returned when no credential row matches.
	ErrUserNotFound = errors.New("user not found")
)
