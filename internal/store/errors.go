package store

import "errors"

var (
	ErrRecordNotFound = errors.New("record not found")
	ErrDuplicateKey   = errors.New("already exists")
	// ErrTaskTerminal rejects updates to a task that already reached a
	// terminal status; cancelled stays cancelled.
	ErrTaskTerminal = errors.New("task already terminal")
)
