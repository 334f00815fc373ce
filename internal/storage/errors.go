package storage

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidRecord rejects writes missing their key fields.
	ErrInvalidRecord = errors.New("invalid record")
)
