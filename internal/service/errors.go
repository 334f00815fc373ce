package service

import "errors"

var (
	// ErrValidation rejects a request before any side effect.
	ErrValidation = errors.New("invalid request")
	// ErrResolution marks a registration store failure during recipient lookup.
	ErrResolution = errors.New("recipient resolution failed")
)
