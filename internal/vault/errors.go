package vault

import "errors"

var (
	ErrLocked             = errors.New("vault: locked")
	ErrNotInitialized     = errors.New("vault: not initialized")
	ErrAlreadyInitialized = errors.New("vault: already initialized")
)
