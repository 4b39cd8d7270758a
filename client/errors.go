package client

import "errors"

var (
	// ErrAlreadyExists is returned by CreateSingleton while a singleton is live.
	ErrAlreadyExists = errors.New("client: already exists")
	// ErrNotInitialized is returned by GetSingleton before CreateSingleton.
	ErrNotInitialized = errors.New("client: not initialized")
	// ErrStopped is returned by Write and Pin after Stop.
	ErrStopped = errors.New("client: stopped")
)
