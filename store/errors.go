package store

import "errors"

var (
	ErrNotFound    = errors.New("store: not found")
	ErrNotAFile    = errors.New("store: not a file")
	ErrInvalidCID  = errors.New("store: invalid cid")
	ErrCIDMismatch = errors.New("store: cid mismatch")
	ErrImmutable   = errors.New("store: immutable object mismatch")
	ErrStopped     = errors.New("store: node stopped")
)

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

func IsNotAFile(err error) bool { return errors.Is(err, ErrNotAFile) }
