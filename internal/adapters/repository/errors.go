package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrNotFound            = errors.New("record not found")
	ErrVersionConflict     = errors.New("session version conflict")
	ErrActiveSessionExists = errors.New("identity already has an active session")
	ErrClosed              = errors.New("store closed")
)
