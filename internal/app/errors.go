package service

import "errors"

// Sentinel kinds for service configuration errors.
var (
	ErrUnknownStoreBackend = errors.New("unknown store backend")
)
