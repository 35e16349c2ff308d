package engine

import "errors"

// Sentinel kinds for engine errors. The HTTP layer maps these onto
// status codes, so they form the public failure vocabulary.
var (
	ErrInvalidIdentity = errors.New("identity must not be empty")
	ErrStaleMatch      = errors.New("vote targets a match that is not the current one")
	ErrInvalidChoice   = errors.New("winner is not a candidate of the current match")
	ErrSessionComplete = errors.New("session is no longer accepting votes")
	ErrCorruptSession  = errors.New("stored session state is corrupt")
	ErrBusy            = errors.New("session is busy with another request")
)
