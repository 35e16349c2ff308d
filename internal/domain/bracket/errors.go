package bracket

import "errors"

// Sentinel kinds for bracket construction errors.
var (
	ErrInvalidBracketSize     = errors.New("bracket size must be a power of two >= 2")
	ErrInsufficientCandidates = errors.New("not enough eligible candidates for bracket")
)
