package ranking

import "errors"

// Sentinel kinds for standings queries.
var (
	ErrInvalidPage    = errors.New("page and page size must be positive")
	ErrInvalidSortKey = errors.New("unknown leaderboard sort key")
	ErrMalformedMatch = errors.New("settled match missing winner, loser or depth")
)
