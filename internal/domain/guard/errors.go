package guard

import "errors"

// ErrRateLimited is a soft rejection: the caller may retry after a
// cooldown, and session state is untouched.
var ErrRateLimited = errors.New("vote rate limit exceeded")
