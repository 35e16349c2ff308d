package config

import (
	"errors"
)

// Sentinel kinds for configuration failures, matchable with errors.Is.
var (
	// ErrInvalidConfig marks a loaded configuration the service cannot
	// run with (bad addr, non-power-of-two bracket, unknown store).
	ErrInvalidConfig = errors.New("invalid config")

	// ErrLoadConfig wraps provider failures: unreadable file, bad YAML,
	// or unparsable environment values.
	ErrLoadConfig = errors.New("load config failed")
)
