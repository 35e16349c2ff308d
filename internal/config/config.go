// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() to build a Config with defaults.
// - Load(ctx) layers defaults, an optional YAML file, and environment.
// - External errors must be wrapped via this package's sentinels.
package config

import (
	"runtime"
	"time"
)

// Config contains process configuration. Extend as needed.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// BracketSize sets how many candidates each tournament draws.
	// Must be a power of two.
	BracketSize int `koanf:"bracket_size"`

	// Store selects the session store backend: memory or sqlite.
	Store string `koanf:"store"`

	// SQLitePath locates the database file for the sqlite backend.
	SQLitePath string `koanf:"sqlite_path"`

	// QueueSize bounds the in-memory settled-match queue.
	QueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of standings fold workers.
	WorkerCount int `koanf:"worker_count"`

	// MaxPageSize caps GET /leaderboard?page_size.
	MaxPageSize int `koanf:"max_page_size"`

	// CatalogPath points at a JSON file of candidates seeded at boot.
	// Empty skips seeding.
	CatalogPath string `koanf:"catalog_path"`

	// VelocityBurst and VelocityWindow bound short-term vote bursts:
	// at most VelocityBurst votes per VelocityWindow per identity.
	VelocityBurst  int           `koanf:"velocity_burst"`
	VelocityWindow time.Duration `koanf:"velocity_window"`

	// Budget and BudgetWindow cap sustained voting per identity.
	Budget       int           `koanf:"budget"`
	BudgetWindow time.Duration `koanf:"budget_window"`

	// FinishingExemption waives the velocity check when this few
	// matches remain in a session.
	FinishingExemption int `koanf:"finishing_exemption"`

	// SessionIdleThreshold marks sessions abandoned after this much
	// inactivity; SweepInterval is how often the sweep runs.
	SessionIdleThreshold time.Duration `koanf:"session_idle_threshold"`
	SweepInterval        time.Duration `koanf:"sweep_interval"`
}

// New creates a Config holding the production defaults.
func New() *Config {
	return &Config{
		LogLevel:             "info",
		Addr:                 ":9080",
		BracketSize:          128,
		Store:                "memory",
		SQLitePath:           "faceoff.db",
		QueueSize:            100_000,
		WorkerCount:          runtime.NumCPU() * 2,
		MaxPageSize:          100,
		VelocityBurst:        3,
		VelocityWindow:       2 * time.Second,
		Budget:               150,
		BudgetWindow:         10 * time.Minute,
		FinishingExemption:   3,
		SessionIdleThreshold: 24 * time.Hour,
		SweepInterval:        10 * time.Minute,
	}
}
