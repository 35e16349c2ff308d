// Package repository defines persistence contracts for the catalog,
// sessions and the vote log, plus the in-memory and sqlite backends.
package repository

import (
	"context"
	"time"

	"github.com/okian/faceoff/internal/domain/model"
	"github.com/okian/faceoff/internal/domain/ranking"
)

// Catalog provides read access to candidates and write-through counter
// updates. Counter increments must never lose updates under concurrency.
type Catalog interface {
	// PutCandidate inserts or replaces a candidate record.
	PutCandidate(ctx context.Context, c model.Candidate) error

	// Candidate returns one record. Returns ErrNotFound if unknown.
	Candidate(ctx context.Context, id string) (model.Candidate, error)

	// EligibleCandidates lists candidates available for bracket draws.
	EligibleCandidates(ctx context.Context) ([]model.Candidate, error)

	// RemoveCandidate soft-removes a candidate from future draws.
	// Historical references stay intact.
	RemoveCandidate(ctx context.Context, id string) error

	// Tallies exports every candidate's counters for standings seeding.
	Tallies(ctx context.Context) ([]ranking.Tally, error)

	// CandidateCount returns the catalog size, eligible or not.
	CandidateCount(ctx context.Context) (int, error)
}

// Sessions persists session state as an opaque versioned value.
type Sessions interface {
	// CreateSession stores a new session. Returns ErrActiveSessionExists
	// if the identity already owns an ACTIVE session, which is what makes
	// racing start requests collapse to a single session.
	CreateSession(ctx context.Context, s *model.Session) error

	// Session loads one session by id. Returns ErrNotFound if unknown.
	Session(ctx context.Context, id string) (model.Session, error)

	// ActiveSession returns the identity's ACTIVE session, or ErrNotFound.
	ActiveSession(ctx context.Context, identity string) (model.Session, error)

	// MarkAbandoned flips ACTIVE sessions idle since before the cutoff to
	// ABANDONED and returns how many changed.
	MarkAbandoned(ctx context.Context, idleBefore time.Time) (int, error)

	// SessionCounts returns totals by status.
	SessionCounts(ctx context.Context) (map[model.SessionStatus]int, error)
}

// Votes is the append-only audit log.
type Votes interface {
	// VoteCount returns the total number of recorded votes.
	VoteCount(ctx context.Context) (int, error)

	// ScanVotes streams every vote in insertion order. The scan stops
	// with the first error fn returns.
	ScanVotes(ctx context.Context, fn func(model.Vote) error) error
}

// Store bundles the three concerns plus the atomic vote apply.
type Store interface {
	Catalog
	Sessions
	Votes

	// ApplyVote durably applies one decided match as a single unit: the
	// session state (compare-and-swap on s.Version), the appended vote,
	// and both candidates' counters. On success s.Version is bumped.
	// Returns ErrVersionConflict when the stored session moved on, in
	// which case nothing is written.
	ApplyVote(ctx context.Context, s *model.Session, v model.Vote) error

	// Close releases backend resources.
	Close() error
}
