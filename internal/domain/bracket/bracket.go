// Package bracket seeds elimination brackets and pairs round survivors.
//
// Seeding is pure randomization: a uniform draw from the eligible pool,
// paired adjacently. There is no seed-ordering or slot preservation;
// between rounds the survivors are re-permuted before pairing.
package bracket

import (
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/faceoff/internal/domain/model"
)

// MinSize is the smallest bracket the builder accepts.
const MinSize = 2

// Option applies a configuration option to the Builder.
type Option func(*Builder)

// WithRandSource replaces the randomness source. Tests seed this to make
// draws and reshuffles deterministic.
func WithRandSource(src rand.Source) Option {
	return func(b *Builder) {
		if src != nil {
			b.rng = rand.New(src) //nolint:gosec // bracket draws need reproducibility, not crypto strength
		}
	}
}

// WithIDGenerator replaces the match id generator.
func WithIDGenerator(fn func() string) Option {
	return func(b *Builder) {
		if fn != nil {
			b.newID = fn
		}
	}
}

// Builder draws entrants and produces pairing sequences.
type Builder struct {
	mu    sync.Mutex // rand.Rand is not safe for concurrent use
	rng   *rand.Rand
	newID func() string
}

// New constructs a Builder with a time-seeded source by default.
func New(opts ...Option) *Builder {
	b := &Builder{
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec // see WithRandSource
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build draws a uniform random permutation of size distinct candidates
// from pool and returns the entrant order plus the round-1 pairing
// sequence. The pool must hold at least size ids.
func (b *Builder) Build(pool []string, size int) ([]string, []model.Match, error) {
	if size < MinSize || size&(size-1) != 0 {
		return nil, nil, ErrInvalidBracketSize
	}
	if len(pool) < size {
		return nil, nil, ErrInsufficientCandidates
	}

	b.mu.Lock()
	order := b.rng.Perm(len(pool))
	b.mu.Unlock()

	entrants := make([]string, size)
	for i := range entrants {
		entrants[i] = pool[order[i]]
	}

	return entrants, b.pair(entrants, 1), nil
}

// NextRound re-permutes the survivors of a finished round and pairs them
// for round number round. Survivor count must be a power of two >= 2;
// anything else means the caller advanced a broken session.
func (b *Builder) NextRound(winners []string, round int) ([]model.Match, error) {
	if len(winners) < MinSize || len(winners)&(len(winners)-1) != 0 {
		return nil, ErrInvalidBracketSize
	}

	reshuffled := make([]string, len(winners))
	copy(reshuffled, winners)
	b.mu.Lock()
	b.rng.Shuffle(len(reshuffled), func(i, j int) {
		reshuffled[i], reshuffled[j] = reshuffled[j], reshuffled[i]
	})
	b.mu.Unlock()

	return b.pair(reshuffled, round), nil
}

// pair builds the adjacent pairing (0,1), (2,3), ... over order.
func (b *Builder) pair(order []string, round int) []model.Match {
	matches := make([]model.Match, 0, len(order)/2)
	for i := 0; i+1 < len(order); i += 2 {
		matches = append(matches, model.Match{
			ID:         b.newID(),
			Round:      round,
			Position:   len(matches) + 1,
			CandidateA: order[i],
			CandidateB: order[i+1],
		})
	}
	return matches
}
