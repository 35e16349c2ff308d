// Package engine drives sessions through their brackets: it seeds new
// tournaments, resumes persisted ones and applies votes atomically,
// rolling rounds over with a fresh survivor shuffle until a champion
// emerges.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/okian/faceoff/internal/adapters/repository"
	"github.com/okian/faceoff/internal/domain/bracket"
	"github.com/okian/faceoff/internal/domain/guard"
	"github.com/okian/faceoff/internal/domain/model"
	"github.com/okian/faceoff/pkg/logger"
	"github.com/okian/faceoff/pkg/metrics"
)

// Default engine configuration constants.
const (
	defaultBracketSize = 128
	defaultLockWait    = 2 * time.Second
)

// Notifier receives every settled match after it is durably applied.
// The app layer plugs the standings queue in here.
type Notifier func(m model.SettledMatch)

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithBracketSize sets how many entrants each new session draws.
func WithBracketSize(size int) Option {
	return func(e *Engine) {
		if size >= bracket.MinSize {
			e.size = size
		}
	}
}

// WithBuilder replaces the bracket builder. Tests seed its randomness.
func WithBuilder(b *bracket.Builder) Option {
	return func(e *Engine) {
		if b != nil {
			e.builder = b
		}
	}
}

// WithGuard sets the vote rate limiter. Nil disables guarding.
func WithGuard(g *guard.Guard) Option {
	return func(e *Engine) {
		e.guard = g
	}
}

// WithNotifier sets the settled-match callback.
func WithNotifier(fn Notifier) Option {
	return func(e *Engine) {
		if fn != nil {
			e.notify = fn
		}
	}
}

// WithLockWait bounds how long a request waits for a busy session.
func WithLockWait(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.lockWait = d
		}
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithIDGenerator replaces the session and vote id generator.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) {
		if fn != nil {
			e.newID = fn
		}
	}
}

// Engine coordinates session lifecycle and vote application on top of a
// Store. All mutation goes through per-key locks so a session only ever
// has one writer at a time inside this process; the store's version
// check covers the rest.
type Engine struct {
	store   repository.Store
	builder *bracket.Builder
	guard   *guard.Guard
	locks   *keyedLocks
	notify  Notifier

	size     int
	lockWait time.Duration
	now      func() time.Time
	newID    func() string

	logger logger.Logger
}

// New constructs an Engine with production defaults.
func New(store repository.Store, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		builder:  bracket.New(),
		locks:    newKeyedLocks(),
		size:     defaultBracketSize,
		lockWait: defaultLockWait,
		now:      time.Now,
		newID:    uuid.NewString,
		logger:   logger.Get().Named("engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// StartOrResume returns the identity's ACTIVE session, creating one when
// none exists. The second return reports whether an existing session was
// resumed. Racing calls for the same identity collapse to one session.
func (e *Engine) StartOrResume(ctx context.Context, identity string) (model.Session, bool, error) {
	if identity == "" {
		return model.Session{}, false, ErrInvalidIdentity
	}

	if err := e.locks.acquire(ctx, "identity:"+identity, e.lockWait); err != nil {
		return model.Session{}, false, err
	}
	defer e.locks.release("identity:" + identity)

	sess, err := e.store.ActiveSession(ctx, identity)
	switch {
	case err == nil:
		if verr := sess.Validate(); verr != nil {
			e.logger.Error(ctx, "resumed session failed validation",
				logger.String("session_id", sess.ID), logger.Error(verr))
			return model.Session{}, false, fmt.Errorf("%w: %v", ErrCorruptSession, verr)
		}
		metrics.RecordSessionResumed()
		return sess, true, nil
	case !errors.Is(err, repository.ErrNotFound):
		return model.Session{}, false, err
	}

	sess, err = e.createSession(ctx, identity)
	if err != nil {
		// A concurrent start may have won the partial-unique race in the
		// store; surface that session instead of failing.
		if errors.Is(err, repository.ErrActiveSessionExists) {
			existing, lerr := e.store.ActiveSession(ctx, identity)
			if lerr == nil {
				metrics.RecordSessionResumed()
				return existing, true, nil
			}
		}
		return model.Session{}, false, err
	}

	metrics.RecordSessionStarted()
	e.logger.Info(ctx, "session started",
		logger.String("session_id", sess.ID),
		logger.String("identity", identity),
		logger.Int("bracket_size", sess.BracketSize()),
	)
	return sess, false, nil
}

func (e *Engine) createSession(ctx context.Context, identity string) (model.Session, error) {
	candidates, err := e.store.EligibleCandidates(ctx)
	if err != nil {
		return model.Session{}, err
	}
	pool := make([]string, len(candidates))
	for i, c := range candidates {
		pool[i] = c.ID
	}

	entrants, matches, err := e.builder.Build(pool, e.size)
	if err != nil {
		return model.Session{}, err
	}

	now := e.now()
	sess := model.Session{
		ID:        e.newID(),
		Identity:  identity,
		Status:    model.StatusActive,
		Entrants:  entrants,
		Round:     1,
		Matches:   matches,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.CreateSession(ctx, &sess); err != nil {
		return model.Session{}, err
	}
	return sess, nil
}

// Session loads one session by id.
func (e *Engine) Session(ctx context.Context, sessionID string) (model.Session, error) {
	return e.store.Session(ctx, sessionID)
}

// CurrentMatch returns the session and its next unplayed match. The
// match is nil when the session is no longer ACTIVE.
func (e *Engine) CurrentMatch(ctx context.Context, sessionID string) (model.Session, *model.Match, error) {
	sess, err := e.store.Session(ctx, sessionID)
	if err != nil {
		return model.Session{}, nil, err
	}
	if err := sess.Validate(); err != nil {
		return model.Session{}, nil, fmt.Errorf("%w: %v", ErrCorruptSession, err)
	}
	cur, ok := sess.CurrentMatch()
	if !ok {
		return sess, nil, nil
	}
	return sess, cur, nil
}

// VoteOutcome reports what an applied vote did to the bracket beyond
// deciding its match.
type VoteOutcome struct {
	// RoundRolledOver is true when the vote closed its round and the
	// survivors were reshuffled into the next one.
	RoundRolledOver bool
	// Completed is true when the vote was the final and crowned the
	// champion.
	Completed bool
}

// CastVote applies one decision to the session's current match. The
// winner must belong to that match and the match id must name the match
// at the cursor; anything else is rejected without side effects. When a
// round finishes the survivors are reshuffled into the next round, and
// the final vote crowns the champion and completes the session; the
// outcome reports which of those the vote triggered.
func (e *Engine) CastVote(ctx context.Context, sessionID, matchID, winnerID string) (model.Session, VoteOutcome, error) {
	if err := e.locks.acquire(ctx, "session:"+sessionID, e.lockWait); err != nil {
		if errors.Is(err, ErrBusy) {
			metrics.RecordVoteRejected("busy")
		}
		return model.Session{}, VoteOutcome{}, err
	}
	defer e.locks.release("session:" + sessionID)

	sess, err := e.store.Session(ctx, sessionID)
	if err != nil {
		return model.Session{}, VoteOutcome{}, err
	}
	if sess.Status != model.StatusActive {
		metrics.RecordVoteRejected("session_complete")
		return model.Session{}, VoteOutcome{}, ErrSessionComplete
	}
	if err := sess.Validate(); err != nil {
		return model.Session{}, VoteOutcome{}, fmt.Errorf("%w: %v", ErrCorruptSession, err)
	}

	if e.guard != nil {
		if gerr := e.guard.Allow(sess.Identity, sess.RemainingMatches()); gerr != nil {
			metrics.RecordRateLimited()
			return model.Session{}, VoteOutcome{}, gerr
		}
	}

	cur, ok := sess.CurrentMatch()
	if !ok || cur.ID != matchID {
		metrics.RecordVoteRejected("stale_match")
		return model.Session{}, VoteOutcome{}, ErrStaleMatch
	}
	if !cur.Contains(winnerID) {
		metrics.RecordVoteRejected("invalid_choice")
		return model.Session{}, VoteOutcome{}, ErrInvalidChoice
	}

	now := e.now()
	depthLeft := sess.DepthLeft()
	round := sess.Round

	cur.WinnerID = winnerID
	cur.DecidedAt = now
	loserID := cur.Loser()
	sess.Winners = append(sess.Winners, winnerID)
	sess.Cursor++
	sess.UpdatedAt = now

	var outcome VoteOutcome
	if sess.Cursor == len(sess.Matches) {
		if len(sess.Winners) == 1 {
			sess.Status = model.StatusCompleted
			sess.Champion = winnerID
			outcome.Completed = true
		} else {
			next, berr := e.builder.NextRound(sess.Winners, sess.Round+1)
			if berr != nil {
				return model.Session{}, VoteOutcome{}, fmt.Errorf("%w: %v", ErrCorruptSession, berr)
			}
			sess.Round++
			sess.Matches = next
			sess.Cursor = 0
			sess.Winners = nil
			outcome.RoundRolledOver = true
			metrics.RecordRoundRollover()
		}
	}

	vote := model.Vote{
		ID:        e.newID(),
		SessionID: sess.ID,
		MatchID:   matchID,
		Identity:  sess.Identity,
		WinnerID:  winnerID,
		LoserID:   loserID,
		Round:     round,
		DepthLeft: depthLeft,
		CastAt:    now,
	}

	if err := e.store.ApplyVote(ctx, &sess, vote); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			// Someone else applied a vote between our load and save.
			metrics.RecordVoteRejected("version_conflict")
			return model.Session{}, VoteOutcome{}, ErrStaleMatch
		}
		return model.Session{}, VoteOutcome{}, err
	}

	metrics.RecordVoteApplied()
	if outcome.Completed {
		metrics.RecordSessionCompleted()
		e.logger.Info(ctx, "tournament completed",
			logger.String("session_id", sess.ID),
			logger.String("champion", sess.Champion),
		)
	}

	if e.notify != nil {
		e.notify(model.SettledMatch{
			SessionID:    sess.ID,
			MatchID:      matchID,
			WinnerID:     winnerID,
			LoserID:      loserID,
			Round:        round,
			DepthLeft:    depthLeft,
			Championship: outcome.Completed,
			DecidedAt:    now,
		})
	}

	return sess, outcome, nil
}

// AbandonIdle flips sessions idle for longer than threshold to
// ABANDONED, freeing their identities to start fresh.
func (e *Engine) AbandonIdle(ctx context.Context, threshold time.Duration) (int, error) {
	n, err := e.store.MarkAbandoned(ctx, e.now().Add(-threshold))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.RecordSessionsAbandoned(n)
		e.logger.Info(ctx, "idle sessions abandoned", logger.Int("count", n))
	}
	return n, nil
}
