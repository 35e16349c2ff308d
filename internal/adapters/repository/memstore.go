package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/okian/faceoff/internal/domain/model"
	"github.com/okian/faceoff/internal/domain/ranking"
	"github.com/okian/faceoff/pkg/metrics"
)

// MemStore is the in-memory Store. A single mutex serializes writes,
// which trivially satisfies the atomic-apply and counter contracts.
// Sessions are deep-copied on the way in and out so callers never hold
// aliases into stored state.
type MemStore struct {
	mu         sync.RWMutex
	candidates map[string]*model.Candidate
	sessions   map[string]*model.Session
	votes      []model.Vote
	closed     bool
}

// NewMemStore creates an empty in-memory store.
func NewMemStore(ctx context.Context) *MemStore {
	_ = ctx
	return &MemStore{
		candidates: make(map[string]*model.Candidate),
		sessions:   make(map[string]*model.Session),
	}
}

func (m *MemStore) PutCandidate(ctx context.Context, c model.Candidate) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	cp := c
	cp.WinsAtDepth = append([]int(nil), c.WinsAtDepth...)
	m.candidates[c.ID] = &cp
	return nil
}

func (m *MemStore) Candidate(ctx context.Context, id string) (model.Candidate, error) {
	_ = ctx
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.candidates[id]
	if !ok {
		return model.Candidate{}, ErrNotFound
	}
	return copyCandidate(c), nil
}

func (m *MemStore) EligibleCandidates(ctx context.Context) ([]model.Candidate, error) {
	_ = ctx
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Candidate, 0, len(m.candidates))
	for _, c := range m.candidates {
		if c.Eligible {
			out = append(out, copyCandidate(c))
		}
	}
	// Deterministic order keeps seeded-random draws reproducible in tests.
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemStore) RemoveCandidate(ctx context.Context, id string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.candidates[id]
	if !ok {
		return ErrNotFound
	}
	c.Eligible = false
	return nil
}

func (m *MemStore) Tallies(ctx context.Context) ([]ranking.Tally, error) {
	_ = ctx
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ranking.Tally, 0, len(m.candidates))
	for _, c := range m.candidates {
		out = append(out, ranking.Tally{
			CandidateID:    c.ID,
			Appearances:    c.Appearances,
			Wins:           c.Wins,
			Losses:         c.Losses,
			TournamentWins: c.TournamentWins,
			WinsAtDepth:    append([]int(nil), c.WinsAtDepth...),
		})
	}
	return out, nil
}

func (m *MemStore) CandidateCount(ctx context.Context) (int, error) {
	_ = ctx
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.candidates), nil
}

func (m *MemStore) CreateSession(ctx context.Context, s *model.Session) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	for _, existing := range m.sessions {
		if existing.Identity == s.Identity && existing.Status == model.StatusActive {
			return ErrActiveSessionExists
		}
	}
	s.Version = 1
	cp := copySession(s)
	m.sessions[s.ID] = &cp
	return nil
}

func (m *MemStore) Session(ctx context.Context, id string) (model.Session, error) {
	_ = ctx
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return model.Session{}, ErrNotFound
	}
	return copySession(s), nil
}

func (m *MemStore) ActiveSession(ctx context.Context, identity string) (model.Session, error) {
	_ = ctx
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sessions {
		if s.Identity == identity && s.Status == model.StatusActive {
			return copySession(s), nil
		}
	}
	return model.Session{}, ErrNotFound
}

func (m *MemStore) MarkAbandoned(ctx context.Context, idleBefore time.Time) (int, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	changed := 0
	for _, s := range m.sessions {
		if s.Status == model.StatusActive && s.UpdatedAt.Before(idleBefore) {
			s.Status = model.StatusAbandoned
			changed++
		}
	}
	return changed, nil
}

func (m *MemStore) SessionCounts(ctx context.Context) (map[model.SessionStatus]int, error) {
	_ = ctx
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[model.SessionStatus]int)
	for _, s := range m.sessions {
		counts[s.Status]++
	}
	return counts, nil
}

func (m *MemStore) VoteCount(ctx context.Context) (int, error) {
	_ = ctx
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.votes), nil
}

func (m *MemStore) ScanVotes(ctx context.Context, fn func(model.Vote) error) error {
	m.mu.RLock()
	votes := make([]model.Vote, len(m.votes))
	copy(votes, m.votes)
	m.mu.RUnlock()

	for _, v := range votes {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(v); err != nil {
			return err
		}
	}
	return nil
}

// ApplyVote applies session state, vote record and counters under one
// lock acquisition: a reader never observes a partially applied vote.
func (m *MemStore) ApplyVote(ctx context.Context, s *model.Session, v model.Vote) error {
	_ = ctx
	start := time.Now()
	defer func() {
		metrics.RecordStoreLatency("apply_vote", float64(time.Since(start).Milliseconds()))
	}()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	stored, ok := m.sessions[s.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != s.Version {
		return ErrVersionConflict
	}

	winner, ok := m.candidates[v.WinnerID]
	if !ok {
		return ErrNotFound
	}
	loser, ok := m.candidates[v.LoserID]
	if !ok {
		return ErrNotFound
	}

	s.Version++
	s.UpdatedAt = v.CastAt
	cp := copySession(s)
	m.sessions[s.ID] = &cp
	m.votes = append(m.votes, v)

	winner.Appearances++
	winner.Wins++
	for len(winner.WinsAtDepth) <= v.DepthLeft {
		winner.WinsAtDepth = append(winner.WinsAtDepth, 0)
	}
	winner.WinsAtDepth[v.DepthLeft]++
	if v.DepthLeft == 0 {
		winner.TournamentWins++
	}
	loser.Appearances++
	loser.Losses++

	return nil
}

// Close marks the store closed; subsequent writes fail with ErrClosed.
func (m *MemStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func copyCandidate(c *model.Candidate) model.Candidate {
	cp := *c
	cp.WinsAtDepth = append([]int(nil), c.WinsAtDepth...)
	return cp
}

func copySession(s *model.Session) model.Session {
	cp := *s
	cp.Entrants = append([]string(nil), s.Entrants...)
	cp.Matches = append([]model.Match(nil), s.Matches...)
	cp.Winners = append([]string(nil), s.Winners...)
	return cp
}
