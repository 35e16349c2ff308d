// Package ranking maintains the two-tier, fibonacci-weighted standings
// folded from every settled match across all historical sessions.
//
// Tier 1 is "ever won a tournament" and dominates absolutely. Tier 2 is
// the weighted sum of match wins, where a win's weight grows along the
// fibonacci sequence as the match sits closer to the championship.
package ranking

import (
	"context"
	"sort"
	"sync"

	"github.com/okian/faceoff/internal/domain/model"
)

// fibWeights is indexed by rounds remaining to the championship:
// a grand-final win weighs 13, a semi-final 8, a quarter-final 5.
// Rounds earlier than index 6 weigh 1.
var fibWeights = []int{13, 8, 5, 3, 2, 1, 1}

// Weight returns the score weight for a win with depthLeft rounds
// remaining to the championship.
func Weight(depthLeft int) int {
	if depthLeft < 0 {
		depthLeft = 0
	}
	if depthLeft >= len(fibWeights) {
		return 1
	}
	return fibWeights[depthLeft]
}

// SortKey selects the leaderboard ordering.
type SortKey string

// Supported leaderboard orderings.
const (
	// SortOverall ranks champions first, then by weighted score.
	SortOverall SortKey = "overall"
	// SortPickRate ranks by share of matches won.
	SortPickRate SortKey = "pick_rate"
)

// Valid reports whether k names a supported ordering.
func (k SortKey) Valid() bool { return k == SortOverall || k == SortPickRate }

// Tally accumulates one candidate's historical results.
type Tally struct {
	CandidateID    string
	Appearances    int
	Wins           int
	Losses         int
	TournamentWins int
	// WinsAtDepth is indexed by rounds remaining (0 = grand final).
	WinsAtDepth []int
}

// Score returns the tier-2 weighted sum for the tally.
func (t *Tally) Score() int {
	total := 0
	for depth, wins := range t.WinsAtDepth {
		total += wins * Weight(depth)
	}
	return total
}

// Champion reports whether the candidate ever won a tournament.
func (t *Tally) Champion() bool { return t.TournamentWins > 0 }

// PickRate returns the percentage of appearances the candidate won.
func (t *Tally) PickRate() float64 {
	if t.Appearances == 0 {
		return 0
	}
	return float64(t.Wins) / float64(t.Appearances) * 100
}

// Entry is one leaderboard row.
type Entry struct {
	Rank           int     `json:"rank"`
	CandidateID    string  `json:"candidate_id"`
	Score          int     `json:"score"`
	Champion       bool    `json:"champion"`
	TournamentWins int     `json:"tournament_wins"`
	Wins           int     `json:"wins"`
	Losses         int     `json:"losses"`
	Appearances    int     `json:"appearances"`
	PickRate       float64 `json:"pick_rate"`
}

// Standings holds the live tallies plus lazily rebuilt sorted views.
// Incremental folds and a full rebuild from the vote log must produce
// identical orderings; tests hold that property.
type Standings struct {
	mu      sync.RWMutex
	tallies map[string]*Tally
	sorted  map[SortKey][]Entry // nil when dirty
}

// NewStandings creates empty standings.
func NewStandings() *Standings {
	return &Standings{
		tallies: make(map[string]*Tally),
		sorted:  make(map[SortKey][]Entry),
	}
}

// Seed replaces the standings with tallies loaded from the catalog.
func (s *Standings) Seed(tallies []Tally) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tallies = make(map[string]*Tally, len(tallies))
	for i := range tallies {
		t := tallies[i]
		t.WinsAtDepth = append([]int(nil), t.WinsAtDepth...)
		s.tallies[t.CandidateID] = &t
	}
	s.invalidateLocked()
}

// ApplyMatch folds one settled match into the standings.
func (s *Standings) ApplyMatch(ctx context.Context, m model.SettledMatch) error {
	_ = ctx
	if m.WinnerID == "" || m.LoserID == "" || m.DepthLeft < 0 {
		return ErrMalformedMatch
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	winner := s.tallyLocked(m.WinnerID)
	loser := s.tallyLocked(m.LoserID)

	winner.Appearances++
	loser.Appearances++
	winner.Wins++
	loser.Losses++

	for len(winner.WinsAtDepth) <= m.DepthLeft {
		winner.WinsAtDepth = append(winner.WinsAtDepth, 0)
	}
	winner.WinsAtDepth[m.DepthLeft]++

	if m.Championship {
		winner.TournamentWins++
	}

	s.invalidateLocked()
	return nil
}

// Rebuild constructs fresh standings from the complete vote history.
func Rebuild(votes []model.Vote) *Standings {
	s := NewStandings()
	for _, v := range votes {
		_ = s.ApplyMatch(context.Background(), model.SettledMatch{
			SessionID:    v.SessionID,
			MatchID:      v.MatchID,
			WinnerID:     v.WinnerID,
			LoserID:      v.LoserID,
			Round:        v.Round,
			DepthLeft:    v.DepthLeft,
			Championship: v.DepthLeft == 0,
		})
	}
	return s
}

// Tally returns a copy of one candidate's tally.
func (s *Standings) Tally(candidateID string) (Tally, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tallies[candidateID]
	if !ok {
		return Tally{}, false
	}
	out := *t
	out.WinsAtDepth = append([]int(nil), t.WinsAtDepth...)
	return out, true
}

// Count returns the number of candidates with recorded history.
func (s *Standings) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tallies)
}

// Page returns one leaderboard page (1-indexed) under the given order.
func (s *Standings) Page(ctx context.Context, page, pageSize int, key SortKey) ([]Entry, error) {
	_ = ctx
	if page < 1 || pageSize < 1 {
		return nil, ErrInvalidPage
	}
	if !key.Valid() {
		return nil, ErrInvalidSortKey
	}

	entries := s.snapshot(key)
	start := (page - 1) * pageSize
	if start >= len(entries) {
		return []Entry{}, nil
	}
	end := start + pageSize
	if end > len(entries) {
		end = len(entries)
	}
	out := make([]Entry, end-start)
	copy(out, entries[start:end])
	return out, nil
}

// Top returns the first n rows of the overall ordering.
func (s *Standings) Top(ctx context.Context, n int) ([]Entry, error) {
	return s.Page(ctx, 1, n, SortOverall)
}

// snapshot returns the sorted view for key, rebuilding it if stale.
func (s *Standings) snapshot(key SortKey) []Entry {
	s.mu.RLock()
	if cached, ok := s.sorted[key]; ok && cached != nil {
		defer s.mu.RUnlock()
		return cached
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if cached, ok := s.sorted[key]; ok && cached != nil {
		return cached
	}

	entries := make([]Entry, 0, len(s.tallies))
	for _, t := range s.tallies {
		entries = append(entries, Entry{
			CandidateID:    t.CandidateID,
			Score:          t.Score(),
			Champion:       t.Champion(),
			TournamentWins: t.TournamentWins,
			Wins:           t.Wins,
			Losses:         t.Losses,
			Appearances:    t.Appearances,
			PickRate:       t.PickRate(),
		})
	}

	switch key {
	case SortPickRate:
		sort.Slice(entries, func(i, j int) bool { return lessPickRate(&entries[i], &entries[j]) })
	default:
		sort.Slice(entries, func(i, j int) bool { return lessOverall(&entries[i], &entries[j]) })
	}
	for i := range entries {
		entries[i].Rank = i + 1
	}

	s.sorted[key] = entries
	return entries
}

// lessOverall orders champions first, then score desc, wins desc,
// appearances asc (fewer needed is favorable), id asc.
func lessOverall(a, b *Entry) bool {
	if a.Champion != b.Champion {
		return a.Champion
	}
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Wins != b.Wins {
		return a.Wins > b.Wins
	}
	if a.Appearances != b.Appearances {
		return a.Appearances < b.Appearances
	}
	return a.CandidateID < b.CandidateID
}

// lessPickRate orders by match win share, then raw wins, then id.
func lessPickRate(a, b *Entry) bool {
	if a.PickRate != b.PickRate {
		return a.PickRate > b.PickRate
	}
	if a.Wins != b.Wins {
		return a.Wins > b.Wins
	}
	return a.CandidateID < b.CandidateID
}

func (s *Standings) tallyLocked(id string) *Tally {
	t, ok := s.tallies[id]
	if !ok {
		t = &Tally{CandidateID: id}
		s.tallies[id] = t
	}
	return t
}

func (s *Standings) invalidateLocked() {
	for k := range s.sorted {
		delete(s.sorted, k)
	}
}
