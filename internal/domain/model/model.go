// Package model contains domain values passed between layers.
//
// Session is a plain serializable value: stores load and save it whole,
// which is what makes the single-writer atomicity contract possible.
package model

import (
	"fmt"
	"math/bits"
	"time"
)

// SessionStatus enumerates the lifecycle states of a voting session.
type SessionStatus string

// Session lifecycle states.
const (
	StatusActive    SessionStatus = "ACTIVE"
	StatusCompleted SessionStatus = "COMPLETED"
	StatusAbandoned SessionStatus = "ABANDONED"
)

// Candidate is one entry in the catalog, with cumulative counters
// folded in from every settled match across all sessions.
type Candidate struct {
	ID                 string
	Title              string
	OriginalSong       string
	AudioURL           string
	BackgroundImageURL string

	// Eligible gates bracket selection. Candidates referenced by
	// historical matches are soft-removed by clearing it, never deleted.
	Eligible bool

	Appearances    int
	Wins           int
	Losses         int
	TournamentWins int

	// WinsAtDepth counts match wins indexed by rounds remaining to the
	// championship at the time of the win: index 0 is a grand-final win,
	// index 1 a semi-final win, and so on.
	WinsAtDepth []int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Match is one head-to-head comparison inside a session round.
// Immutable once WinnerID is set.
type Match struct {
	ID         string    `json:"id"`
	Round      int       `json:"round"`
	Position   int       `json:"position"` // 1-indexed within the round
	CandidateA string    `json:"candidate_a"`
	CandidateB string    `json:"candidate_b"`
	WinnerID   string    `json:"winner_id,omitempty"`
	DecidedAt  time.Time `json:"decided_at,omitempty"`
}

// Contains reports whether id is one of the match's two candidates.
func (m *Match) Contains(id string) bool {
	return id == m.CandidateA || id == m.CandidateB
}

// Loser returns the candidate that did not win. Empty until decided.
func (m *Match) Loser() string {
	switch m.WinnerID {
	case m.CandidateA:
		return m.CandidateB
	case m.CandidateB:
		return m.CandidateA
	default:
		return ""
	}
}

// Vote is the append-only audit record of one decision. Candidate
// counters and the standings can be fully reconstructed from votes.
type Vote struct {
	ID        string
	SessionID string
	MatchID   string
	Identity  string
	WinnerID  string
	LoserID   string
	Round     int
	// DepthLeft is rounds remaining to the championship (0 = final),
	// the index used by the ranking weights.
	DepthLeft int
	CastAt    time.Time
}

// Session is one identity's run through a bracket. The zero value is
// not usable; sessions are produced by the engine.
type Session struct {
	ID       string        `json:"id"`
	Identity string        `json:"identity"`
	Status   SessionStatus `json:"status"`

	// Entrants is the ordered draw for this run, fixed at creation.
	// Its length is the bracket size, a power of two.
	Entrants []string `json:"entrants"`

	Round   int     `json:"round"`  // 1-indexed, log2(len(Entrants)) terminal
	Matches []Match `json:"matches"` // current round's pairing sequence
	Cursor  int     `json:"cursor"`  // next unplayed match in Matches

	// Winners holds the current round's winners so far, in match order.
	Winners []string `json:"winners"`

	Champion string `json:"champion,omitempty"`

	// Version is the optimistic-concurrency token bumped by the store on
	// every successful save.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BracketSize returns the number of entrants drawn for this session.
func (s *Session) BracketSize() int { return len(s.Entrants) }

// TotalRounds returns the terminal round number, log2(bracket size).
func (s *Session) TotalRounds() int {
	if len(s.Entrants) < 2 {
		return 0
	}
	return bits.Len(uint(len(s.Entrants))) - 1
}

// DepthLeft returns rounds remaining to the championship from the
// session's current round (0 means the current round is the final).
func (s *Session) DepthLeft() int { return s.TotalRounds() - s.Round }

// CurrentMatch returns the match at the cursor, or false when the
// session has no unplayed match (completed or corrupt).
func (s *Session) CurrentMatch() (*Match, bool) {
	if s.Status != StatusActive || s.Cursor >= len(s.Matches) {
		return nil, false
	}
	return &s.Matches[s.Cursor], true
}

// DecidedMatches returns the number of matches settled so far across
// all rounds. A session completes after exactly BracketSize()-1.
func (s *Session) DecidedMatches() int {
	if s.Status == StatusCompleted {
		return s.BracketSize() - 1
	}
	size := s.BracketSize()
	priorRounds := size - size>>(s.Round-1)
	return priorRounds + s.Cursor
}

// RemainingMatches returns how many matches are left before the
// tournament completes.
func (s *Session) RemainingMatches() int {
	return s.BracketSize() - 1 - s.DecidedMatches()
}

// Progress describes how far through the bracket a session is.
type Progress struct {
	MatchesCompleted int     `json:"matches_completed"`
	MatchesTotal     int     `json:"matches_total"`
	Percentage       float64 `json:"percentage"`
}

// ProgressData computes completion progress over the whole bracket.
func (s *Session) ProgressData() Progress {
	total := s.BracketSize() - 1
	done := s.DecidedMatches()
	p := Progress{MatchesCompleted: done, MatchesTotal: total}
	if total > 0 {
		p.Percentage = float64(done) / float64(total) * 100
	}
	return p
}

// roundNames128 maps round numbers for the default seven-round bracket.
var roundNames128 = map[int]string{
	1: "Round of 64",
	2: "Round of 32",
	3: "Round of 16",
	4: "Quarter-Finals",
	5: "Semi-Finals",
	6: "Finals",
	7: "Grand Finals",
}

// RoundName returns the display name for the session's current round.
func (s *Session) RoundName() string {
	if s.TotalRounds() == 7 {
		if name, ok := roundNames128[s.Round]; ok {
			return name
		}
	}
	return fmt.Sprintf("Round %d", s.Round)
}

// MatchProgress returns the in-round position, e.g. "5/64".
func (s *Session) MatchProgress() string {
	return fmt.Sprintf("%d/%d", s.Cursor+1, len(s.Matches))
}

// Validate checks the structural invariants a loaded session must hold.
// A violation means stored state is corrupt, not a client mistake.
func (s *Session) Validate() error {
	size := len(s.Entrants)
	if size < 2 || size&(size-1) != 0 {
		return fmt.Errorf("entrant count %d is not a power of two >= 2", size)
	}
	total := s.TotalRounds()
	if s.Round < 1 || s.Round > total {
		return fmt.Errorf("round %d outside 1..%d", s.Round, total)
	}
	wantMatches := size >> s.Round
	if s.Status != StatusCompleted && len(s.Matches) != wantMatches {
		return fmt.Errorf("round %d holds %d matches, want %d", s.Round, len(s.Matches), wantMatches)
	}
	if s.Cursor < 0 || s.Cursor > len(s.Matches) {
		return fmt.Errorf("cursor %d outside 0..%d", s.Cursor, len(s.Matches))
	}
	if s.Status == StatusActive && s.Cursor >= len(s.Matches) {
		return fmt.Errorf("active session has no unplayed match at cursor %d", s.Cursor)
	}
	if len(s.Winners) != s.Cursor && s.Status == StatusActive {
		return fmt.Errorf("recorded %d winners for cursor %d", len(s.Winners), s.Cursor)
	}
	if s.Status == StatusCompleted && s.Champion == "" {
		return fmt.Errorf("completed session has no champion")
	}
	return nil
}

// SettledMatch is the event emitted after a vote applies, consumed by
// the standings fold.
type SettledMatch struct {
	SessionID string
	MatchID   string
	WinnerID  string
	LoserID   string
	Round     int
	DepthLeft int
	// Championship marks the deciding match of a tournament.
	Championship bool
	DecidedAt    time.Time
}
