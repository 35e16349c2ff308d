package simulate

import "time"

// Config holds configuration for the tournament simulation.
type Config struct {
	BaseURL  string        // Base URL of the service
	Players  int           // Number of concurrent simulated players
	Rounds   int           // Tournaments each player completes
	TopN     int           // Number of top entries to fetch
	Timeout  time.Duration // HTTP request timeout
	LogFile  string        // Log file for simulation output
	Verbose  bool          // Enable verbose logging
	PageSize int           // Leaderboard page size used for verification
}

// candidateView mirrors the candidate shape in session payloads.
type candidateView struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// matchView mirrors the match embedded in session payloads.
type matchView struct {
	ID            string        `json:"id"`
	Round         int           `json:"round"`
	Position      int           `json:"position"`
	MatchProgress string        `json:"match_progress"`
	CandidateA    candidateView `json:"candidate_a"`
	CandidateB    candidateView `json:"candidate_b"`
}

// sessionResponse mirrors the session payload returned by the service.
type sessionResponse struct {
	ID          string         `json:"id"`
	Identity    string         `json:"identity"`
	Status      string         `json:"status"`
	BracketSize int            `json:"bracket_size"`
	Round       int            `json:"round"`
	RoundName   string         `json:"round_name"`
	Resumed     bool           `json:"resumed"`
	Match       *matchView     `json:"match"`
	Champion    *candidateView `json:"champion"`

	// Set on vote responses only.
	RoundRolledOver bool `json:"round_rolled_over"`
	Completed       bool `json:"completed"`
}

// voteRequest mirrors the schema for POST /sessions/{id}/votes.
type voteRequest struct {
	MatchID  string `json:"match_id"`
	WinnerID string `json:"winner_id"`
}

// boardEntry mirrors one leaderboard row.
type boardEntry struct {
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

// boardResponse mirrors one leaderboard page.
type boardResponse struct {
	Page     int          `json:"page"`
	PageSize int          `json:"page_size"`
	Total    int          `json:"total"`
	Sort     string       `json:"sort"`
	Entries  []boardEntry `json:"entries"`
}

// Stats holds simulation statistics.
type Stats struct {
	SessionsStarted    int
	SessionsResumed    int
	SessionsCompleted  int
	VotesCast          int
	VotesStale         int
	VotesRateLimited   int
	VotesFailed        int
	Champions          map[string]int
	LeaderboardEntries int
	StartTime          time.Time
	EndTime            time.Time
	Duration           time.Duration
}
