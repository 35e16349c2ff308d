// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/okian/faceoff/internal/domain/model"
	"github.com/okian/faceoff/internal/domain/ranking"
	"github.com/okian/faceoff/internal/engine"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	SessionDependencies
	LeaderboardDependencies
}

// SessionDependencies covers session lifecycle and voting.
type SessionDependencies interface {
	// StartOrResume returns the identity's active session, creating one
	// when none exists. The bool reports a resume.
	StartOrResume(ctx context.Context, identity string) (model.Session, bool, error)

	// Session loads one session by id.
	Session(ctx context.Context, sessionID string) (model.Session, error)

	// CurrentMatch returns the session plus its next unplayed match; the
	// match is nil once the session has finished.
	CurrentMatch(ctx context.Context, sessionID string) (model.Session, *model.Match, error)

	// CastVote applies one decision to the session's current match. The
	// outcome reports a round rollover or tournament completion.
	CastVote(ctx context.Context, sessionID, matchID, winnerID string) (model.Session, engine.VoteOutcome, error)

	// Candidate returns one catalog record for view enrichment.
	Candidate(ctx context.Context, id string) (model.Candidate, error)
}

// LeaderboardDependencies covers the historical standings reads.
type LeaderboardDependencies interface {
	Leaderboard(ctx context.Context, page, pageSize int, key ranking.SortKey) ([]ranking.Entry, error)
	LeaderboardCount() int
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	sessionsHandler    *SessionsHandler
	leaderboardHandler *LeaderboardHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, opts ...ServerOption) *Server {
	s := &Server{
		healthHandler:      NewHealthHandler(),
		statsHandler:       NewStatsHandler(statsProvider),
		sessionsHandler:    NewSessionsHandler(deps),
		leaderboardHandler: NewLeaderboardHandler(deps, defaultMaxPageSize),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ServerOption applies a configuration option to the Server.
type ServerOption func(*Server)

// WithMaxPageSize caps the leaderboard page size.
func WithMaxPageSize(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.leaderboardHandler.maxPageSize = n
		}
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(ctx context.Context, mux *http.ServeMux) {
	// Specific paths first (most specific to least specific)
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/leaderboard", MetricsMiddleware(s.leaderboardHandler.HandleGetLeaderboard, "leaderboard"))
	mux.HandleFunc("/sessions", MetricsMiddleware(s.sessionsHandler.HandleStartSession, "sessions"))
	mux.HandleFunc("/sessions/", MetricsMiddleware(s.sessionsHandler.HandleSessionSubtree, "sessions"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}
