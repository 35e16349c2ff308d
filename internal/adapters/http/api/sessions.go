// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/okian/faceoff/internal/adapters/repository"
	"github.com/okian/faceoff/internal/domain/guard"
	"github.com/okian/faceoff/internal/domain/model"
	"github.com/okian/faceoff/internal/engine"
)

// SessionsHandler handles session lifecycle and voting requests.
type SessionsHandler struct {
	deps SessionDependencies
}

// NewSessionsHandler creates a new sessions handler.
func NewSessionsHandler(deps SessionDependencies) *SessionsHandler {
	return &SessionsHandler{deps: deps}
}

// startSessionRequest mirrors the schema for POST /sessions.
type startSessionRequest struct {
	Identity string `json:"identity"`
}

// candidateView is the catalog shape embedded in match payloads.
type candidateView struct {
	ID                 string `json:"id"`
	Title              string `json:"title"`
	OriginalSong       string `json:"original_song,omitempty"`
	AudioURL           string `json:"audio_url,omitempty"`
	BackgroundImageURL string `json:"background_image_url,omitempty"`
}

// matchView is the pair currently up for a decision.
type matchView struct {
	ID            string        `json:"id"`
	Round         int           `json:"round"`
	Position      int           `json:"position"`
	MatchProgress string        `json:"match_progress"`
	CandidateA    candidateView `json:"candidate_a"`
	CandidateB    candidateView `json:"candidate_b"`
}

// sessionResponse is the session state returned by every session route.
type sessionResponse struct {
	ID          string         `json:"id"`
	Identity    string         `json:"identity"`
	Status      string         `json:"status"`
	BracketSize int            `json:"bracket_size"`
	Round       int            `json:"round"`
	RoundName   string         `json:"round_name"`
	Progress    model.Progress `json:"progress"`
	Resumed     bool           `json:"resumed,omitempty"`
	Match       *matchView     `json:"match,omitempty"`
	Champion    *candidateView `json:"champion,omitempty"`
}

// HandleStartSession handles POST /sessions requests.
func (h *SessionsHandler) HandleStartSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	if strings.TrimSpace(req.Identity) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", engine.ErrInvalidIdentity)
		return
	}

	sess, resumed, err := h.deps.StartOrResume(r.Context(), req.Identity)
	if err != nil {
		h.writeSessionError(w, err)
		return
	}

	resp, err := h.sessionView(r, &sess)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}
	resp.Resumed = resumed

	status := http.StatusCreated
	if resumed {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

// HandleSessionSubtree routes GET /sessions/{id}, GET /sessions/{id}/match
// and POST /sessions/{id}/votes.
func (h *SessionsHandler) HandleSessionSubtree(w http.ResponseWriter, r *http.Request) {
	sessionID, rest, ok := splitSessionPath(r.URL.Path)
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", errors.New("missing session id"))
		return
	}

	switch {
	case rest == "" && r.Method == http.MethodGet:
		h.handleGetSession(w, r, sessionID)
	case rest == "match" && r.Method == http.MethodGet:
		h.handleGetMatch(w, r, sessionID)
	case rest == "votes" && r.Method == http.MethodPost:
		h.handleCastVote(w, r, sessionID)
	default:
		http.NotFound(w, r)
	}
}

func (h *SessionsHandler) handleGetSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	sess, err := h.deps.Session(r.Context(), sessionID)
	if err != nil {
		h.writeSessionError(w, err)
		return
	}
	resp, err := h.sessionView(r, &sess)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *SessionsHandler) handleGetMatch(w http.ResponseWriter, r *http.Request, sessionID string) {
	sess, _, err := h.deps.CurrentMatch(r.Context(), sessionID)
	if err != nil {
		h.writeSessionError(w, err)
		return
	}
	resp, err := h.sessionView(r, &sess)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// voteRequest mirrors the schema for POST /sessions/{id}/votes.
type voteRequest struct {
	MatchID  string `json:"match_id"`
	WinnerID string `json:"winner_id"`
}

func (v voteRequest) validate() error {
	switch {
	case strings.TrimSpace(v.MatchID) == "":
		return errors.New("missing match_id")
	case strings.TrimSpace(v.WinnerID) == "":
		return errors.New("missing winner_id")
	}
	return nil
}

// voteResponse extends the session view with what the applied vote did.
type voteResponse struct {
	sessionResponse
	RoundRolledOver bool `json:"round_rolled_over"`
	Completed       bool `json:"completed"`
}

func (h *SessionsHandler) handleCastVote(w http.ResponseWriter, r *http.Request, sessionID string) {
	var req voteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}

	sess, outcome, err := h.deps.CastVote(r.Context(), sessionID, req.MatchID, req.WinnerID)
	if err != nil {
		h.writeSessionError(w, err)
		return
	}

	view, err := h.sessionView(r, &sess)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}
	writeJSON(w, http.StatusOK, voteResponse{
		sessionResponse: *view,
		RoundRolledOver: outcome.RoundRolledOver,
		Completed:       outcome.Completed,
	})
}

// sessionView projects a session onto its response shape, enriching the
// current match and champion with catalog details.
func (h *SessionsHandler) sessionView(r *http.Request, sess *model.Session) (*sessionResponse, error) {
	resp := &sessionResponse{
		ID:          sess.ID,
		Identity:    sess.Identity,
		Status:      string(sess.Status),
		BracketSize: sess.BracketSize(),
		Round:       sess.Round,
		RoundName:   sess.RoundName(),
		Progress:    sess.ProgressData(),
	}

	if cur, ok := sess.CurrentMatch(); ok {
		a, err := h.candidateView(r, cur.CandidateA)
		if err != nil {
			return nil, err
		}
		b, err := h.candidateView(r, cur.CandidateB)
		if err != nil {
			return nil, err
		}
		resp.Match = &matchView{
			ID:            cur.ID,
			Round:         cur.Round,
			Position:      cur.Position,
			MatchProgress: sess.MatchProgress(),
			CandidateA:    a,
			CandidateB:    b,
		}
	}

	if sess.Champion != "" {
		champ, err := h.candidateView(r, sess.Champion)
		if err != nil {
			return nil, err
		}
		resp.Champion = &champ
	}

	return resp, nil
}

func (h *SessionsHandler) candidateView(r *http.Request, id string) (candidateView, error) {
	c, err := h.deps.Candidate(r.Context(), id)
	if err != nil {
		return candidateView{}, err
	}
	return candidateView{
		ID:                 c.ID,
		Title:              c.Title,
		OriginalSong:       c.OriginalSong,
		AudioURL:           c.AudioURL,
		BackgroundImageURL: c.BackgroundImageURL,
	}, nil
}

// writeSessionError maps engine failures onto HTTP status codes.
func (h *SessionsHandler) writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err)
	case errors.Is(err, engine.ErrInvalidIdentity):
		writeError(w, http.StatusBadRequest, "bad_request", err)
	case errors.Is(err, engine.ErrInvalidChoice):
		writeError(w, http.StatusBadRequest, "invalid_choice", err)
	case errors.Is(err, engine.ErrStaleMatch):
		writeError(w, http.StatusConflict, "stale_match", err)
	case errors.Is(err, engine.ErrSessionComplete):
		writeError(w, http.StatusConflict, "session_complete", err)
	case errors.Is(err, guard.ErrRateLimited):
		w.Header().Set("Retry-After", "2")
		writeError(w, http.StatusTooManyRequests, "rate_limited", err)
	case errors.Is(err, engine.ErrBusy):
		writeError(w, http.StatusServiceUnavailable, "busy", err)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err)
	}
}
