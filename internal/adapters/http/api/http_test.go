package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/okian/faceoff/internal/adapters/repository"
	"github.com/okian/faceoff/internal/domain/guard"
	"github.com/okian/faceoff/internal/domain/model"
	"github.com/okian/faceoff/internal/domain/ranking"
	"github.com/okian/faceoff/internal/engine"
	. "github.com/smartystreets/goconvey/convey"
)

// mockService implements Dependencies and StatsProvider for handler tests.
type mockService struct {
	session     model.Session
	resumed     bool
	startErr    error
	voteErr     error
	voteOutcome engine.VoteOutcome
	entries     []ranking.Entry
	boardErr    error
	boardCalls  []boardCall
}

type boardCall struct {
	page, pageSize int
	key            ranking.SortKey
}

func (m *mockService) StartOrResume(ctx context.Context, identity string) (model.Session, bool, error) {
	if m.startErr != nil {
		return model.Session{}, false, m.startErr
	}
	sess := m.session
	sess.Identity = identity
	return sess, m.resumed, nil
}

func (m *mockService) Session(ctx context.Context, sessionID string) (model.Session, error) {
	if sessionID != m.session.ID {
		return model.Session{}, repository.ErrNotFound
	}
	return m.session, nil
}

func (m *mockService) CurrentMatch(ctx context.Context, sessionID string) (model.Session, *model.Match, error) {
	sess, err := m.Session(ctx, sessionID)
	if err != nil {
		return model.Session{}, nil, err
	}
	cur, _ := sess.CurrentMatch()
	return sess, cur, nil
}

func (m *mockService) CastVote(ctx context.Context, sessionID, matchID, winnerID string) (model.Session, engine.VoteOutcome, error) {
	if m.voteErr != nil {
		return model.Session{}, engine.VoteOutcome{}, m.voteErr
	}
	sess, err := m.Session(ctx, sessionID)
	return sess, m.voteOutcome, err
}

func (m *mockService) Candidate(ctx context.Context, id string) (model.Candidate, error) {
	return model.Candidate{ID: id, Title: "Track " + id}, nil
}

func (m *mockService) Leaderboard(ctx context.Context, page, pageSize int, key ranking.SortKey) ([]ranking.Entry, error) {
	m.boardCalls = append(m.boardCalls, boardCall{page: page, pageSize: pageSize, key: key})
	if m.boardErr != nil {
		return nil, m.boardErr
	}
	return m.entries, nil
}

func (m *mockService) LeaderboardCount() int { return len(m.entries) }

func (m *mockService) GetStats(ctx context.Context) map[string]interface{} {
	return map[string]interface{}{"started": true, "total_votes": 42}
}

// activeSession returns a four-entrant session sitting on its first match.
func activeSession() model.Session {
	return model.Session{
		ID:       "sess-1",
		Identity: "player-1",
		Status:   model.StatusActive,
		Entrants: []string{"a", "b", "c", "d"},
		Round:    1,
		Matches: []model.Match{
			{ID: "m1", Round: 1, Position: 1, CandidateA: "a", CandidateB: "b"},
			{ID: "m2", Round: 1, Position: 2, CandidateA: "c", CandidateB: "d"},
		},
	}
}

func newTestMux(svc *mockService) *http.ServeMux {
	mux := http.NewServeMux()
	NewServer(svc, svc).Register(context.Background(), mux)
	return mux
}

func doJSON(mux *http.ServeMux, method, path string, body any) *httptest.ResponseRecorder {
	var raw []byte
	if body != nil {
		raw, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestStartSession(t *testing.T) {
	Convey("Given the sessions endpoint", t, func() {
		svc := &mockService{session: activeSession()}
		mux := newTestMux(svc)

		Convey("A fresh identity gets a new session with its first match", func() {
			rec := doJSON(mux, http.MethodPost, "/sessions", startSessionRequest{Identity: "player-1"})

			So(rec.Code, ShouldEqual, http.StatusCreated)

			var resp sessionResponse
			So(json.Unmarshal(rec.Body.Bytes(), &resp), ShouldBeNil)
			So(resp.ID, ShouldEqual, "sess-1")
			So(resp.Status, ShouldEqual, "ACTIVE")
			So(resp.BracketSize, ShouldEqual, 4)
			So(resp.Resumed, ShouldBeFalse)
			So(resp.Match, ShouldNotBeNil)
			So(resp.Match.ID, ShouldEqual, "m1")
			So(resp.Match.CandidateA.Title, ShouldEqual, "Track a")
			So(resp.Match.MatchProgress, ShouldEqual, "1/2")
		})

		Convey("An identity with an active session resumes it", func() {
			svc.resumed = true
			rec := doJSON(mux, http.MethodPost, "/sessions", startSessionRequest{Identity: "player-1"})

			So(rec.Code, ShouldEqual, http.StatusOK)

			var resp sessionResponse
			So(json.Unmarshal(rec.Body.Bytes(), &resp), ShouldBeNil)
			So(resp.Resumed, ShouldBeTrue)
		})

		Convey("A blank identity is rejected", func() {
			rec := doJSON(mux, http.MethodPost, "/sessions", startSessionRequest{Identity: "   "})
			So(rec.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("A malformed body is rejected", func() {
			req := httptest.NewRequest(http.MethodPost, "/sessions", strings.NewReader("not json"))
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)
			So(rec.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("GET on the collection is not found", func() {
			rec := doJSON(mux, http.MethodGet, "/sessions", nil)
			So(rec.Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("Start failures surface through the error mapper", func() {
			svc.startErr = fmt.Errorf("build bracket: %w", repository.ErrNotFound)
			rec := doJSON(mux, http.MethodPost, "/sessions", startSessionRequest{Identity: "player-1"})
			So(rec.Code, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestGetSession(t *testing.T) {
	Convey("Given a stored session", t, func() {
		svc := &mockService{session: activeSession()}
		mux := newTestMux(svc)

		Convey("Fetching by id returns the session view", func() {
			rec := doJSON(mux, http.MethodGet, "/sessions/sess-1", nil)

			So(rec.Code, ShouldEqual, http.StatusOK)

			var resp sessionResponse
			So(json.Unmarshal(rec.Body.Bytes(), &resp), ShouldBeNil)
			So(resp.ID, ShouldEqual, "sess-1")
			So(resp.Progress.MatchesTotal, ShouldEqual, 3)
		})

		Convey("An unknown id maps to 404 not_found", func() {
			rec := doJSON(mux, http.MethodGet, "/sessions/nope", nil)

			So(rec.Code, ShouldEqual, http.StatusNotFound)

			var resp errorResponse
			So(json.Unmarshal(rec.Body.Bytes(), &resp), ShouldBeNil)
			So(resp.Code, ShouldEqual, "not_found")
		})

		Convey("The match route embeds both candidates", func() {
			rec := doJSON(mux, http.MethodGet, "/sessions/sess-1/match", nil)

			So(rec.Code, ShouldEqual, http.StatusOK)

			var resp sessionResponse
			So(json.Unmarshal(rec.Body.Bytes(), &resp), ShouldBeNil)
			So(resp.Match, ShouldNotBeNil)
			So(resp.Match.CandidateB.ID, ShouldEqual, "b")
		})

		Convey("A completed session shows the champion and no match", func() {
			svc.session.Status = model.StatusCompleted
			svc.session.Champion = "a"
			svc.session.Round = 2
			svc.session.Matches = []model.Match{{ID: "f1", Round: 2, Position: 1, CandidateA: "a", CandidateB: "c", WinnerID: "a"}}
			svc.session.Cursor = 1
			rec := doJSON(mux, http.MethodGet, "/sessions/sess-1", nil)

			So(rec.Code, ShouldEqual, http.StatusOK)

			var resp sessionResponse
			So(json.Unmarshal(rec.Body.Bytes(), &resp), ShouldBeNil)
			So(resp.Match, ShouldBeNil)
			So(resp.Champion, ShouldNotBeNil)
			So(resp.Champion.ID, ShouldEqual, "a")
		})

		Convey("An unknown subroute is not found", func() {
			rec := doJSON(mux, http.MethodGet, "/sessions/sess-1/history", nil)
			So(rec.Code, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestCastVoteStatusMapping(t *testing.T) {
	Convey("Given the vote endpoint", t, func() {
		svc := &mockService{session: activeSession()}
		mux := newTestMux(svc)
		vote := voteRequest{MatchID: "m1", WinnerID: "a"}

		Convey("A valid vote returns the advanced session", func() {
			rec := doJSON(mux, http.MethodPost, "/sessions/sess-1/votes", vote)
			So(rec.Code, ShouldEqual, http.StatusOK)

			var resp voteResponse
			So(json.Unmarshal(rec.Body.Bytes(), &resp), ShouldBeNil)
			So(resp.ID, ShouldEqual, "sess-1")
			So(resp.RoundRolledOver, ShouldBeFalse)
			So(resp.Completed, ShouldBeFalse)
		})

		Convey("A round-closing vote reports the rollover", func() {
			svc.voteOutcome = engine.VoteOutcome{RoundRolledOver: true}
			rec := doJSON(mux, http.MethodPost, "/sessions/sess-1/votes", voteRequest{MatchID: "m2", WinnerID: "c"})
			So(rec.Code, ShouldEqual, http.StatusOK)

			var resp voteResponse
			So(json.Unmarshal(rec.Body.Bytes(), &resp), ShouldBeNil)
			So(resp.RoundRolledOver, ShouldBeTrue)
			So(resp.Completed, ShouldBeFalse)
		})

		Convey("The final vote reports completion with the champion", func() {
			done := svc.session
			done.Status = model.StatusCompleted
			done.Champion = "a"
			done.Cursor = len(done.Matches)
			svc.session = done
			svc.voteOutcome = engine.VoteOutcome{Completed: true}

			rec := doJSON(mux, http.MethodPost, "/sessions/sess-1/votes", vote)
			So(rec.Code, ShouldEqual, http.StatusOK)

			var resp voteResponse
			So(json.Unmarshal(rec.Body.Bytes(), &resp), ShouldBeNil)
			So(resp.Completed, ShouldBeTrue)
			So(resp.RoundRolledOver, ShouldBeFalse)
			So(resp.Status, ShouldEqual, string(model.StatusCompleted))
			So(resp.Champion, ShouldNotBeNil)
			So(resp.Champion.ID, ShouldEqual, "a")
		})

		Convey("A missing match_id is rejected", func() {
			rec := doJSON(mux, http.MethodPost, "/sessions/sess-1/votes", voteRequest{WinnerID: "a"})

			So(rec.Code, ShouldEqual, http.StatusBadRequest)

			var resp errorResponse
			So(json.Unmarshal(rec.Body.Bytes(), &resp), ShouldBeNil)
			So(resp.Message, ShouldContainSubstring, "match_id")
		})

		Convey("A missing winner_id is rejected", func() {
			rec := doJSON(mux, http.MethodPost, "/sessions/sess-1/votes", voteRequest{MatchID: "m1"})
			So(rec.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("A stale match maps to 409 stale_match", func() {
			svc.voteErr = engine.ErrStaleMatch
			rec := doJSON(mux, http.MethodPost, "/sessions/sess-1/votes", vote)

			So(rec.Code, ShouldEqual, http.StatusConflict)

			var resp errorResponse
			So(json.Unmarshal(rec.Body.Bytes(), &resp), ShouldBeNil)
			So(resp.Code, ShouldEqual, "stale_match")
		})

		Convey("A completed session maps to 409 session_complete", func() {
			svc.voteErr = engine.ErrSessionComplete
			rec := doJSON(mux, http.MethodPost, "/sessions/sess-1/votes", vote)

			So(rec.Code, ShouldEqual, http.StatusConflict)

			var resp errorResponse
			So(json.Unmarshal(rec.Body.Bytes(), &resp), ShouldBeNil)
			So(resp.Code, ShouldEqual, "session_complete")
		})

		Convey("An outsider winner maps to 400 invalid_choice", func() {
			svc.voteErr = engine.ErrInvalidChoice
			rec := doJSON(mux, http.MethodPost, "/sessions/sess-1/votes", vote)

			So(rec.Code, ShouldEqual, http.StatusBadRequest)

			var resp errorResponse
			So(json.Unmarshal(rec.Body.Bytes(), &resp), ShouldBeNil)
			So(resp.Code, ShouldEqual, "invalid_choice")
		})

		Convey("A rate limited vote maps to 429 with Retry-After", func() {
			svc.voteErr = fmt.Errorf("cast vote: %w", guard.ErrRateLimited)
			rec := doJSON(mux, http.MethodPost, "/sessions/sess-1/votes", vote)

			So(rec.Code, ShouldEqual, http.StatusTooManyRequests)
			So(rec.Header().Get("Retry-After"), ShouldEqual, "2")
		})

		Convey("A contended session maps to 503 busy", func() {
			svc.voteErr = engine.ErrBusy
			rec := doJSON(mux, http.MethodPost, "/sessions/sess-1/votes", vote)
			So(rec.Code, ShouldEqual, http.StatusServiceUnavailable)
		})

		Convey("An unexpected failure maps to 500", func() {
			svc.voteErr = fmt.Errorf("disk on fire")
			rec := doJSON(mux, http.MethodPost, "/sessions/sess-1/votes", vote)

			So(rec.Code, ShouldEqual, http.StatusInternalServerError)

			var resp errorResponse
			So(json.Unmarshal(rec.Body.Bytes(), &resp), ShouldBeNil)
			So(resp.Code, ShouldEqual, "internal_error")
		})

		Convey("GET on the votes route is not found", func() {
			rec := doJSON(mux, http.MethodGet, "/sessions/sess-1/votes", nil)
			So(rec.Code, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestLeaderboardEndpoint(t *testing.T) {
	Convey("Given a standings source", t, func() {
		svc := &mockService{
			session: activeSession(),
			entries: []ranking.Entry{
				{Rank: 1, CandidateID: "a", Score: 34, Champion: true, TournamentWins: 2},
				{Rank: 2, CandidateID: "b", Score: 13},
			},
		}
		mux := newTestMux(svc)

		Convey("Defaults apply when no query params are set", func() {
			rec := doJSON(mux, http.MethodGet, "/leaderboard", nil)

			So(rec.Code, ShouldEqual, http.StatusOK)
			So(svc.boardCalls, ShouldHaveLength, 1)
			So(svc.boardCalls[0].page, ShouldEqual, 1)
			So(svc.boardCalls[0].pageSize, ShouldEqual, defaultPageSize)
			So(svc.boardCalls[0].key, ShouldEqual, ranking.SortOverall)

			var resp leaderboardResponse
			So(json.Unmarshal(rec.Body.Bytes(), &resp), ShouldBeNil)
			So(resp.Total, ShouldEqual, 2)
			So(resp.Entries, ShouldHaveLength, 2)
			So(resp.Entries[0].Champion, ShouldBeTrue)
		})

		Convey("Explicit paging and sort are forwarded", func() {
			rec := doJSON(mux, http.MethodGet, "/leaderboard?page=3&page_size=10&sort=pick_rate", nil)

			So(rec.Code, ShouldEqual, http.StatusOK)
			So(svc.boardCalls[0].page, ShouldEqual, 3)
			So(svc.boardCalls[0].pageSize, ShouldEqual, 10)
			So(svc.boardCalls[0].key, ShouldEqual, ranking.SortPickRate)
		})

		Convey("A non-numeric page is rejected", func() {
			rec := doJSON(mux, http.MethodGet, "/leaderboard?page=abc", nil)
			So(rec.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("A zero page is rejected", func() {
			rec := doJSON(mux, http.MethodGet, "/leaderboard?page=0", nil)
			So(rec.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("An oversized page_size is rejected", func() {
			rec := doJSON(mux, http.MethodGet, "/leaderboard?page_size=1000", nil)

			So(rec.Code, ShouldEqual, http.StatusBadRequest)

			var resp errorResponse
			So(json.Unmarshal(rec.Body.Bytes(), &resp), ShouldBeNil)
			So(resp.Code, ShouldEqual, "page_size_exceeded")
		})

		Convey("An unknown sort key is rejected", func() {
			rec := doJSON(mux, http.MethodGet, "/leaderboard?sort=alphabetical", nil)

			So(rec.Code, ShouldEqual, http.StatusBadRequest)

			var resp errorResponse
			So(json.Unmarshal(rec.Body.Bytes(), &resp), ShouldBeNil)
			So(resp.Code, ShouldEqual, "bad_sort")
		})

		Convey("A page past the end maps to 400", func() {
			svc.boardErr = ranking.ErrInvalidPage
			rec := doJSON(mux, http.MethodGet, "/leaderboard?page=99", nil)
			So(rec.Code, ShouldEqual, http.StatusBadRequest)
		})
	})
}

func TestStatsEndpoint(t *testing.T) {
	Convey("Given the stats endpoint", t, func() {
		svc := &mockService{session: activeSession()}
		mux := newTestMux(svc)

		Convey("GET returns the provider snapshot", func() {
			rec := doJSON(mux, http.MethodGet, "/stats", nil)

			So(rec.Code, ShouldEqual, http.StatusOK)

			var stats map[string]any
			So(json.Unmarshal(rec.Body.Bytes(), &stats), ShouldBeNil)
			So(stats["started"], ShouldBeTrue)
			So(stats["total_votes"], ShouldEqual, float64(42))
		})

		Convey("POST is not found", func() {
			rec := doJSON(mux, http.MethodPost, "/stats", nil)
			So(rec.Code, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestSplitSessionPath(t *testing.T) {
	Convey("Session subtree paths split into id and remainder", t, func() {
		cases := []struct {
			path      string
			sessionID string
			rest      string
			ok        bool
		}{
			{"/sessions/abc", "abc", "", true},
			{"/sessions/abc/", "abc", "", true},
			{"/sessions/abc/match", "abc", "match", true},
			{"/sessions/abc/votes", "abc", "votes", true},
			{"/sessions/", "", "", false},
			{"/sessions//votes", "", "", false},
		}

		for _, tc := range cases {
			id, rest, ok := splitSessionPath(tc.path)
			So(ok, ShouldEqual, tc.ok)
			if tc.ok {
				So(id, ShouldEqual, tc.sessionID)
				So(rest, ShouldEqual, tc.rest)
			}
		}
	})
}
