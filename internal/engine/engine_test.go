package engine_test

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/okian/faceoff/internal/adapters/repository"
	"github.com/okian/faceoff/internal/domain/bracket"
	"github.com/okian/faceoff/internal/domain/guard"
	"github.com/okian/faceoff/internal/domain/model"
	"github.com/okian/faceoff/internal/engine"
	logging "github.com/okian/faceoff/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func seededStore(ctx context.Context, n int) (*repository.MemStore, []string) {
	store := repository.NewMemStore(ctx)
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("cand-%03d", i)
		if err := store.PutCandidate(ctx, model.Candidate{
			ID:       ids[i],
			Title:    fmt.Sprintf("Song %d", i),
			Eligible: true,
		}); err != nil {
			panic(err)
		}
	}
	return store, ids
}

func sequentialIDs(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

func newTestEngine(store repository.Store, size int, opts ...engine.Option) *engine.Engine {
	base := []engine.Option{
		engine.WithBracketSize(size),
		engine.WithBuilder(bracket.New(
			bracket.WithRandSource(rand.NewSource(42)),
			bracket.WithIDGenerator(sequentialIDs("match")),
		)),
		engine.WithIDGenerator(sequentialIDs("id")),
	}
	return engine.New(store, append(base, opts...)...)
}

// playThrough votes the current match's CandidateA until done or limit.
func playThrough(ctx context.Context, e *engine.Engine, sessionID string, limit int) (model.Session, error) {
	var sess model.Session
	for i := 0; i < limit; i++ {
		loaded, cur, err := e.CurrentMatch(ctx, sessionID)
		if err != nil {
			return model.Session{}, err
		}
		if cur == nil {
			return loaded, nil
		}
		sess, _, err = e.CastVote(ctx, sessionID, cur.ID, cur.CandidateA)
		if err != nil {
			return model.Session{}, err
		}
	}
	return sess, nil
}

func TestStartOrResume(t *testing.T) {
	_ = logging.Init()
	ctx := context.Background()

	Convey("Given an engine over a seeded catalog", t, func() {
		store, _ := seededStore(ctx, 8)
		e := newTestEngine(store, 4)

		Convey("When an identity starts a session", func() {
			sess, resumed, err := e.StartOrResume(ctx, "anon-1")
			So(err, ShouldBeNil)
			So(resumed, ShouldBeFalse)

			Convey("Then it holds a fresh round-1 bracket", func() {
				So(sess.Status, ShouldEqual, model.StatusActive)
				So(sess.BracketSize(), ShouldEqual, 4)
				So(sess.Round, ShouldEqual, 1)
				So(len(sess.Matches), ShouldEqual, 2)
				So(sess.Cursor, ShouldEqual, 0)
				So(sess.Validate(), ShouldBeNil)
			})

			Convey("And starting again resumes the same session", func() {
				again, resumedAgain, err := e.StartOrResume(ctx, "anon-1")
				So(err, ShouldBeNil)
				So(resumedAgain, ShouldBeTrue)
				So(again.ID, ShouldEqual, sess.ID)
			})

			Convey("And a different identity gets its own session", func() {
				other, _, err := e.StartOrResume(ctx, "anon-2")
				So(err, ShouldBeNil)
				So(other.ID, ShouldNotEqual, sess.ID)
			})
		})

		Convey("When the identity is empty", func() {
			_, _, err := e.StartOrResume(ctx, "")
			So(err, ShouldEqual, engine.ErrInvalidIdentity)
		})

		Convey("When the pool is smaller than the bracket", func() {
			small, _ := seededStore(ctx, 3)
			tiny := newTestEngine(small, 4)
			_, _, err := tiny.StartOrResume(ctx, "anon-1")
			So(err, ShouldEqual, bracket.ErrInsufficientCandidates)
		})

		Convey("When many goroutines race to start for one identity", func() {
			const racers = 8
			var wg sync.WaitGroup
			idCh := make(chan string, racers)
			for i := 0; i < racers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					sess, _, err := e.StartOrResume(ctx, "racer")
					if err == nil {
						idCh <- sess.ID
					}
				}()
			}
			wg.Wait()
			close(idCh)

			Convey("Then they all land on a single session", func() {
				seen := map[string]bool{}
				total := 0
				for id := range idCh {
					seen[id] = true
					total++
				}
				So(total, ShouldEqual, racers)
				So(len(seen), ShouldEqual, 1)
			})
		})
	})
}

func TestCastVote(t *testing.T) {
	_ = logging.Init()
	ctx := context.Background()

	Convey("Given a size-4 session", t, func() {
		store, _ := seededStore(ctx, 8)

		var settledMu sync.Mutex
		var settled []model.SettledMatch
		e := newTestEngine(store, 4, engine.WithNotifier(func(m model.SettledMatch) {
			settledMu.Lock()
			settled = append(settled, m)
			settledMu.Unlock()
		}))

		sess, _, err := e.StartOrResume(ctx, "anon-1")
		So(err, ShouldBeNil)
		first := sess.Matches[0]
		second := sess.Matches[1]

		Convey("When the first match is decided", func() {
			after, outcome, err := e.CastVote(ctx, sess.ID, first.ID, first.CandidateA)
			So(err, ShouldBeNil)

			Convey("Then the cursor advances and the winner is recorded", func() {
				So(after.Cursor, ShouldEqual, 1)
				So(after.Winners, ShouldResemble, []string{first.CandidateA})
				So(after.Matches[0].WinnerID, ShouldEqual, first.CandidateA)
			})

			Convey("And a mid-round vote reports no rollover or completion", func() {
				So(outcome.RoundRolledOver, ShouldBeFalse)
				So(outcome.Completed, ShouldBeFalse)
			})

			Convey("And the vote is durably logged with semifinal depth", func() {
				var votes []model.Vote
				So(store.ScanVotes(ctx, func(v model.Vote) error {
					votes = append(votes, v)
					return nil
				}), ShouldBeNil)
				So(len(votes), ShouldEqual, 1)
				So(votes[0].WinnerID, ShouldEqual, first.CandidateA)
				So(votes[0].DepthLeft, ShouldEqual, 1)
				So(votes[0].Round, ShouldEqual, 1)
			})

			Convey("And voting the same match again is stale", func() {
				_, _, err := e.CastVote(ctx, sess.ID, first.ID, first.CandidateA)
				So(err, ShouldEqual, engine.ErrStaleMatch)
			})

			Convey("And finishing the round reshuffles survivors into a final", func() {
				rolled, rolledOutcome, err := e.CastVote(ctx, sess.ID, second.ID, second.CandidateB)
				So(err, ShouldBeNil)
				So(rolled.Round, ShouldEqual, 2)
				So(len(rolled.Matches), ShouldEqual, 1)
				So(rolled.Cursor, ShouldEqual, 0)
				So(rolled.Winners, ShouldBeEmpty)
				So(rolledOutcome.RoundRolledOver, ShouldBeTrue)
				So(rolledOutcome.Completed, ShouldBeFalse)

				final := rolled.Matches[0]
				So(final.Contains(first.CandidateA), ShouldBeTrue)
				So(final.Contains(second.CandidateB), ShouldBeTrue)

				Convey("And a vote against a prior-round match is stale", func() {
					_, _, err := e.CastVote(ctx, sess.ID, second.ID, second.CandidateB)
					So(err, ShouldEqual, engine.ErrStaleMatch)
				})

				Convey("And the final vote crowns the champion", func() {
					done, doneOutcome, err := e.CastVote(ctx, sess.ID, final.ID, final.CandidateA)
					So(err, ShouldBeNil)
					So(done.Status, ShouldEqual, model.StatusCompleted)
					So(done.Champion, ShouldEqual, final.CandidateA)
					So(doneOutcome.Completed, ShouldBeTrue)
					So(doneOutcome.RoundRolledOver, ShouldBeFalse)

					Convey("Then candidate counters reflect the full run", func() {
						champ, err := store.Candidate(ctx, done.Champion)
						So(err, ShouldBeNil)
						So(champ.TournamentWins, ShouldEqual, 1)
						So(champ.Wins, ShouldEqual, 2)
						So(champ.Appearances, ShouldEqual, 2)
						So(champ.WinsAtDepth, ShouldResemble, []int{1, 1})
					})

					Convey("And every settled match was notified in order", func() {
						settledMu.Lock()
						defer settledMu.Unlock()
						So(len(settled), ShouldEqual, 3)
						So(settled[0].DepthLeft, ShouldEqual, 1)
						So(settled[1].DepthLeft, ShouldEqual, 1)
						So(settled[2].DepthLeft, ShouldEqual, 0)
						So(settled[2].Championship, ShouldBeTrue)
					})

					Convey("And further votes are refused", func() {
						_, _, err := e.CastVote(ctx, sess.ID, final.ID, final.CandidateA)
						So(err, ShouldEqual, engine.ErrSessionComplete)
					})

					Convey("And the identity can start a brand new bracket", func() {
						fresh, resumed, err := e.StartOrResume(ctx, "anon-1")
						So(err, ShouldBeNil)
						So(resumed, ShouldBeFalse)
						So(fresh.ID, ShouldNotEqual, sess.ID)
					})
				})
			})
		})

		Convey("When the winner is not in the match", func() {
			_, _, err := e.CastVote(ctx, sess.ID, first.ID, "cand-outsider")
			So(err, ShouldEqual, engine.ErrInvalidChoice)
		})

		Convey("When the session id is unknown", func() {
			_, _, err := e.CastVote(ctx, "nope", first.ID, first.CandidateA)
			So(err, ShouldEqual, repository.ErrNotFound)
		})
	})
}

func TestCastVoteConcurrency(t *testing.T) {
	_ = logging.Init()
	ctx := context.Background()

	Convey("Given two clients racing on the same match", t, func() {
		store, _ := seededStore(ctx, 8)
		e := newTestEngine(store, 4)

		sess, _, err := e.StartOrResume(ctx, "anon-1")
		So(err, ShouldBeNil)
		first := sess.Matches[0]

		var wg sync.WaitGroup
		results := make(chan error, 2)
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _, err := e.CastVote(ctx, sess.ID, first.ID, first.CandidateA)
				results <- err
			}()
		}
		wg.Wait()
		close(results)

		Convey("Then exactly one vote lands", func() {
			var ok, rejected int
			for err := range results {
				switch err {
				case nil:
					ok++
				case engine.ErrStaleMatch, engine.ErrBusy:
					rejected++
				default:
					t.Fatalf("unexpected error: %v", err)
				}
			}
			So(ok, ShouldEqual, 1)
			So(rejected, ShouldEqual, 1)

			n, err := store.VoteCount(ctx)
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 1)
		})
	})
}

func TestCastVoteGuard(t *testing.T) {
	_ = logging.Init()
	ctx := context.Background()

	Convey("Given an engine with a strict guard", t, func() {
		store, _ := seededStore(ctx, 16)
		now := time.Unix(1700000000, 0)
		g := guard.New(
			guard.WithVelocity(1, time.Minute),
			guard.WithFinishingExemption(0),
			guard.WithClock(func() time.Time { return now }),
		)
		e := newTestEngine(store, 8, engine.WithGuard(g))

		sess, _, err := e.StartOrResume(ctx, "anon-1")
		So(err, ShouldBeNil)

		Convey("When votes come faster than the velocity limit", func() {
			first := sess.Matches[0]
			after, _, err := e.CastVote(ctx, sess.ID, first.ID, first.CandidateA)
			So(err, ShouldBeNil)

			next, ok := after.CurrentMatch()
			So(ok, ShouldBeTrue)
			_, _, err = e.CastVote(ctx, sess.ID, next.ID, next.CandidateA)

			Convey("Then the second is rate limited with no side effects", func() {
				So(err, ShouldEqual, guard.ErrRateLimited)
				n, cerr := store.VoteCount(ctx)
				So(cerr, ShouldBeNil)
				So(n, ShouldEqual, 1)
			})
		})
	})
}

func TestCorruptSession(t *testing.T) {
	_ = logging.Init()
	ctx := context.Background()

	Convey("Given a session whose stored state is inconsistent", t, func() {
		store, ids := seededStore(ctx, 8)
		e := newTestEngine(store, 4)

		broken := &model.Session{
			ID:       "sess-broken",
			Identity: "anon-broken",
			Status:   model.StatusActive,
			Entrants: ids[:4],
			Round:    1,
			Matches: []model.Match{
				{ID: "m1", Round: 1, Position: 1, CandidateA: ids[0], CandidateB: ids[1]},
				{ID: "m2", Round: 1, Position: 2, CandidateA: ids[2], CandidateB: ids[3]},
			},
			Cursor:    1, // cursor claims one decided match but no winner recorded
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		}
		So(store.CreateSession(ctx, broken), ShouldBeNil)

		Convey("Then voting surfaces the corruption instead of applying", func() {
			_, _, err := e.CastVote(ctx, "sess-broken", "m2", ids[2])
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, engine.ErrCorruptSession.Error())
		})

		Convey("And loading the current match surfaces it too", func() {
			_, _, err := e.CurrentMatch(ctx, "sess-broken")
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, engine.ErrCorruptSession.Error())
		})
	})
}

func TestFullTournament(t *testing.T) {
	_ = logging.Init()
	ctx := context.Background()

	Convey("Given a 16-entrant bracket played to completion", t, func() {
		store, _ := seededStore(ctx, 32)
		e := newTestEngine(store, 16)

		sess, _, err := e.StartOrResume(ctx, "anon-1")
		So(err, ShouldBeNil)

		final, err := playThrough(ctx, e, sess.ID, 32)
		So(err, ShouldBeNil)

		Convey("Then exactly bracket-size-1 votes were applied", func() {
			So(final.Status, ShouldEqual, model.StatusCompleted)
			So(final.Champion, ShouldNotBeEmpty)

			n, err := store.VoteCount(ctx)
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 15)
		})

		Convey("And the champion's depth wins cover every round", func() {
			champ, err := store.Candidate(ctx, final.Champion)
			So(err, ShouldBeNil)
			So(champ.TournamentWins, ShouldEqual, 1)
			So(champ.Wins, ShouldEqual, 4)
			So(champ.WinsAtDepth, ShouldResemble, []int{1, 1, 1, 1})
		})

		Convey("And idle sweeping leaves the completed session alone", func() {
			n, err := e.AbandonIdle(ctx, 0)
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 0)
		})
	})
}

func TestAbandonIdle(t *testing.T) {
	_ = logging.Init()
	ctx := context.Background()

	Convey("Given an active session that went idle", t, func() {
		store, _ := seededStore(ctx, 8)
		e := newTestEngine(store, 4)

		sess, _, err := e.StartOrResume(ctx, "anon-1")
		So(err, ShouldBeNil)

		Convey("When the sweep threshold has passed", func() {
			n, err := e.AbandonIdle(ctx, -time.Hour) // cutoff in the future
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 1)

			Convey("Then the session no longer accepts votes", func() {
				_, _, err := e.CastVote(ctx, sess.ID, sess.Matches[0].ID, sess.Matches[0].CandidateA)
				So(err, ShouldEqual, engine.ErrSessionComplete)
			})

			Convey("And the identity starts fresh next time", func() {
				fresh, resumed, err := e.StartOrResume(ctx, "anon-1")
				So(err, ShouldBeNil)
				So(resumed, ShouldBeFalse)
				So(fresh.ID, ShouldNotEqual, sess.ID)
			})
		})
	})
}
