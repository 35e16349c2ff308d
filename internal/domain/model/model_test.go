package model_test

import (
	"testing"

	"github.com/okian/faceoff/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func newSession(size int) *model.Session {
	entrants := make([]string, size)
	for i := range entrants {
		entrants[i] = string(rune('a' + i))
	}
	matches := make([]model.Match, size/2)
	for i := range matches {
		matches[i] = model.Match{
			ID:         entrants[i*2] + entrants[i*2+1],
			Round:      1,
			Position:   i + 1,
			CandidateA: entrants[i*2],
			CandidateB: entrants[i*2+1],
		}
	}
	return &model.Session{
		ID:       "s1",
		Identity: "anon-1",
		Status:   model.StatusActive,
		Entrants: entrants,
		Round:    1,
		Matches:  matches,
	}
}

func TestSessionShape(t *testing.T) {
	Convey("Given an eight-entrant session", t, func() {
		s := newSession(8)

		Convey("Then bracket arithmetic holds", func() {
			So(s.BracketSize(), ShouldEqual, 8)
			So(s.TotalRounds(), ShouldEqual, 3)
			So(s.DepthLeft(), ShouldEqual, 2)
			So(s.DecidedMatches(), ShouldEqual, 0)
			So(s.RemainingMatches(), ShouldEqual, 7)
		})

		Convey("When the cursor advances", func() {
			s.Cursor = 3
			s.Winners = []string{"a", "c", "e"}

			Convey("Then decided matches follow the cursor", func() {
				So(s.DecidedMatches(), ShouldEqual, 3)
				So(s.ProgressData().MatchesCompleted, ShouldEqual, 3)
				So(s.ProgressData().Percentage, ShouldAlmostEqual, 3.0/7.0*100, 0.001)
			})
		})

		Convey("When the session sits in round two", func() {
			s.Round = 2
			s.Cursor = 1
			s.Winners = []string{"a"}
			s.Matches = []model.Match{
				{ID: "m5", Round: 2, Position: 1, CandidateA: "a", CandidateB: "c"},
				{ID: "m6", Round: 2, Position: 2, CandidateA: "e", CandidateB: "g"},
			}

			Convey("Then prior rounds count toward decided matches", func() {
				So(s.DecidedMatches(), ShouldEqual, 5)
				So(s.RemainingMatches(), ShouldEqual, 2)
				So(s.MatchProgress(), ShouldEqual, "2/2")
			})
		})
	})
}

func TestCurrentMatch(t *testing.T) {
	Convey("Given an active session", t, func() {
		s := newSession(4)

		Convey("Then the current match is the one at the cursor", func() {
			m, ok := s.CurrentMatch()
			So(ok, ShouldBeTrue)
			So(m.Position, ShouldEqual, 1)
			So(m.Contains("a"), ShouldBeTrue)
			So(m.Contains("z"), ShouldBeFalse)
		})

		Convey("When the session completes", func() {
			s.Status = model.StatusCompleted

			Convey("Then no current match exists", func() {
				_, ok := s.CurrentMatch()
				So(ok, ShouldBeFalse)
			})
		})
	})
}

func TestMatchLoser(t *testing.T) {
	Convey("Given a decided match", t, func() {
		m := model.Match{CandidateA: "a", CandidateB: "b", WinnerID: "b"}

		Convey("Then the loser is the other side", func() {
			So(m.Loser(), ShouldEqual, "a")
		})

		Convey("And an undecided match has no loser", func() {
			So((&model.Match{CandidateA: "a", CandidateB: "b"}).Loser(), ShouldBeEmpty)
		})
	})
}

func TestValidate(t *testing.T) {
	Convey("Given session state loaded from a store", t, func() {
		Convey("A well-formed session validates", func() {
			So(newSession(4).Validate(), ShouldBeNil)
		})

		Convey("A non-power-of-two draw is corrupt", func() {
			s := newSession(4)
			s.Entrants = s.Entrants[:3]
			So(s.Validate(), ShouldNotBeNil)
		})

		Convey("A cursor past the round's match count is corrupt", func() {
			s := newSession(4)
			s.Cursor = 5
			So(s.Validate(), ShouldNotBeNil)
		})

		Convey("A winner tally out of step with the cursor is corrupt", func() {
			s := newSession(4)
			s.Winners = []string{"a"}
			So(s.Validate(), ShouldNotBeNil)
		})

		Convey("A completed session without a champion is corrupt", func() {
			s := newSession(4)
			s.Status = model.StatusCompleted
			s.Round = 2
			s.Matches = []model.Match{{ID: "f", Round: 2, Position: 1, CandidateA: "a", CandidateB: "c", WinnerID: "a"}}
			s.Cursor = 1
			s.Winners = []string{"a"}
			So(s.Validate(), ShouldNotBeNil)

			Convey("And naming the champion fixes it", func() {
				s.Champion = "a"
				So(s.Validate(), ShouldBeNil)
			})
		})
	})
}

func TestRoundNames(t *testing.T) {
	Convey("Given a 128-entrant session", t, func() {
		entrants := make([]string, 128)
		for i := range entrants {
			entrants[i] = string(rune('a' + i%26))
		}
		s := &model.Session{Status: model.StatusActive, Entrants: entrants, Round: 1}

		Convey("Then rounds carry tournament names", func() {
			names := []string{"Round of 64", "Round of 32", "Round of 16", "Quarter-Finals", "Semi-Finals", "Finals", "Grand Finals"}
			for r, want := range names {
				s.Round = r + 1
				So(s.RoundName(), ShouldEqual, want)
			}
		})
	})

	Convey("Given a small session", t, func() {
		s := newSession(4)

		Convey("Then rounds fall back to numbers", func() {
			So(s.RoundName(), ShouldEqual, "Round 1")
		})
	})
}
