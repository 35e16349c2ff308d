package ranking_test

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/okian/faceoff/internal/domain/model"
	"github.com/okian/faceoff/internal/domain/ranking"
	. "github.com/smartystreets/goconvey/convey"
)

func settled(winner, loser string, depthLeft int) model.SettledMatch {
	return model.SettledMatch{
		WinnerID:     winner,
		LoserID:      loser,
		DepthLeft:    depthLeft,
		Championship: depthLeft == 0,
	}
}

func TestWeights(t *testing.T) {
	Convey("Given the canonical weight table", t, func() {
		Convey("Then finals, semis and quarters carry 13, 8 and 5", func() {
			So(ranking.Weight(0), ShouldEqual, 13)
			So(ranking.Weight(1), ShouldEqual, 8)
			So(ranking.Weight(2), ShouldEqual, 5)
			So(ranking.Weight(3), ShouldEqual, 3)
			So(ranking.Weight(4), ShouldEqual, 2)
			So(ranking.Weight(5), ShouldEqual, 1)
			So(ranking.Weight(6), ShouldEqual, 1)
		})

		Convey("And rounds beyond the table clamp to 1", func() {
			So(ranking.Weight(7), ShouldEqual, 1)
			So(ranking.Weight(20), ShouldEqual, 1)
		})
	})
}

func TestApplyMatch(t *testing.T) {
	ctx := context.Background()

	Convey("Given empty standings", t, func() {
		s := ranking.NewStandings()

		Convey("When a grand final settles", func() {
			s.ApplyMatch(ctx, settled("a", "b", 0))

			Convey("Then the winner becomes a champion worth 13", func() {
				tally, ok := s.Tally("a")
				So(ok, ShouldBeTrue)
				So(tally.Champion(), ShouldBeTrue)
				So(tally.Score(), ShouldEqual, 13)
				So(tally.Wins, ShouldEqual, 1)
				So(tally.Appearances, ShouldEqual, 1)
			})

			Convey("And the loser only gains an appearance", func() {
				tally, ok := s.Tally("b")
				So(ok, ShouldBeTrue)
				So(tally.Champion(), ShouldBeFalse)
				So(tally.Score(), ShouldEqual, 0)
				So(tally.Losses, ShouldEqual, 1)
				So(tally.Appearances, ShouldEqual, 1)
			})
		})

		Convey("When wins pile up short of the final", func() {
			// Five early-round wins (weight 1 each) plus a semi (8).
			for i := 0; i < 5; i++ {
				s.ApplyMatch(ctx, settled("c", fmt.Sprintf("x%d", i), 6))
			}
			s.ApplyMatch(ctx, settled("c", "y", 1))

			Convey("Then tier-2 sums the weighted wins", func() {
				tally, _ := s.Tally("c")
				So(tally.Score(), ShouldEqual, 13)
				So(tally.Champion(), ShouldBeFalse)
			})
		})
	})
}

func TestOrdering(t *testing.T) {
	ctx := context.Background()

	Convey("Given mixed results", t, func() {
		s := ranking.NewStandings()
		// champ: one tournament win, modest score.
		s.ApplyMatch(ctx, settled("champ", "semi-hero", 0))
		// semi-hero: huge tier-2 score but never a champion.
		for i := 0; i < 10; i++ {
			s.ApplyMatch(ctx, settled("semi-hero", fmt.Sprintf("f%d", i), 1))
		}

		Convey("Then a champion outranks any non-champion score", func() {
			top, err := s.Top(ctx, 2)
			So(err, ShouldBeNil)
			So(top[0].CandidateID, ShouldEqual, "champ")
			So(top[1].CandidateID, ShouldEqual, "semi-hero")
			So(top[1].Score, ShouldBeGreaterThan, top[0].Score)
		})

		Convey("And ranks are assigned in order", func() {
			top, _ := s.Top(ctx, 2)
			So(top[0].Rank, ShouldEqual, 1)
			So(top[1].Rank, ShouldEqual, 2)
		})
	})

	Convey("Given candidates tied on score", t, func() {
		s := ranking.NewStandings()
		// Both earn one early win (weight 1); "few" needed fewer appearances.
		s.ApplyMatch(ctx, settled("few", "z1", 6))
		s.ApplyMatch(ctx, settled("many", "z2", 6))
		s.ApplyMatch(ctx, settled("z3", "many", 6))

		Convey("Then fewer appearances wins the tie", func() {
			page, err := s.Page(ctx, 1, 10, ranking.SortOverall)
			So(err, ShouldBeNil)
			idx := map[string]int{}
			for _, e := range page {
				idx[e.CandidateID] = e.Rank
			}
			So(idx["few"], ShouldBeLessThan, idx["many"])
		})

		Convey("And full ties fall back to id order", func() {
			s2 := ranking.NewStandings()
			s2.ApplyMatch(ctx, settled("bb", "x1", 6))
			s2.ApplyMatch(ctx, settled("aa", "x2", 6))
			page, _ := s2.Page(ctx, 1, 10, ranking.SortOverall)
			So(page[0].CandidateID, ShouldEqual, "aa")
			So(page[1].CandidateID, ShouldEqual, "bb")
		})
	})

	Convey("Given the pick_rate ordering", t, func() {
		s := ranking.NewStandings()
		// perfect: 2/2. spotty: 2/4.
		s.ApplyMatch(ctx, settled("perfect", "spotty", 6))
		s.ApplyMatch(ctx, settled("perfect", "spotty", 6))
		s.ApplyMatch(ctx, settled("spotty", "other", 6))
		s.ApplyMatch(ctx, settled("spotty", "other", 6))

		Convey("Then win share decides the order", func() {
			page, err := s.Page(ctx, 1, 10, ranking.SortPickRate)
			So(err, ShouldBeNil)
			So(page[0].CandidateID, ShouldEqual, "perfect")
			So(page[0].PickRate, ShouldEqual, 100)
			So(page[1].CandidateID, ShouldEqual, "spotty")
			So(page[1].PickRate, ShouldEqual, 50)
		})
	})
}

func TestPaging(t *testing.T) {
	ctx := context.Background()

	Convey("Given twenty-five ranked candidates", t, func() {
		s := ranking.NewStandings()
		for i := 0; i < 25; i++ {
			id := fmt.Sprintf("c%02d", i)
			for w := 0; w < 25-i; w++ {
				s.ApplyMatch(ctx, settled(id, "loser", 6))
			}
		}

		Convey("Then pages tile the ordering without overlap", func() {
			p1, err := s.Page(ctx, 1, 10, ranking.SortOverall)
			So(err, ShouldBeNil)
			p2, err := s.Page(ctx, 2, 10, ranking.SortOverall)
			So(err, ShouldBeNil)
			So(len(p1), ShouldEqual, 10)
			So(len(p2), ShouldEqual, 10)
			So(p1[0].CandidateID, ShouldEqual, "c00")
			So(p2[0].Rank, ShouldEqual, 11)
		})

		Convey("And a page past the end is empty", func() {
			p, err := s.Page(ctx, 9, 10, ranking.SortOverall)
			So(err, ShouldBeNil)
			So(p, ShouldBeEmpty)
		})

		Convey("And invalid parameters are rejected", func() {
			_, err := s.Page(ctx, 0, 10, ranking.SortOverall)
			So(err, ShouldEqual, ranking.ErrInvalidPage)
			_, err = s.Page(ctx, 1, 10, ranking.SortKey("elo"))
			So(err, ShouldEqual, ranking.ErrInvalidSortKey)
		})
	})
}

func TestRebuildMatchesIncremental(t *testing.T) {
	ctx := context.Background()

	Convey("Given a random interleaving of sessions", t, func() {
		rng := rand.New(rand.NewSource(99))
		incremental := ranking.NewStandings()
		var votes []model.Vote

		candidates := make([]string, 16)
		for i := range candidates {
			candidates[i] = fmt.Sprintf("cand-%02d", i)
		}

		// Simulate many interleaved matches at varying depths, finals included.
		for i := 0; i < 500; i++ {
			a := candidates[rng.Intn(len(candidates))]
			b := candidates[rng.Intn(len(candidates))]
			if a == b {
				continue
			}
			depth := rng.Intn(7)
			votes = append(votes, model.Vote{
				ID:        fmt.Sprintf("v%d", i),
				SessionID: fmt.Sprintf("s%d", i%7),
				WinnerID:  a,
				LoserID:   b,
				Round:     7 - depth,
				DepthLeft: depth,
			})
			incremental.ApplyMatch(ctx, settled(a, b, depth))
		}

		Convey("Then a full rebuild reproduces the incremental ordering", func() {
			rebuilt := ranking.Rebuild(votes)
			for _, key := range []ranking.SortKey{ranking.SortOverall, ranking.SortPickRate} {
				want, err := incremental.Page(ctx, 1, len(candidates)+32, key)
				So(err, ShouldBeNil)
				got, err := rebuilt.Page(ctx, 1, len(candidates)+32, key)
				So(err, ShouldBeNil)
				So(got, ShouldResemble, want)
			}
		})
	})
}
