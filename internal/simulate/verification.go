package simulate

import (
	"context"
	"fmt"
	"log"
)

// verifyResults checks the leaderboard against what the players observed.
func verifyResults(ctx context.Context, config *Config, board *boardResponse, stats *Stats) error {
	log.Println("🔍 Verifying results...")

	if len(board.Entries) == 0 {
		return fmt.Errorf("empty leaderboard after %d completed tournaments", stats.SessionsCompleted)
	}

	if err := verifyOrdering(board.Entries); err != nil {
		return err
	}

	if err := verifyChampions(board.Entries, stats); err != nil {
		log.Printf("⚠️  Champion consistency warning: %v", err)
	} else {
		log.Println("✅ Champion consistency verified")
	}

	displayTopEntries(board.Entries, config.Verbose)

	log.Println("✅ Result verification completed")
	return nil
}

// verifyOrdering checks the two-tier sort: ever-champions first, then
// non-decreasing rank with non-increasing score inside each tier.
func verifyOrdering(entries []boardEntry) error {
	seenNonChampion := false
	for i, e := range entries {
		if e.Rank != i+1 {
			return fmt.Errorf("entry %d carries rank %d", i, e.Rank)
		}
		if e.Champion {
			if seenNonChampion {
				return fmt.Errorf("champion %s ranked below a non-champion", e.CandidateID)
			}
		} else {
			seenNonChampion = true
		}
		if i > 0 && entries[i-1].Champion == e.Champion && e.Score > entries[i-1].Score {
			return fmt.Errorf("leaderboard not sorted: entry %d outscores entry %d", i, i-1)
		}
	}
	return nil
}

// verifyChampions checks that every champion the players crowned shows
// up on the board as an ever-champion with tournament wins.
func verifyChampions(entries []boardEntry, stats *Stats) error {
	byID := make(map[string]boardEntry, len(entries))
	for _, e := range entries {
		byID[e.CandidateID] = e
	}

	for id, crowned := range stats.Champions {
		e, ok := byID[id]
		if !ok {
			// Champions sort to the head of the board, so a crowned
			// candidate absent from the first page is inconsistent.
			return fmt.Errorf("champion %s missing from leaderboard", id)
		}
		if !e.Champion {
			return fmt.Errorf("candidate %s won %d tournaments but is not flagged as champion", id, crowned)
		}
		if e.TournamentWins < crowned {
			return fmt.Errorf("candidate %s shows %d tournament wins, players crowned it %d times",
				id, e.TournamentWins, crowned)
		}
	}
	return nil
}

// displayTopEntries shows the head of the leaderboard.
func displayTopEntries(entries []boardEntry, verbose bool) {
	topN := 10
	if len(entries) < topN {
		topN = len(entries)
	}

	log.Printf("🏆 Top %d from leaderboard:", topN)
	for i := 0; i < topN; i++ {
		e := entries[i]
		marker := ""
		if e.Champion {
			marker = " 👑"
		}
		log.Printf("   %d. %s - Score: %d (W/L %d/%d)%s", e.Rank, e.CandidateID, e.Score, e.Wins, e.Losses, marker)
	}

	if verbose {
		champions := 0
		totalWins := 0
		for _, e := range entries {
			if e.Champion {
				champions++
			}
			totalWins += e.Wins
		}
		log.Printf(`📊 Board statistics:
   Entries: %d
   Ever-champions: %d
   Match wins recorded: %d
`, len(entries), champions, totalWins)
	}
}
