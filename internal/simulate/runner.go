package simulate

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/okian/faceoff/pkg/logger"
)

// Run executes the complete tournament simulation.
func Run(ctx context.Context, config *Config) error {
	stats := &Stats{
		StartTime: time.Now(),
		Champions: make(map[string]int),
	}

	logger.Get().Info(ctx, "starting faceoff simulation",
		logger.String("baseURL", config.BaseURL),
		logger.Int("players", config.Players),
		logger.Int("rounds", config.Rounds),
		logger.Duration("timeout", config.Timeout),
		logger.Int("topN", config.TopN),
		logger.Bool("verbose", config.Verbose))

	// Step 1: Check service health
	if err := checkServiceHealth(ctx, config); err != nil {
		return fmt.Errorf("service health check failed: %w", err)
	}

	// Step 2: Run players concurrently
	if err := runPlayers(ctx, config, stats); err != nil {
		return fmt.Errorf("player simulation failed: %w", err)
	}

	// Step 3: Fetch the leaderboard
	board, err := fetchLeaderboard(ctx, config)
	if err != nil {
		return fmt.Errorf("leaderboard retrieval failed: %w", err)
	}
	stats.LeaderboardEntries = len(board.Entries)

	// Step 4: Verify results
	if err := verifyResults(ctx, config, board, stats); err != nil {
		return fmt.Errorf("result verification failed: %w", err)
	}

	// Final statistics
	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)

	displayFinalStats(stats)

	logger.Get().Info(ctx, "simulation completed successfully")
	return nil
}

// checkServiceHealth verifies the service is running.
func checkServiceHealth(ctx context.Context, config *Config) error {
	logger.Get().Info(ctx, "checking service health")

	client := newHTTPClient(config.Timeout)

	resp, err := client.Get(ctx, config.BaseURL+"/healthz")
	if err != nil {
		return fmt.Errorf("failed to connect to service: %w", err)
	}
	defer drainBody(resp)

	// Any 200 counts as healthy; the endpoint serves Prometheus metrics.
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("service health check failed with status: %d", resp.StatusCode)
	}

	logger.Get().Info(ctx, "service is healthy")
	return nil
}

// runPlayers drives config.Players concurrent identities through
// config.Rounds tournaments each and folds their results into stats.
func runPlayers(ctx context.Context, config *Config, stats *Stats) error {
	logger.Get().Info(ctx, "running players",
		logger.Int("players", config.Players),
		logger.Int("tournamentsEach", config.Rounds))

	counts := &counters{}
	champions := make(chan string, config.Players*config.Rounds)
	errs := make(chan error, config.Players)

	var wg sync.WaitGroup
	for i := 0; i < config.Players; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			p := &player{
				client:    newHTTPClient(config.Timeout),
				baseURL:   config.BaseURL,
				identity:  fmt.Sprintf("sim-player-%03d", n),
				verbose:   config.Verbose,
				counts:    counts,
				champions: champions,
			}
			if err := p.run(ctx, config.Rounds); err != nil {
				errs <- err
			}
		}(i)
	}

	wg.Wait()
	close(champions)
	close(errs)

	for id := range champions {
		stats.Champions[id]++
	}

	stats.SessionsStarted = int(counts.started.Load())
	stats.SessionsResumed = int(counts.resumed.Load())
	stats.SessionsCompleted = int(counts.completed.Load())
	stats.VotesCast = int(counts.votes.Load())
	stats.VotesStale = int(counts.stale.Load())
	stats.VotesRateLimited = int(counts.rateLimited.Load())
	stats.VotesFailed = int(counts.failed.Load())

	if err := <-errs; err != nil {
		return err
	}
	return nil
}

// fetchLeaderboard retrieves the first page of the standings.
func fetchLeaderboard(ctx context.Context, config *Config) (*boardResponse, error) {
	client := newHTTPClient(config.Timeout)

	pageSize := config.PageSize
	if pageSize <= 0 {
		pageSize = config.TopN
	}
	url := fmt.Sprintf("%s/leaderboard?page=1&page_size=%d", config.BaseURL, pageSize)

	resp, err := client.Get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch leaderboard: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		drainBody(resp)
		return nil, fmt.Errorf("leaderboard returned status %d", resp.StatusCode)
	}

	var board boardResponse
	if err := decodeResponse(resp, &board); err != nil {
		return nil, err
	}
	return &board, nil
}

// displayFinalStats prints the final simulation statistics.
func displayFinalStats(stats *Stats) {
	var votesPerSecond float64
	if stats.Duration > 0 {
		votesPerSecond = float64(stats.VotesCast) / stats.Duration.Seconds()
	}

	logger.Get().Info(context.Background(), "final statistics",
		logger.Int("sessionsStarted", stats.SessionsStarted),
		logger.Int("sessionsResumed", stats.SessionsResumed),
		logger.Int("sessionsCompleted", stats.SessionsCompleted),
		logger.Int("votesCast", stats.VotesCast),
		logger.Int("votesStale", stats.VotesStale),
		logger.Int("votesRateLimited", stats.VotesRateLimited),
		logger.Int("votesFailed", stats.VotesFailed),
		logger.Int("distinctChampions", len(stats.Champions)),
		logger.Int("leaderboardEntries", stats.LeaderboardEntries),
		logger.Duration("duration", stats.Duration),
		logger.Float64("votesPerSecond", votesPerSecond))
}
