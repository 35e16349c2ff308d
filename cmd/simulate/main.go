package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/okian/faceoff/internal/simulate"
)

// Default configuration constants.
const (
	defaultPlayers    = 8
	defaultRounds     = 1
	defaultTopN       = 50
	defaultTimeout    = 30 * time.Second
	defaultRunTimeout = 10 * time.Minute
)

func main() {
	var (
		baseURL = flag.String("url", "http://localhost:9080", "Base URL of the service")
		players = flag.Int("players", defaultPlayers, "Number of concurrent simulated players")
		rounds  = flag.Int("rounds", defaultRounds, "Tournaments each player completes")
		topN    = flag.Int("top", defaultTopN, "Number of leaderboard entries to fetch for verification")
		timeout = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		logFile = flag.String("log", "", "Log file for simulation output (default: simulation_TIMESTAMP.log)")
		verbose = flag.Bool("verbose", false, "Enable verbose logging")
		help    = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		simulate.ShowHelp()
		return
	}

	// Setup logging
	if err := simulate.SetupLogging(*logFile); err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		return
	}

	// Create context with timeout
	ctx, cancel := context.WithTimeout(context.Background(), defaultRunTimeout)
	defer cancel()

	// Create simulation configuration
	config := &simulate.Config{
		BaseURL: *baseURL,
		Players: *players,
		Rounds:  *rounds,
		TopN:    *topN,
		Timeout: *timeout,
		LogFile: *logFile,
		Verbose: *verbose,
	}

	// Run the simulation
	if err := simulate.Run(ctx, config); err != nil {
		os.Stderr.WriteString("Simulation failed: " + err.Error() + "\n")
		return
	}
}
