// Package service provides the core business service that implements
// the dependencies required by the HTTP API.
package service

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	matchqueue "github.com/okian/faceoff/internal/adapters/mq/queue"
	workerpool "github.com/okian/faceoff/internal/adapters/mq/worker"
	repository "github.com/okian/faceoff/internal/adapters/repository"
	"github.com/okian/faceoff/internal/domain/guard"
	"github.com/okian/faceoff/internal/domain/model"
	"github.com/okian/faceoff/internal/domain/ranking"
	"github.com/okian/faceoff/internal/engine"
	"github.com/okian/faceoff/pkg/logger"
	"github.com/okian/faceoff/pkg/metrics"
)

// Store backends the service knows how to open.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

// Default service configuration constants.
const (
	defaultQueueSize     = 100000
	defaultBracketSize   = 128
	defaultIdleThreshold = 24 * time.Hour
	defaultSweepInterval = 10 * time.Minute
)

// Service wires the tournament engine, standings fold and persistence
// together behind the API surface.
type Service struct {
	mu sync.RWMutex

	// Core components
	store      repository.Store
	standings  *ranking.Standings
	matchQueue matchqueue.Queue
	workerPool *workerpool.Pool
	guard      *guard.Guard
	engine     *engine.Engine

	// Configuration
	workerCount   int
	queueSize     int
	bracketSize   int
	storeBackend  string
	sqlitePath    string
	idleThreshold time.Duration
	sweepInterval time.Duration
	guardOpts     []guard.Option
	engineOpts    []engine.Option

	// State
	started bool
	stopCh  chan struct{}

	// Logging
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of standings worker goroutines.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the maximum size of the settled-match queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithBracketSize sets how many entrants each tournament draws.
func WithBracketSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.bracketSize = size
		}
	}
}

// WithStoreBackend selects the persistence backend, memory or sqlite.
func WithStoreBackend(backend string) Option {
	return func(s *Service) {
		if backend != "" {
			s.storeBackend = backend
		}
	}
}

// WithSQLitePath sets the sqlite database file location.
func WithSQLitePath(path string) Option {
	return func(s *Service) {
		if path != "" {
			s.sqlitePath = path
		}
	}
}

// WithIdleThreshold sets how long a session may idle before the sweep
// abandons it.
func WithIdleThreshold(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.idleThreshold = d
		}
	}
}

// WithSweepInterval sets how often the idle sweep runs.
func WithSweepInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.sweepInterval = d
		}
	}
}

// WithGuardOptions forwards tuning to the vote rate limiter.
func WithGuardOptions(opts ...guard.Option) Option {
	return func(s *Service) {
		s.guardOpts = append(s.guardOpts, opts...)
	}
}

// WithEngineOptions forwards extra options to the engine, mostly for
// deterministic randomness in tests.
func WithEngineOptions(opts ...engine.Option) Option {
	return func(s *Service) {
		s.engineOpts = append(s.engineOpts, opts...)
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(logger logger.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		workerCount:   runtime.NumCPU() * 2,
		queueSize:     defaultQueueSize,
		bracketSize:   defaultBracketSize,
		storeBackend:  StoreMemory,
		idleThreshold: defaultIdleThreshold,
		sweepInterval: defaultSweepInterval,
		stopCh:        make(chan struct{}),
		logger:        nil, // Will be replaced when service starts
	}

	// Apply all options
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start initializes and starts the service components.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	// Initialize logger if not already set
	if s.logger == nil {
		s.logger = logger.Get()
	}

	s.logger.Info(ctx, "starting tournament service...")

	// Open the store
	switch s.storeBackend {
	case StoreSQLite:
		store, err := repository.NewSQLStore(ctx, s.sqlitePath)
		if err != nil {
			return fmt.Errorf("open sqlite store: %w", err)
		}
		s.store = store
		s.logger.Info(ctx, "using sqlite store", logger.String("path", s.sqlitePath))
	case StoreMemory:
		s.store = repository.NewMemStore(ctx)
		s.logger.Info(ctx, "using in-memory store")
	default:
		return fmt.Errorf("%w: %s", ErrUnknownStoreBackend, s.storeBackend)
	}

	// Seed the standings from persisted counters so the leaderboard
	// survives restarts.
	s.standings = ranking.NewStandings()
	tallies, err := s.store.Tallies(ctx)
	if err != nil {
		return fmt.Errorf("seed standings: %w", err)
	}
	s.standings.Seed(tallies)

	s.matchQueue = matchqueue.NewInMemoryQueue(
		matchqueue.WithCapacity(s.queueSize),
		matchqueue.WithBufferSize(s.queueSize),
	)

	s.workerPool = workerpool.NewPool(s.workerCount, s.matchQueue, s.standings)
	s.workerPool.Start(ctx)

	s.guard = guard.New(s.guardOpts...)

	engineOpts := append([]engine.Option{
		engine.WithBracketSize(s.bracketSize),
		engine.WithGuard(s.guard),
		engine.WithNotifier(s.enqueueSettled),
	}, s.engineOpts...)
	s.engine = engine.New(s.store, engineOpts...)

	go s.sweepLoop(ctx)

	s.started = true
	s.logger.Info(ctx, "tournament service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.Int("bracketSize", s.bracketSize),
	)

	return nil
}

// Stop gracefully shuts down the service.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	s.logger.Info(context.Background(), "stopping tournament service...")

	// Close the settled-match queue first; the closed dequeue channel
	// lets workers drain what is left and exit.
	if s.matchQueue != nil {
		_ = s.matchQueue.Close()
	}

	// Stop worker pool
	if s.workerPool != nil {
		s.workerPool.Stop()
	}

	// Close the store
	if s.store != nil {
		_ = s.store.Close()
	}

	// Signal the sweep loop to stop
	select {
	case <-s.stopCh:
		// Channel already closed
	default:
		close(s.stopCh)
	}

	s.started = false
	s.logger.Info(context.Background(), "tournament service stopped")
}

// enqueueSettled hands a durably applied match to the standings fold.
// The fold is eventually consistent with the vote log; a dropped event
// only delays the leaderboard until the next restart reseeds it.
func (s *Service) enqueueSettled(m model.SettledMatch) {
	ctx := context.Background()
	if !s.matchQueue.Enqueue(ctx, m) {
		s.logger.Warn(ctx, "settled match dropped, standings lag until reseed",
			logger.String("matchID", m.MatchID),
			logger.String("sessionID", m.SessionID),
		)
	}
}

// sweepLoop periodically abandons idle sessions and evicts stale guard
// entries.
func (s *Service) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if _, err := s.engine.AbandonIdle(ctx, s.idleThreshold); err != nil {
				s.logger.Error(ctx, "idle sweep failed", logger.Error(err))
			}
			s.guard.Sweep()
		}
	}
}

// StartOrResume returns the identity's active session, creating one if
// needed. The bool reports whether an existing session was resumed.
func (s *Service) StartOrResume(ctx context.Context, identity string) (model.Session, bool, error) {
	return s.engine.StartOrResume(ctx, identity)
}

// Session loads one session by id.
func (s *Service) Session(ctx context.Context, sessionID string) (model.Session, error) {
	return s.engine.Session(ctx, sessionID)
}

// CurrentMatch returns the session and its next unplayed match; the
// match is nil once the session has finished.
func (s *Service) CurrentMatch(ctx context.Context, sessionID string) (model.Session, *model.Match, error) {
	return s.engine.CurrentMatch(ctx, sessionID)
}

// CastVote applies one decision to the session's current match. The
// outcome reports whether the vote rolled the round over or completed
// the tournament.
func (s *Service) CastVote(ctx context.Context, sessionID, matchID, winnerID string) (model.Session, engine.VoteOutcome, error) {
	return s.engine.CastVote(ctx, sessionID, matchID, winnerID)
}

// Candidate returns one catalog record.
func (s *Service) Candidate(ctx context.Context, id string) (model.Candidate, error) {
	return s.store.Candidate(ctx, id)
}

// SeedCandidates loads candidates into the catalog, typically at boot.
func (s *Service) SeedCandidates(ctx context.Context, candidates []model.Candidate) error {
	for i := range candidates {
		if err := s.store.PutCandidate(ctx, candidates[i]); err != nil {
			return fmt.Errorf("seed candidate %s: %w", candidates[i].ID, err)
		}
	}
	n, err := s.store.CandidateCount(ctx)
	if err == nil {
		metrics.UpdateTotalCandidates(n)
	}
	return nil
}

// Leaderboard returns one page of the historical standings.
func (s *Service) Leaderboard(ctx context.Context, page, pageSize int, key ranking.SortKey) ([]ranking.Entry, error) {
	return s.standings.Page(ctx, page, pageSize, key)
}

// LeaderboardCount returns how many candidates hold standings entries.
func (s *Service) LeaderboardCount() int {
	return s.standings.Count()
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":      s.started,
		"worker_count": s.workerCount,
		"bracket_size": s.bracketSize,
		"store":        s.storeBackend,
	}

	if !s.started {
		return stats
	}

	stats["queue_length"] = s.matchQueue.Len(ctx)
	stats["tracked_identities"] = s.guard.Size()

	if n, err := s.store.CandidateCount(ctx); err == nil {
		stats["total_candidates"] = n
		metrics.UpdateTotalCandidates(n)
	}
	if n, err := s.store.VoteCount(ctx); err == nil {
		stats["total_votes"] = n
	}
	if counts, err := s.store.SessionCounts(ctx); err == nil {
		stats["sessions_active"] = counts[model.StatusActive]
		stats["sessions_completed"] = counts[model.StatusCompleted]
		stats["sessions_abandoned"] = counts[model.StatusAbandoned]
		metrics.UpdateActiveSessions(counts[model.StatusActive])
	}

	return stats
}
