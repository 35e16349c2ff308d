package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // cgo-free sqlite driver

	"github.com/okian/faceoff/internal/domain/model"
	"github.com/okian/faceoff/internal/domain/ranking"
	"github.com/okian/faceoff/pkg/metrics"
)

// Default sqlite configuration constants.
const (
	defaultBusyTimeout = 5 * time.Second
)

// schema is created on open. Safe to run repeatedly.
//
// Session state is stored whole as a JSON value next to the few columns
// queries need; the partial unique index is what guarantees at most one
// ACTIVE session per identity even when two start requests race.
const schema = `
CREATE TABLE IF NOT EXISTS candidates (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    original_song TEXT NOT NULL DEFAULT '',
    audio_url TEXT NOT NULL DEFAULT '',
    background_image_url TEXT NOT NULL DEFAULT '',
    eligible INTEGER NOT NULL DEFAULT 1,
    appearances INTEGER NOT NULL DEFAULT 0,
    wins INTEGER NOT NULL DEFAULT 0,
    losses INTEGER NOT NULL DEFAULT 0,
    tournament_wins INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_candidates_eligible ON candidates(eligible);

CREATE TABLE IF NOT EXISTS candidate_depth_wins (
    candidate_id TEXT NOT NULL REFERENCES candidates(id),
    depth_left INTEGER NOT NULL,
    wins INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (candidate_id, depth_left)
);

CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    identity TEXT NOT NULL,
    status TEXT NOT NULL CHECK (status IN ('ACTIVE', 'COMPLETED', 'ABANDONED')),
    state TEXT NOT NULL,
    version INTEGER NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_one_active
    ON sessions(identity) WHERE status = 'ACTIVE';
CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);

CREATE TABLE IF NOT EXISTS votes (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL REFERENCES sessions(id),
    match_id TEXT NOT NULL,
    identity TEXT NOT NULL,
    winner_id TEXT NOT NULL REFERENCES candidates(id),
    loser_id TEXT NOT NULL REFERENCES candidates(id),
    round INTEGER NOT NULL,
    depth_left INTEGER NOT NULL,
    cast_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_votes_session ON votes(session_id);
`

// SQLOption applies a configuration option to the sqlite store.
type SQLOption func(*sqlConfig)

type sqlConfig struct {
	busyTimeout time.Duration
}

// WithBusyTimeout sets how long sqlite waits on a locked database before
// surfacing the error as transient.
func WithBusyTimeout(d time.Duration) SQLOption {
	return func(c *sqlConfig) {
		if d > 0 {
			c.busyTimeout = d
		}
	}
}

// SQLStore is the durable Store backed by sqlite. Every ApplyVote runs
// in one transaction; sqlite's single-writer model plus the version
// check give the atomicity and lost-update guarantees.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore opens (creating if needed) the database at path.
func NewSQLStore(ctx context.Context, path string, opts ...SQLOption) (*SQLStore, error) {
	cfg := &sqlConfig{busyTimeout: defaultBusyTimeout}
	for _, opt := range opts {
		opt(cfg)
	}

	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)",
		path, cfg.busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %s: %w", path, err)
	}
	// A single writer connection sidesteps SQLITE_BUSY between pooled conns.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) PutCandidate(ctx context.Context, c model.Candidate) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO candidates (id, title, original_song, audio_url, background_image_url,
			eligible, appearances, wins, losses, tournament_wins, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			original_song = excluded.original_song,
			audio_url = excluded.audio_url,
			background_image_url = excluded.background_image_url,
			eligible = excluded.eligible,
			updated_at = excluded.updated_at`,
		c.ID, c.Title, c.OriginalSong, c.AudioURL, c.BackgroundImageURL,
		boolToInt(c.Eligible), c.Appearances, c.Wins, c.Losses, c.TournamentWins,
		orNow(c.CreatedAt), orNow(c.UpdatedAt))
	if err != nil {
		return fmt.Errorf("put candidate %s: %w", c.ID, err)
	}
	return nil
}

func (s *SQLStore) Candidate(ctx context.Context, id string) (model.Candidate, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, original_song, audio_url, background_image_url,
			eligible, appearances, wins, losses, tournament_wins, created_at, updated_at
		FROM candidates WHERE id = ?`, id)
	c, err := scanCandidate(row)
	if err != nil {
		return model.Candidate{}, err
	}
	c.WinsAtDepth, err = s.depthWins(ctx, id)
	if err != nil {
		return model.Candidate{}, err
	}
	return c, nil
}

func (s *SQLStore) EligibleCandidates(ctx context.Context) ([]model.Candidate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, original_song, audio_url, background_image_url,
			eligible, appearances, wins, losses, tournament_wins, created_at, updated_at
		FROM candidates WHERE eligible = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list eligible candidates: %w", err)
	}
	defer rows.Close()

	var out []model.Candidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list eligible candidates: %w", err)
	}
	return out, nil
}

func (s *SQLStore) RemoveCandidate(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE candidates SET eligible = 0 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("remove candidate %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) Tallies(ctx context.Context) ([]ranking.Tally, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, appearances, wins, losses, tournament_wins FROM candidates`)
	if err != nil {
		return nil, fmt.Errorf("load tallies: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*ranking.Tally)
	var order []string
	for rows.Next() {
		var t ranking.Tally
		if err := rows.Scan(&t.CandidateID, &t.Appearances, &t.Wins, &t.Losses, &t.TournamentWins); err != nil {
			return nil, fmt.Errorf("scan tally: %w", err)
		}
		byID[t.CandidateID] = &t
		order = append(order, t.CandidateID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load tallies: %w", err)
	}

	depthRows, err := s.db.QueryContext(ctx, `
		SELECT candidate_id, depth_left, wins FROM candidate_depth_wins`)
	if err != nil {
		return nil, fmt.Errorf("load depth wins: %w", err)
	}
	defer depthRows.Close()

	for depthRows.Next() {
		var id string
		var depth, wins int
		if err := depthRows.Scan(&id, &depth, &wins); err != nil {
			return nil, fmt.Errorf("scan depth wins: %w", err)
		}
		t, ok := byID[id]
		if !ok {
			continue
		}
		for len(t.WinsAtDepth) <= depth {
			t.WinsAtDepth = append(t.WinsAtDepth, 0)
		}
		t.WinsAtDepth[depth] = wins
	}
	if err := depthRows.Err(); err != nil {
		return nil, fmt.Errorf("load depth wins: %w", err)
	}

	out := make([]ranking.Tally, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	return out, nil
}

func (s *SQLStore) CandidateCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM candidates`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count candidates: %w", err)
	}
	return n, nil
}

func (s *SQLStore) CreateSession(ctx context.Context, sess *model.Session) error {
	sess.Version = 1
	state, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, identity, status, state, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Identity, string(sess.Status), string(state), sess.Version,
		sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrActiveSessionExists
		}
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *SQLStore) Session(ctx context.Context, id string) (model.Session, error) {
	return s.loadSession(ctx, `SELECT state, version FROM sessions WHERE id = ?`, id)
}

func (s *SQLStore) ActiveSession(ctx context.Context, identity string) (model.Session, error) {
	return s.loadSession(ctx,
		`SELECT state, version FROM sessions WHERE identity = ? AND status = 'ACTIVE'`, identity)
}

func (s *SQLStore) loadSession(ctx context.Context, query string, arg string) (model.Session, error) {
	var state string
	var version int64
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&state, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Session{}, ErrNotFound
	}
	if err != nil {
		return model.Session{}, fmt.Errorf("load session: %w", err)
	}
	var sess model.Session
	if err := json.Unmarshal([]byte(state), &sess); err != nil {
		return model.Session{}, fmt.Errorf("decode session: %w", err)
	}
	sess.Version = version
	return sess, nil
}

func (s *SQLStore) MarkAbandoned(ctx context.Context, idleBefore time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET status = 'ABANDONED' WHERE status = 'ACTIVE' AND updated_at < ?`,
		idleBefore)
	if err != nil {
		return 0, fmt.Errorf("mark abandoned: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark abandoned: %w", err)
	}
	return int(n), nil
}

func (s *SQLStore) SessionCounts(ctx context.Context) (map[model.SessionStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM sessions GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count sessions: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.SessionStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan session counts: %w", err)
		}
		counts[model.SessionStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count sessions: %w", err)
	}
	return counts, nil
}

func (s *SQLStore) VoteCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM votes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count votes: %w", err)
	}
	return n, nil
}

func (s *SQLStore) ScanVotes(ctx context.Context, fn func(model.Vote) error) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, match_id, identity, winner_id, loser_id, round, depth_left, cast_at
		FROM votes ORDER BY rowid`)
	if err != nil {
		return fmt.Errorf("scan votes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var v model.Vote
		if err := rows.Scan(&v.ID, &v.SessionID, &v.MatchID, &v.Identity,
			&v.WinnerID, &v.LoserID, &v.Round, &v.DepthLeft, &v.CastAt); err != nil {
			return fmt.Errorf("scan vote: %w", err)
		}
		if err := fn(v); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("scan votes: %w", err)
	}
	return nil
}

// ApplyVote runs the whole apply in one transaction: session CAS, vote
// append, counter increments. Counter updates are single
// "x = x + 1" statements so concurrent sessions can never lose updates.
func (s *SQLStore) ApplyVote(ctx context.Context, sess *model.Session, v model.Vote) error {
	start := time.Now()
	defer func() {
		metrics.RecordStoreLatency("apply_vote", float64(time.Since(start).Milliseconds()))
	}()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin apply: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	next := *sess
	next.Version = sess.Version + 1
	next.UpdatedAt = v.CastAt
	state, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE sessions SET state = ?, status = ?, version = ?, updated_at = ?
		WHERE id = ? AND version = ?`,
		string(state), string(next.Status), next.Version, next.UpdatedAt, sess.ID, sess.Version)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE id = ?`, sess.ID).Scan(&exists); err == nil && exists == 0 {
			return ErrNotFound
		}
		return ErrVersionConflict
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO votes (id, session_id, match_id, identity, winner_id, loser_id, round, depth_left, cast_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.SessionID, v.MatchID, v.Identity, v.WinnerID, v.LoserID, v.Round, v.DepthLeft, v.CastAt); err != nil {
		return fmt.Errorf("append vote: %w", err)
	}

	tournamentWin := 0
	if v.DepthLeft == 0 {
		tournamentWin = 1
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE candidates SET appearances = appearances + 1, wins = wins + 1,
			tournament_wins = tournament_wins + ?, updated_at = ? WHERE id = ?`,
		tournamentWin, v.CastAt, v.WinnerID); err != nil {
		return fmt.Errorf("update winner counters: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE candidates SET appearances = appearances + 1, losses = losses + 1,
			updated_at = ? WHERE id = ?`,
		v.CastAt, v.LoserID); err != nil {
		return fmt.Errorf("update loser counters: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO candidate_depth_wins (candidate_id, depth_left, wins) VALUES (?, ?, 1)
		ON CONFLICT(candidate_id, depth_left) DO UPDATE SET wins = wins + 1`,
		v.WinnerID, v.DepthLeft); err != nil {
		return fmt.Errorf("update depth wins: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit apply: %w", err)
	}
	sess.Version = next.Version
	sess.UpdatedAt = next.UpdatedAt
	return nil
}

// Close closes the underlying database.
func (s *SQLStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCandidate(row rowScanner) (model.Candidate, error) {
	var c model.Candidate
	var eligible int
	err := row.Scan(&c.ID, &c.Title, &c.OriginalSong, &c.AudioURL, &c.BackgroundImageURL,
		&eligible, &c.Appearances, &c.Wins, &c.Losses, &c.TournamentWins, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Candidate{}, ErrNotFound
	}
	if err != nil {
		return model.Candidate{}, fmt.Errorf("scan candidate: %w", err)
	}
	c.Eligible = eligible != 0
	return c, nil
}

func (s *SQLStore) depthWins(ctx context.Context, id string) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT depth_left, wins FROM candidate_depth_wins WHERE candidate_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("load depth wins for %s: %w", id, err)
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var depth, wins int
		if err := rows.Scan(&depth, &wins); err != nil {
			return nil, fmt.Errorf("scan depth wins: %w", err)
		}
		for len(out) <= depth {
			out = append(out, 0)
		}
		out[depth] = wins
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load depth wins for %s: %w", id, err)
	}
	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

// isUniqueViolation detects the unique-index failure raised when a second
// ACTIVE session is inserted for the same identity.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "constraint failed")
}
