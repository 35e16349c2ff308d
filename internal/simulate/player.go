package simulate

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/okian/faceoff/pkg/logger"
)

// Per-vote retry tuning. Rate limited votes honor Retry-After; busy
// retries back off briefly and give up after maxVoteAttempts.
const (
	maxVoteAttempts   = 10
	busyRetryDelay    = 100 * time.Millisecond
	defaultRetryAfter = 2 * time.Second
)

// counters aggregates results across concurrent players.
type counters struct {
	started     atomic.Int64
	resumed     atomic.Int64
	completed   atomic.Int64
	votes       atomic.Int64
	stale       atomic.Int64
	rateLimited atomic.Int64
	failed      atomic.Int64
}

// player drives one identity through complete tournaments over HTTP.
type player struct {
	client   *HTTPClient
	baseURL  string
	identity string
	verbose  bool
	counts   *counters

	champions chan<- string
}

// run completes the configured number of tournaments back to back.
func (p *player) run(ctx context.Context, tournaments int) error {
	for i := 0; i < tournaments; i++ {
		if err := p.playTournament(ctx); err != nil {
			return fmt.Errorf("player %s tournament %d: %w", p.identity, i+1, err)
		}
	}
	return nil
}

// playTournament starts or resumes a session and votes until a champion
// is crowned.
func (p *player) playTournament(ctx context.Context) error {
	sess, err := p.startSession(ctx)
	if err != nil {
		return err
	}

	for sess.Status == "ACTIVE" && sess.Match != nil {
		next, err := p.castVote(ctx, sess)
		if err != nil {
			return err
		}
		sess = next
	}

	if sess.Status != "COMPLETED" || sess.Champion == nil {
		return fmt.Errorf("session %s ended in status %s without a champion", sess.ID, sess.Status)
	}

	p.counts.completed.Add(1)
	p.champions <- sess.Champion.ID
	if p.verbose {
		logger.Get().Info(ctx, "tournament complete",
			logger.String("identity", p.identity),
			logger.String("session", sess.ID),
			logger.String("champion", sess.Champion.ID))
	}
	return nil
}

// startSession creates or resumes the identity's session.
func (p *player) startSession(ctx context.Context) (*sessionResponse, error) {
	resp, err := p.client.Post(ctx, p.baseURL+"/sessions", map[string]string{"identity": p.identity})
	if err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusCreated, http.StatusOK:
	default:
		drainBody(resp)
		return nil, fmt.Errorf("start session returned status %d", resp.StatusCode)
	}

	var sess sessionResponse
	if err := decodeResponse(resp, &sess); err != nil {
		return nil, err
	}

	if sess.Resumed {
		p.counts.resumed.Add(1)
	} else {
		p.counts.started.Add(1)
	}
	return &sess, nil
}

// castVote submits one decision, retrying through rate limits, stale
// matches and lock contention.
func (p *player) castVote(ctx context.Context, sess *sessionResponse) (*sessionResponse, error) {
	match := sess.Match
	url := p.baseURL + "/sessions/" + sess.ID + "/votes"

	for attempt := 0; attempt < maxVoteAttempts; attempt++ {
		vote := voteRequest{MatchID: match.ID, WinnerID: pickWinner(match)}

		resp, err := p.client.Post(ctx, url, vote)
		if err != nil {
			return nil, fmt.Errorf("failed to submit vote: %w", err)
		}

		switch resp.StatusCode {
		case http.StatusOK:
			var next sessionResponse
			if err := decodeResponse(resp, &next); err != nil {
				return nil, err
			}
			p.counts.votes.Add(1)
			if next.RoundRolledOver && p.verbose {
				logger.Get().Info(ctx, "round rolled over",
					logger.String("identity", p.identity),
					logger.String("session", next.ID),
					logger.Int("round", next.Round))
			}
			return &next, nil

		case http.StatusTooManyRequests:
			p.counts.rateLimited.Add(1)
			delay := retryAfter(resp)
			drainBody(resp)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}

		case http.StatusConflict:
			// Stale match: the cursor moved underneath us. Refetch and retry.
			p.counts.stale.Add(1)
			drainBody(resp)
			fresh, err := p.currentMatch(ctx, sess.ID)
			if err != nil {
				return nil, err
			}
			if fresh.Match == nil {
				return fresh, nil
			}
			match = fresh.Match

		case http.StatusServiceUnavailable:
			drainBody(resp)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(busyRetryDelay):
			}

		default:
			p.counts.failed.Add(1)
			drainBody(resp)
			return nil, fmt.Errorf("vote returned status %d", resp.StatusCode)
		}
	}
	return nil, fmt.Errorf("vote on match %s gave up after %d attempts", match.ID, maxVoteAttempts)
}

// currentMatch refetches the session's next unplayed match.
func (p *player) currentMatch(ctx context.Context, sessionID string) (*sessionResponse, error) {
	resp, err := p.client.Get(ctx, p.baseURL+"/sessions/"+sessionID+"/match")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch current match: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		drainBody(resp)
		return nil, fmt.Errorf("current match returned status %d", resp.StatusCode)
	}
	var sess sessionResponse
	if err := decodeResponse(resp, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// pickWinner favors the lexically smaller candidate id so repeated
// simulation runs drift the standings the same way.
func pickWinner(m *matchView) string {
	if m.CandidateA.ID <= m.CandidateB.ID {
		return m.CandidateA.ID
	}
	return m.CandidateB.ID
}

// retryAfter reads the Retry-After header in seconds, falling back to
// the default delay.
func retryAfter(resp *http.Response) time.Duration {
	if raw := resp.Header.Get("Retry-After"); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultRetryAfter
}
