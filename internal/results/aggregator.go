package results

import (
	"context"
	"sort"

	"github.com/openquiz/bigbrain/internal/domain"
	"github.com/openquiz/bigbrain/internal/errors"
	"github.com/openquiz/bigbrain/internal/score"
)

type Sessions interface {
	Snapshot(sessionID string) (domain.SessionSnapshot, error)
}

type GameStore interface {
	GetGame(ctx context.Context, gameID string) (domain.Game, error)
}

type Roster interface {
	Players(sessionID string) []domain.PlayerRecord
	Resolve(playerID string) (domain.PlayerRecord, error)
}

type Ledger interface {
	Entries(sessionID string) []domain.SubmittedAnswer
	Get(sessionID, playerID string, questionID int) (domain.SubmittedAnswer, bool)
}

type Config struct {
	Sessions Sessions
	Games    GameStore
	Roster   Roster
	Ledger   Ledger
}

// Aggregator is the read-only results component. Every call recomputes from
// the answer ledger and the game definition; nothing is cached, so repeated
// queries never double-count.
type Aggregator struct {
	sessions Sessions
	games    GameStore
	roster   Roster
	ledger   Ledger
}

func NewAggregator(c Config) *Aggregator {
	return &Aggregator{
		sessions: c.Sessions,
		games:    c.Games,
		roster:   c.Roster,
		ledger:   c.Ledger,
	}
}

// Leaderboard ranks a session's players by total score, descending. Ties
// break by join order: the earlier joiner ranks higher, which keeps the
// ordering stable and deterministic.
func (a *Aggregator) Leaderboard(ctx context.Context, sessionID string) (domain.Leaderboard, error) {
	snap, err := a.sessions.Snapshot(sessionID)
	if err != nil {
		return domain.Leaderboard{}, err
	}

	g, err := a.games.GetGame(ctx, snap.GameID)
	if err != nil {
		return domain.Leaderboard{}, err
	}

	players := a.roster.Players(sessionID)

	entries := make([]domain.LeaderboardEntry, 0, len(players))
	for _, p := range players {
		entries = append(entries, domain.LeaderboardEntry{
			PlayerID: p.PlayerID,
			Name:     p.Name,
			Score:    a.totalScore(g, snap, p.PlayerID),
		})
	}

	// Players arrive in join order, so a stable sort on score alone
	// implements the tie-break.
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Score > entries[j].Score
	})

	return domain.Leaderboard{SessionID: sessionID, Entries: entries}, nil
}

func (a *Aggregator) totalScore(g domain.Game, snap domain.SessionSnapshot, playerID string) int {
	total := 0
	for i, q := range g.Questions {
		sub, ok := a.ledger.Get(snap.SessionID, playerID, q.ID)
		if !ok {
			continue
		}
		total += score.Score(q, sub, snap.QuestionStarts[i])
	}
	return total
}

// QuestionStats computes the correct-answer rate and the mean response time
// for one question of a session. A question nobody answered reports a zero
// rate rather than dividing by zero.
func (a *Aggregator) QuestionStats(ctx context.Context, sessionID string, questionIndex int) (domain.QuestionStats, error) {
	snap, err := a.sessions.Snapshot(sessionID)
	if err != nil {
		return domain.QuestionStats{}, err
	}

	g, err := a.games.GetGame(ctx, snap.GameID)
	if err != nil {
		return domain.QuestionStats{}, err
	}

	if questionIndex < 0 || questionIndex >= len(g.Questions) {
		return domain.QuestionStats{}, errors.New(errors.CodeNotFound,
			errors.WithMessagef("question index %d out of range for game %s", questionIndex, g.ID))
	}

	q := g.Questions[questionIndex]
	start := snap.QuestionStarts[questionIndex]

	stats := domain.QuestionStats{QuestionID: q.ID}

	var correct int
	var totalSeconds float64
	for _, sub := range a.ledger.Entries(sessionID) {
		if sub.QuestionID != q.ID {
			continue
		}
		stats.Submissions++
		totalSeconds += sub.SubmittedAt.Sub(start).Seconds()
		if score.Correct(q, sub.Selected) {
			correct++
		}
	}

	if stats.Submissions > 0 {
		stats.CorrectRate = float64(correct) / float64(stats.Submissions)
		stats.AverageResponseSeconds = totalSeconds / float64(stats.Submissions)
	}

	return stats, nil
}

// PlayerResults is the per-question breakdown one player sees after the
// session ended: what they picked, whether it was right, how fast they were
// and what it scored.
func (a *Aggregator) PlayerResults(ctx context.Context, playerID string) ([]domain.PlayerResult, error) {
	rec, err := a.roster.Resolve(playerID)
	if err != nil {
		return nil, err
	}

	snap, err := a.sessions.Snapshot(rec.SessionID)
	if err != nil {
		return nil, err
	}

	if snap.State != domain.StateEnded {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("session %s is still running", rec.SessionID))
	}

	g, err := a.games.GetGame(ctx, snap.GameID)
	if err != nil {
		return nil, err
	}

	out := make([]domain.PlayerResult, 0, len(g.Questions))
	for i, q := range g.Questions {
		res := domain.PlayerResult{
			QuestionID:   q.ID,
			QuestionText: q.Text,
		}

		if sub, ok := a.ledger.Get(rec.SessionID, playerID, q.ID); ok {
			start := snap.QuestionStarts[i]
			res.Selected = sub.Selected
			res.Correct = score.Correct(q, sub.Selected)
			res.ResponseSeconds = score.ElapsedSeconds(start, sub.SubmittedAt, q.Duration)
			res.Score = score.Score(q, sub, start)
		}

		out = append(out, res)
	}

	return out, nil
}
