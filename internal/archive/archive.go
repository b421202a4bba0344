// Package archive persists finished sessions so historical results stay
// queryable after the process that ran them is gone.
package archive

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/openquiz/bigbrain/internal/domain"
	"github.com/openquiz/bigbrain/internal/errors"
	"github.com/openquiz/bigbrain/internal/event"
)

// SessionRecord is the durable shape of one finished session.
type SessionRecord struct {
	SessionID string        `json:"sessionId"`
	GameID    string        `json:"gameId"`
	CreatedAt time.Time     `json:"createdAt"`
	EndedAt   time.Time     `json:"endedAt"`
	Scores    []PlayerScore `json:"scores"`
}

// PlayerScore is one leaderboard row at the moment the session ended.
type PlayerScore struct {
	PlayerID string `json:"playerId"`
	Name     string `json:"name"`
	Score    int    `json:"score"`
}

type Store interface {
	SaveSession(ctx context.Context, rec SessionRecord) error
	ListSessions(ctx context.Context, gameID string) ([]SessionRecord, error)
}

// Leaderboards is the slice of the results aggregator the archiver needs.
type Leaderboards interface {
	Leaderboard(ctx context.Context, sessionID string) (domain.Leaderboard, error)
}

type Config struct {
	Store    Store
	Results  Leaderboards
	EventBus *event.Bus
}

// Archiver writes a session's final leaderboard to the store when the
// session ends. It runs off the event bus; a failed write is logged and
// never propagates back into the engine.
type Archiver struct {
	store   Store
	results Leaderboards
}

func NewArchiver(c Config) *Archiver {
	a := &Archiver{
		store:   c.Store,
		results: c.Results,
	}

	c.EventBus.Subscribe(domain.EventNameSessionEnded, func(ctx context.Context, e event.Event) error {
		return a.ArchiveSession(ctx, e.(domain.EventSessionEnded).Session)
	})

	return a
}

func (a *Archiver) ArchiveSession(ctx context.Context, snap domain.SessionSnapshot) error {
	l, err := a.results.Leaderboard(ctx, snap.SessionID)
	if err != nil {
		slog.ErrorContext(ctx, "archive: compute final leaderboard failed",
			"session", snap.SessionID, "error", err)
		return err
	}

	rec := SessionRecord{
		SessionID: snap.SessionID,
		GameID:    snap.GameID,
		CreatedAt: snap.CreatedAt,
		EndedAt:   snap.EndedAt,
		Scores:    make([]PlayerScore, 0, len(l.Entries)),
	}
	for _, e := range l.Entries {
		rec.Scores = append(rec.Scores, PlayerScore{
			PlayerID: e.PlayerID,
			Name:     e.Name,
			Score:    e.Score,
		})
	}

	if err := a.store.SaveSession(ctx, rec); err != nil {
		slog.ErrorContext(ctx, "archive: save session failed",
			"session", snap.SessionID, "error", err)
		return err
	}

	slog.InfoContext(ctx, "archive: session archived",
		"session", snap.SessionID, "game", snap.GameID, "players", len(rec.Scores))
	return nil
}

// MemoryStore is an in-memory Store for tests and single-process demos.
type MemoryStore struct {
	mu   sync.RWMutex
	recs map[string]SessionRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recs: make(map[string]SessionRecord)}
}

func (s *MemoryStore) SaveSession(_ context.Context, rec SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[rec.SessionID] = rec
	return nil
}

func (s *MemoryStore) ListSessions(_ context.Context, gameID string) ([]SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []SessionRecord
	for _, rec := range s.recs {
		if rec.GameID == gameID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndedAt.Before(out[j].EndedAt) })
	return out, nil
}

// GetSession returns one archived session.
func (s *MemoryStore) GetSession(_ context.Context, sessionID string) (SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.recs[sessionID]
	if !ok {
		return SessionRecord{}, errors.New(errors.CodeNotFound,
			errors.WithMessagef("archived session not found: %s", sessionID))
	}
	return rec, nil
}
