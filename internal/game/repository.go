// Package game adapts the authoring subsystem's game store to the engine.
// The engine treats a game's active-session pointer as the sole durable
// signal of "does this game have a running session".
package game

import (
	"context"
	"sync"

	"github.com/openquiz/bigbrain/internal/domain"
	"github.com/openquiz/bigbrain/internal/errors"
)

type Repository interface {
	GetGame(ctx context.Context, gameID string) (domain.Game, error)
	SetActiveSession(ctx context.Context, gameID, sessionID string) error
	ClearActiveSession(ctx context.Context, gameID string) error
}

// MemoryStore is an in-memory Repository for tests and single-process demos.
type MemoryStore struct {
	mu    sync.RWMutex
	games map[string]domain.Game
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{games: make(map[string]domain.Game)}
}

// Put inserts or replaces a game definition. It belongs to the authoring
// side's surface, not the engine's.
func (s *MemoryStore) Put(g domain.Game) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.games[g.ID] = g
}

func (s *MemoryStore) GetGame(_ context.Context, gameID string) (domain.Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.games[gameID]
	if !ok {
		return domain.Game{}, errGameNotFound(gameID)
	}
	return g, nil
}

func (s *MemoryStore) SetActiveSession(_ context.Context, gameID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.games[gameID]
	if !ok {
		return errGameNotFound(gameID)
	}
	if g.ActiveSession != "" {
		return errors.New(errors.CodeAlreadyExists,
			errors.WithReason(errors.ReasonAlreadyActive),
			errors.WithMessagef("game %s already has active session %s", gameID, g.ActiveSession),
		)
	}

	g.ActiveSession = sessionID
	s.games[gameID] = g
	return nil
}

func (s *MemoryStore) ClearActiveSession(_ context.Context, gameID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.games[gameID]
	if !ok {
		return errGameNotFound(gameID)
	}

	g.ActiveSession = ""
	s.games[gameID] = g
	return nil
}

func errGameNotFound(gameID string) error {
	return errors.New(errors.CodeNotFound,
		errors.WithMessagef("game not found: %s", gameID))
}
