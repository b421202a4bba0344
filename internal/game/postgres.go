package game

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openquiz/bigbrain/internal/domain"
	"github.com/openquiz/bigbrain/internal/errors"
)

// PGStore reads games from the authoring subsystem's Postgres database.
// Questions live in a jsonb column; the nullable active column holds the
// current session id.
type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS games (
	game_id   TEXT PRIMARY KEY,
	owner     TEXT NOT NULL,
	name      TEXT NOT NULL,
	questions JSONB NOT NULL,
	active    TEXT NULL
);`

// EnsureSchema creates the games table when it does not exist yet.
func (s *PGStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("game: ensure schema: %w", err)
	}
	return nil
}

func (s *PGStore) GetGame(ctx context.Context, gameID string) (domain.Game, error) {
	const stmt = `SELECT game_id, owner, name, questions, active FROM games WHERE game_id = $1;`

	var (
		g         domain.Game
		questions []byte
		active    *string
	)
	err := s.db.QueryRow(ctx, stmt, gameID).Scan(&g.ID, &g.Owner, &g.Name, &questions, &active)
	if err == pgx.ErrNoRows {
		return domain.Game{}, errGameNotFound(gameID)
	}
	if err != nil {
		return domain.Game{}, fmt.Errorf("game: select game: %w", err)
	}

	if err := json.Unmarshal(questions, &g.Questions); err != nil {
		return domain.Game{}, fmt.Errorf("game: decode questions of %s: %w", gameID, err)
	}
	if active != nil {
		g.ActiveSession = *active
	}

	return g, nil
}

// SetActiveSession sets the pointer only when it is currently null, so a
// concurrent Start on another process loses cleanly.
func (s *PGStore) SetActiveSession(ctx context.Context, gameID, sessionID string) error {
	const stmt = `UPDATE games SET active = $2 WHERE game_id = $1 AND active IS NULL;`

	tag, err := s.db.Exec(ctx, stmt, gameID, sessionID)
	if err != nil {
		return fmt.Errorf("game: set active session: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// No row updated: either the game is unknown or it is already live.
	g, err := s.GetGame(ctx, gameID)
	if err != nil {
		return err
	}
	return errors.New(errors.CodeAlreadyExists,
		errors.WithReason(errors.ReasonAlreadyActive),
		errors.WithMessagef("game %s already has active session %s", gameID, g.ActiveSession),
	)
}

func (s *PGStore) ClearActiveSession(ctx context.Context, gameID string) error {
	const stmt = `UPDATE games SET active = NULL WHERE game_id = $1;`

	tag, err := s.db.Exec(ctx, stmt, gameID)
	if err != nil {
		return fmt.Errorf("game: clear active session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errGameNotFound(gameID)
	}
	return nil
}
