package archive

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore persists finished sessions to Postgres.
type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id TEXT PRIMARY KEY,
	game_id    TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	ended_at   TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS sessions_game_id_idx ON sessions (game_id, ended_at);

CREATE TABLE IF NOT EXISTS session_scores (
	session_id TEXT NOT NULL REFERENCES sessions (session_id),
	player_id  TEXT NOT NULL,
	name       TEXT NOT NULL,
	score      INT  NOT NULL,
	rank       INT  NOT NULL,
	PRIMARY KEY (session_id, player_id)
);`

func (s *PGStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("archive: ensure schema: %w", err)
	}
	return nil
}

func (s *PGStore) SaveSession(ctx context.Context, rec SessionRecord) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("archive: begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	const (
		insSessionStmt = `
INSERT INTO sessions (session_id, game_id, created_at, ended_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (session_id) DO NOTHING;`
		insScoreStmt = `
INSERT INTO session_scores (session_id, player_id, name, score, rank)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (session_id, player_id) DO UPDATE SET score = EXCLUDED.score, rank = EXCLUDED.rank;`
	)

	if _, err = tx.Exec(ctx, insSessionStmt, rec.SessionID, rec.GameID, rec.CreatedAt, rec.EndedAt); err != nil {
		return fmt.Errorf("archive: insert session: %w", err)
	}

	for rank, sc := range rec.Scores {
		if _, err = tx.Exec(ctx, insScoreStmt, rec.SessionID, sc.PlayerID, sc.Name, sc.Score, rank+1); err != nil {
			return fmt.Errorf("archive: insert score: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (s *PGStore) ListSessions(ctx context.Context, gameID string) ([]SessionRecord, error) {
	const stmt = `
SELECT session_id, game_id, created_at, ended_at
FROM sessions
WHERE game_id = $1
ORDER BY ended_at;`

	rows, err := s.db.Query(ctx, stmt, gameID)
	if err != nil {
		return nil, fmt.Errorf("archive: select sessions: %w", err)
	}

	recs, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (SessionRecord, error) {
		var rec SessionRecord
		if err := r.Scan(&rec.SessionID, &rec.GameID, &rec.CreatedAt, &rec.EndedAt); err != nil {
			return SessionRecord{}, err
		}
		return rec, nil
	})
	if err != nil {
		return nil, err
	}

	for i := range recs {
		if recs[i].Scores, err = s.listScores(ctx, recs[i].SessionID); err != nil {
			return nil, err
		}
	}

	return recs, nil
}

func (s *PGStore) listScores(ctx context.Context, sessionID string) ([]PlayerScore, error) {
	const stmt = `
SELECT player_id, name, score
FROM session_scores
WHERE session_id = $1
ORDER BY rank;`

	rows, err := s.db.Query(ctx, stmt, sessionID)
	if err != nil {
		return nil, fmt.Errorf("archive: select scores: %w", err)
	}

	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (PlayerScore, error) {
		var sc PlayerScore
		if err := r.Scan(&sc.PlayerID, &sc.Name, &sc.Score); err != nil {
			return PlayerScore{}, err
		}
		return sc, nil
	})
}
