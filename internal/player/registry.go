package player

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openquiz/bigbrain/internal/domain"
	"github.com/openquiz/bigbrain/internal/errors"
)

// Sessions gates joins on the session's lifecycle state.
type Sessions interface {
	StateOf(sessionID string) (domain.SessionState, error)
}

type Config struct {
	Sessions Sessions

	Now   func() time.Time
	NewID func() (string, error)
}

// Registry tracks which players joined which session. Player ids are unique
// across the whole system, display names only within their session
// (case-sensitive exact match). Join order is recorded per session and used
// as the leaderboard tie-break.
type Registry struct {
	sessions Sessions
	now      func() time.Time
	newID    func() (string, error)

	mu        sync.RWMutex
	byID      map[string]domain.PlayerRecord
	bySession map[string]*roster
}

type roster struct {
	names map[string]string // display name -> player id
	order []string          // player ids in join order
}

func NewRegistry(c Config) *Registry {
	r := &Registry{
		sessions:  c.Sessions,
		now:       c.Now,
		newID:     c.NewID,
		byID:      make(map[string]domain.PlayerRecord),
		bySession: make(map[string]*roster),
	}

	if r.now == nil {
		r.now = time.Now
	}
	if r.newID == nil {
		r.newID = func() (string, error) {
			id, err := uuid.NewV7()
			if err != nil {
				return "", err
			}
			return id.String(), nil
		}
	}

	return r
}

// Join registers a new player in a session. Joining is allowed during lobby
// and while questions are running; late joiners simply miss the questions
// that already elapsed.
func (r *Registry) Join(sessionID, name string) (domain.PlayerRecord, error) {
	state, err := r.sessions.StateOf(sessionID)
	if err != nil {
		return domain.PlayerRecord{}, err
	}
	if state == domain.StateEnded {
		return domain.PlayerRecord{}, errors.New(errors.CodeFailedPrecondition,
			errors.WithReason(errors.ReasonSessionEnded),
			errors.WithMessagef("session already ended: %s", sessionID),
		)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ros, ok := r.bySession[sessionID]
	if !ok {
		ros = &roster{names: make(map[string]string)}
		r.bySession[sessionID] = ros
	}

	if _, taken := ros.names[name]; taken {
		return domain.PlayerRecord{}, errors.New(errors.CodeAlreadyExists,
			errors.WithReason(errors.ReasonDuplicateName),
			errors.WithMessagef("name %q already taken in session %s", name, sessionID),
		)
	}

	id, err := r.newID()
	if err != nil {
		return domain.PlayerRecord{}, err
	}

	rec := domain.PlayerRecord{
		PlayerID:  id,
		SessionID: sessionID,
		Name:      name,
		JoinOrder: len(ros.order),
		JoinedAt:  r.now(),
	}

	ros.names[name] = id
	ros.order = append(ros.order, id)
	r.byID[id] = rec

	return rec, nil
}

// Resolve maps a player id to its record.
func (r *Registry) Resolve(playerID string) (domain.PlayerRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.byID[playerID]
	if !ok {
		return domain.PlayerRecord{}, errors.New(errors.CodeNotFound,
			errors.WithMessagef("player not found: %s", playerID))
	}
	return rec, nil
}

// Players returns a session's players in join order.
func (r *Registry) Players(sessionID string) []domain.PlayerRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ros, ok := r.bySession[sessionID]
	if !ok {
		return nil
	}

	out := make([]domain.PlayerRecord, 0, len(ros.order))
	for _, id := range ros.order {
		out = append(out, r.byID[id])
	}
	return out
}

// Names returns a session's display names in join order.
func (r *Registry) Names(sessionID string) []string {
	players := r.Players(sessionID)
	names := make([]string, 0, len(players))
	for _, p := range players {
		names = append(names, p.Name)
	}
	return names
}
