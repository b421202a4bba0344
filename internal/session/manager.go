package session

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openquiz/bigbrain/internal/domain"
	"github.com/openquiz/bigbrain/internal/errors"
	"github.com/openquiz/bigbrain/internal/event"
)

// GameStore is the authoring subsystem's game repository. The engine reads
// games through it and writes nothing but the active-session pointer.
type GameStore interface {
	GetGame(ctx context.Context, gameID string) (domain.Game, error)
	SetActiveSession(ctx context.Context, gameID, sessionID string) error
	ClearActiveSession(ctx context.Context, gameID string) error
}

type Config struct {
	Games    GameStore
	EventBus *event.Bus

	// Now and NewID are overridable for deterministic tests.
	Now   func() time.Time
	NewID func() (string, error)
}

// Manager owns the session state machine. It is the only component that
// mutates session state or advances position; all state-changing calls on the
// same session are serialized by a per-session lock, and Start calls on the
// same game by a striped per-game lock. Calls on different sessions never
// block each other.
type Manager struct {
	games GameStore
	eb    *event.Bus
	now   func() time.Time
	newID func() (string, error)

	mu       sync.RWMutex
	sessions map[string]*live

	startMu [gameLockStripes]sync.Mutex
}

const gameLockStripes = 64

type live struct {
	mu sync.RWMutex

	id        string
	gameID    string
	state     domain.SessionState
	position  int
	starts    []time.Time
	createdAt time.Time
	endedAt   time.Time
}

func NewManager(c Config) *Manager {
	m := &Manager{
		games:    c.Games,
		eb:       c.EventBus,
		now:      c.Now,
		newID:    c.NewID,
		sessions: make(map[string]*live),
	}

	if m.now == nil {
		m.now = time.Now
	}
	if m.newID == nil {
		m.newID = func() (string, error) {
			id, err := uuid.NewV7()
			if err != nil {
				return "", err
			}
			return id.String(), nil
		}
	}

	return m
}

// Start creates a new session for a game in the lobby state and marks the
// game's active-session pointer. Fails with ALREADY_ACTIVE while the game
// still points at a non-ended session.
func (m *Manager) Start(ctx context.Context, gameID string) (string, error) {
	lock := &m.startMu[stripe(gameID)]
	lock.Lock()
	defer lock.Unlock()

	g, err := m.games.GetGame(ctx, gameID)
	if err != nil {
		return "", err
	}

	if g.ActiveSession != "" {
		return "", errors.New(errors.CodeAlreadyExists,
			errors.WithReason(errors.ReasonAlreadyActive),
			errors.WithMessagef("game %s already has active session %s", gameID, g.ActiveSession),
		)
	}

	id, err := m.newID()
	if err != nil {
		return "", fmt.Errorf("session: generate id: %w", err)
	}

	if err := m.games.SetActiveSession(ctx, gameID, id); err != nil {
		return "", err
	}

	s := &live{
		id:        id,
		gameID:    gameID,
		state:     domain.StateLobby,
		position:  domain.PositionNotStarted,
		starts:    make([]time.Time, len(g.Questions)),
		createdAt: m.now(),
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	m.eb.Publish(ctx, domain.EventSessionStarted{Session: s.snapshot()})

	return id, nil
}

// Advance moves the session to its next question; from the lobby it begins
// the first question. Advancing past the last question ends the session and
// clears the game's active pointer.
func (m *Manager) Advance(ctx context.Context, sessionID string) error {
	s, err := m.lookup(sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == domain.StateEnded {
		return errSessionEnded(sessionID)
	}

	next := s.position + 1
	if next >= len(s.starts) {
		// Position moves past the last question so readers see the
		// exhausted value, not the last question's index.
		s.position = next
		return m.endLocked(ctx, s)
	}

	s.position = next
	s.state = domain.StateActive
	s.starts[next] = m.now()

	m.eb.Publish(ctx, domain.EventSessionAdvanced{Session: s.snapshotLocked()})
	return nil
}

// End force-ends a session regardless of position. Ending an already-ended
// session is an error, deliberately not idempotent so client bugs surface.
func (m *Manager) End(ctx context.Context, sessionID string) error {
	s, err := m.lookup(sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == domain.StateEnded {
		return errSessionEnded(sessionID)
	}

	return m.endLocked(ctx, s)
}

// endLocked transitions to ended and clears the owning game's pointer.
// Callers hold s.mu.
func (m *Manager) endLocked(ctx context.Context, s *live) error {
	if err := m.games.ClearActiveSession(ctx, s.gameID); err != nil {
		return err
	}

	s.state = domain.StateEnded
	s.endedAt = m.now()

	m.eb.Publish(ctx, domain.EventSessionEnded{Session: s.snapshotLocked()})
	return nil
}

// Status is the read side of the state machine: session state, position,
// remaining seconds and the current question. The question's correctness
// flags must only be shown to clients once Revealed is true.
type Status struct {
	SessionID        string
	GameID           string
	State            domain.SessionState
	Position         int
	RemainingSeconds int
	QuestionStartAt  time.Time
	Question         *domain.Question
	Revealed         bool
}

// Status returns a read-only snapshot of the session. It never blocks on
// in-flight Advance calls beyond the brief state copy; pollers re-poll.
func (m *Manager) Status(ctx context.Context, sessionID string) (Status, error) {
	s, err := m.lookup(sessionID)
	if err != nil {
		return Status{}, err
	}

	s.mu.RLock()
	st := Status{
		SessionID: s.id,
		GameID:    s.gameID,
		State:     s.state,
		Position:  s.position,
	}
	if s.position >= 0 && s.position < len(s.starts) {
		st.QuestionStartAt = s.starts[s.position]
	}
	s.mu.RUnlock()

	if st.Position == domain.PositionNotStarted {
		return st, nil
	}

	g, err := m.games.GetGame(ctx, st.GameID)
	if err != nil {
		return Status{}, err
	}
	if st.Position >= len(g.Questions) {
		return st, nil
	}

	q := g.Questions[st.Position]
	st.Question = &q

	if st.State == domain.StateEnded {
		st.RemainingSeconds = 0
	} else {
		st.RemainingSeconds = Remaining(st.QuestionStartAt, q.Duration, m.now())
	}
	st.Revealed = st.RemainingSeconds <= 0

	return st, nil
}

// Current returns the question submissions are validated against.
func (m *Manager) Current(ctx context.Context, sessionID string) (domain.CurrentQuestion, error) {
	s, err := m.lookup(sessionID)
	if err != nil {
		return domain.CurrentQuestion{}, err
	}

	s.mu.RLock()
	state, pos, gameID := s.state, s.position, s.gameID
	var start time.Time
	if pos >= 0 && pos < len(s.starts) {
		start = s.starts[pos]
	}
	s.mu.RUnlock()

	cur := domain.CurrentQuestion{
		State:     state,
		Position:  pos,
		StartedAt: start,
	}

	if pos < 0 {
		return cur, nil
	}

	g, err := m.games.GetGame(ctx, gameID)
	if err != nil {
		return domain.CurrentQuestion{}, err
	}
	if pos < len(g.Questions) {
		cur.Question = g.Questions[pos]
	}

	return cur, nil
}

// Snapshot returns the full per-question timing view used by the results
// aggregator and the archiver.
func (m *Manager) Snapshot(sessionID string) (domain.SessionSnapshot, error) {
	s, err := m.lookup(sessionID)
	if err != nil {
		return domain.SessionSnapshot{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked(), nil
}

// StateOf reports the lifecycle state of a session.
func (m *Manager) StateOf(sessionID string) (domain.SessionState, error) {
	s, err := m.lookup(sessionID)
	if err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state, nil
}

func (m *Manager) lookup(sessionID string) (*live, error) {
	m.mu.RLock()
	s, ok := m.sessions[sessionID]
	m.mu.RUnlock()

	if !ok {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("session not found: %s", sessionID))
	}
	return s, nil
}

func (s *live) snapshot() domain.SessionSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *live) snapshotLocked() domain.SessionSnapshot {
	starts := make([]time.Time, len(s.starts))
	copy(starts, s.starts)

	return domain.SessionSnapshot{
		SessionID:      s.id,
		GameID:         s.gameID,
		State:          s.state,
		Position:       s.position,
		QuestionStarts: starts,
		CreatedAt:      s.createdAt,
		EndedAt:        s.endedAt,
	}
}

func errSessionEnded(sessionID string) error {
	return errors.New(errors.CodeFailedPrecondition,
		errors.WithReason(errors.ReasonSessionEnded),
		errors.WithMessagef("session already ended: %s", sessionID),
	)
}

func stripe(key string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return h.Sum32() % gameLockStripes
}
