package session_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openquiz/bigbrain/internal/domain"
	"github.com/openquiz/bigbrain/internal/errors"
	"github.com/openquiz/bigbrain/internal/event"
	"github.com/openquiz/bigbrain/internal/game"
	"github.com/openquiz/bigbrain/internal/session"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func testGame() domain.Game {
	return domain.Game{
		ID:    "g1",
		Owner: "owner@example.com",
		Name:  "General knowledge",
		Questions: []domain.Question{
			{
				ID:   1,
				Text: "What is 2 + 2?",
				Type: domain.Single,
				Answers: []domain.Answer{
					{Text: "4", Correct: true},
					{Text: "5"},
				},
				Duration: 30,
				Points:   10,
			},
			{
				ID:   2,
				Text: "Which are prime?",
				Type: domain.Multiple,
				Answers: []domain.Answer{
					{Text: "2", Correct: true},
					{Text: "4"},
					{Text: "5", Correct: true},
					{Text: "9"},
				},
				Duration: 20,
				Points:   20,
			},
			{
				ID:   3,
				Text: "The sky is blue.",
				Type: domain.Judgement,
				Answers: []domain.Answer{
					{Text: "True", Correct: true},
					{Text: "False"},
				},
				Duration: 10,
				Points:   5,
			},
		},
	}
}

func makeManager(t *testing.T, opts ...func(*session.Config)) (*session.Manager, *game.MemoryStore, *fakeClock) {
	t.Helper()

	store := game.NewMemoryStore()
	store.Put(testGame())

	clock := newFakeClock()

	var seq int32
	c := session.Config{
		Games:    store,
		EventBus: event.NewBus(),
		Now:      clock.Now,
		NewID: func() (string, error) {
			return fmt.Sprintf("session-%d", atomic.AddInt32(&seq, 1)), nil
		},
	}
	for _, opt := range opts {
		opt(&c)
	}

	return session.NewManager(c), store, clock
}

func TestManager_Start(t *testing.T) {
	ctx := context.Background()
	m, store, _ := makeManager(t)

	id, err := m.Start(ctx, "g1")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	g, err := store.GetGame(ctx, "g1")
	require.NoError(t, err)
	require.Equal(t, id, g.ActiveSession, "start must set the game's active pointer")

	st, err := m.Status(ctx, id)
	require.NoError(t, err)
	require.Equal(t, domain.StateLobby, st.State)
	require.Equal(t, domain.PositionNotStarted, st.Position)
	require.Nil(t, st.Question, "no current question before the first advance")
}

func TestManager_Start_AlreadyActive(t *testing.T) {
	ctx := context.Background()
	m, _, _ := makeManager(t)

	_, err := m.Start(ctx, "g1")
	require.NoError(t, err)

	_, err = m.Start(ctx, "g1")
	require.True(t, errors.HasReason(err, errors.ReasonAlreadyActive), "second start must fail: %v", err)
}

func TestManager_Start_UnknownGame(t *testing.T) {
	m, _, _ := makeManager(t)

	_, err := m.Start(context.Background(), "nope")
	require.True(t, errors.HasCode(err, errors.CodeNotFound))
}

func TestManager_Advance(t *testing.T) {
	ctx := context.Background()
	m, _, clock := makeManager(t)

	id, err := m.Start(ctx, "g1")
	require.NoError(t, err)

	require.NoError(t, m.Advance(ctx, id), "advance from lobby begins the first question")

	st, err := m.Status(ctx, id)
	require.NoError(t, err)
	require.Equal(t, domain.StateActive, st.State)
	require.Equal(t, 0, st.Position)
	require.NotNil(t, st.Question)
	require.Equal(t, 1, st.Question.ID)
	require.Equal(t, 30, st.RemainingSeconds)

	clock.Advance(12 * time.Second)
	st, err = m.Status(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 18, st.RemainingSeconds)

	require.NoError(t, m.Advance(ctx, id))
	st, err = m.Status(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 1, st.Position)
	require.Equal(t, 2, st.Question.ID)
	require.Equal(t, 20, st.RemainingSeconds, "clock restarts on each advance")
}

func TestManager_Advance_PastLastQuestionEnds(t *testing.T) {
	ctx := context.Background()
	m, store, _ := makeManager(t)

	id, err := m.Start(ctx, "g1")
	require.NoError(t, err)

	for range testGame().Questions {
		require.NoError(t, m.Advance(ctx, id))
	}

	// One more advance exhausts the question list.
	require.NoError(t, m.Advance(ctx, id))

	st, err := m.Status(ctx, id)
	require.NoError(t, err)
	require.Equal(t, domain.StateEnded, st.State)
	require.Equal(t, len(testGame().Questions), st.Position,
		"position moves past the last question on the exhausting advance")
	require.Nil(t, st.Question)

	snap, err := m.Snapshot(id)
	require.NoError(t, err)
	require.Equal(t, len(testGame().Questions), snap.Position)

	g, err := store.GetGame(ctx, "g1")
	require.NoError(t, err)
	require.Empty(t, g.ActiveSession, "ending must clear the game's active pointer")

	err = m.Advance(ctx, id)
	require.True(t, errors.HasReason(err, errors.ReasonSessionEnded))
}

func TestManager_Advance_EndedNeverMutates(t *testing.T) {
	ctx := context.Background()
	m, _, _ := makeManager(t)

	id, err := m.Start(ctx, "g1")
	require.NoError(t, err)
	require.NoError(t, m.Advance(ctx, id))
	require.NoError(t, m.End(ctx, id))

	before, err := m.Snapshot(id)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.Error(t, m.Advance(ctx, id))
	}

	after, err := m.Snapshot(id)
	require.NoError(t, err)
	require.Equal(t, before, after, "failed advances must leave state untouched")
}

func TestManager_End(t *testing.T) {
	ctx := context.Background()
	m, store, _ := makeManager(t)

	id, err := m.Start(ctx, "g1")
	require.NoError(t, err)
	require.NoError(t, m.Advance(ctx, id))

	require.NoError(t, m.End(ctx, id), "end works mid-game")

	g, err := store.GetGame(ctx, "g1")
	require.NoError(t, err)
	require.Empty(t, g.ActiveSession)

	err = m.End(ctx, id)
	require.True(t, errors.HasReason(err, errors.ReasonSessionEnded), "double end is an error, not a no-op")

	// The game can start a fresh session once the old one ended.
	id2, err := m.Start(ctx, "g1")
	require.NoError(t, err)
	require.NotEqual(t, id, id2)
}

func TestManager_End_UnknownSession(t *testing.T) {
	m, _, _ := makeManager(t)

	err := m.End(context.Background(), "nope")
	require.True(t, errors.HasCode(err, errors.CodeNotFound))
}

func TestManager_Status_RedactsUntilWindowCloses(t *testing.T) {
	ctx := context.Background()
	m, _, clock := makeManager(t)

	id, err := m.Start(ctx, "g1")
	require.NoError(t, err)
	require.NoError(t, m.Advance(ctx, id))

	st, err := m.Status(ctx, id)
	require.NoError(t, err)
	require.False(t, st.Revealed, "correctness must stay hidden while time remains")

	clock.Advance(30 * time.Second)
	st, err = m.Status(ctx, id)
	require.NoError(t, err)
	require.Zero(t, st.RemainingSeconds)
	require.True(t, st.Revealed)
}

func TestManager_Advance_ConcurrentCallsNeverSkip(t *testing.T) {
	ctx := context.Background()
	m, _, _ := makeManager(t)

	id, err := m.Start(ctx, "g1")
	require.NoError(t, err)

	// Two racing advances must land on consecutive positions, not skip one.
	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- m.Advance(ctx, id)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	st, err := m.Status(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 1, st.Position)
	require.Equal(t, domain.StateActive, st.State)
}

func TestManager_PositionMonotonic(t *testing.T) {
	ctx := context.Background()
	m, _, _ := makeManager(t)

	id, err := m.Start(ctx, "g1")
	require.NoError(t, err)

	last := domain.PositionNotStarted
	for i := 0; i < len(testGame().Questions)+2; i++ {
		_ = m.Advance(ctx, id)

		snap, err := m.Snapshot(id)
		require.NoError(t, err)
		require.GreaterOrEqual(t, snap.Position, last, "position must never decrease")
		last = snap.Position
	}
}

func TestManager_PublishesLifecycleEvents(t *testing.T) {
	ctx := context.Background()

	eb := event.NewBus()

	var mu sync.Mutex
	var got []string
	record := func(_ context.Context, e event.Event) error {
		mu.Lock()
		got = append(got, e.Name())
		mu.Unlock()
		return nil
	}
	eb.Subscribe(domain.EventNameSessionStarted, record)
	eb.Subscribe(domain.EventNameSessionAdvanced, record)
	eb.Subscribe(domain.EventNameSessionEnded, record)

	m, _, _ := makeManager(t, func(c *session.Config) { c.EventBus = eb })

	id, err := m.Start(ctx, "g1")
	require.NoError(t, err)
	require.NoError(t, m.Advance(ctx, id))
	require.NoError(t, m.End(ctx, id))

	eb.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.ElementsMatch(t, []string{
		domain.EventNameSessionStarted,
		domain.EventNameSessionAdvanced,
		domain.EventNameSessionEnded,
	}, got)
}
