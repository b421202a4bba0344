package api_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/openquiz/bigbrain/internal/api"
	"github.com/openquiz/bigbrain/internal/domain"
	"github.com/openquiz/bigbrain/internal/event"
)

type stubLeaderboards struct {
	calls int
	board domain.Leaderboard
}

func (s *stubLeaderboards) Leaderboard(_ context.Context, sessionID string) (domain.Leaderboard, error) {
	s.calls++
	l := s.board
	l.SessionID = sessionID
	return l, nil
}

func makeNotifier(t *testing.T, opts ...notifierOption) (*api.Notifier, redis.UniversalClient, *stubLeaderboards) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	require.NoError(t, rc.Ping(ctx).Err(), "should be able to ping redis")

	boards := &stubLeaderboards{board: domain.Leaderboard{
		Entries: []domain.LeaderboardEntry{
			{PlayerID: "p1", Name: "alice", Score: 9},
			{PlayerID: "p2", Name: "bob", Score: 5},
		},
	}}

	c := api.NotifierConfig{
		EventBus: event.NewBus(),
		Results:  boards,
		Redis:    rc,
		Prefix:   "bigbrain",
	}
	for _, opt := range opts {
		opt(&c)
	}

	return api.NewNotifier(c), rc, boards
}

type notifierOption func(c *api.NotifierConfig)

func withEventBus(eb *event.Bus) notifierOption {
	return func(c *api.NotifierConfig) {
		c.EventBus = eb
	}
}

func withPublishInterval(d time.Duration) notifierOption {
	return func(c *api.NotifierConfig) {
		c.PublishInterval = d
	}
}

func subscribe(t *testing.T, rc redis.UniversalClient, channel string) <-chan *redis.Message {
	t.Helper()

	ctx := context.Background()
	ps := rc.Subscribe(ctx, channel)
	t.Cleanup(func() { ps.Close() })

	// Wait for the subscription to be established before publishing.
	_, err := ps.Receive(ctx)
	require.NoError(t, err)

	return ps.Channel()
}

func receive(t *testing.T, ch <-chan *redis.Message) api.Notification {
	t.Helper()

	select {
	case msg := <-ch:
		var n api.Notification
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &n))
		return n
	case <-time.After(time.Second):
		t.Fatal("no notification received")
		return api.Notification{}
	}
}

func TestNotifier_PublishLeaderboard(t *testing.T) {
	n, rc, _ := makeNotifier(t)

	sessionCh := subscribe(t, rc, "bigbrain:session:s1")
	playerCh := subscribe(t, rc, "bigbrain:player:p1")

	require.NoError(t, n.PublishLeaderboard(context.Background(), "s1"))

	got := receive(t, sessionCh)
	require.Equal(t, "leaderboard.updated", got.Event)

	b, err := json.Marshal(got.Data)
	require.NoError(t, err)
	var data api.LeaderboardData
	require.NoError(t, json.Unmarshal(b, &data))
	require.Equal(t, "s1", data.SessionID)
	require.Equal(t, []api.LeaderboardEntryData{
		{PlayerID: "p1", Name: "alice", Score: 9},
		{PlayerID: "p2", Name: "bob", Score: 5},
	}, data.Entries)

	got = receive(t, playerCh)
	require.Equal(t, "leaderboard.updated", got.Event,
		"each ranked player gets the update on their private channel")
}

func TestNotifier_ThrottleCollapsesBursts(t *testing.T) {
	n, _, boards := makeNotifier(t, withPublishInterval(time.Minute))

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		require.NoError(t, n.PublishLeaderboard(ctx, "s1"))
	}

	require.Equal(t, 1, boards.calls,
		"a burst within the publish interval produces one notification")
}

func TestNotifier_ThrottleIsPerSession(t *testing.T) {
	n, _, boards := makeNotifier(t, withPublishInterval(time.Minute))

	ctx := context.Background()
	require.NoError(t, n.PublishLeaderboard(ctx, "s1"))
	require.NoError(t, n.PublishLeaderboard(ctx, "s2"))

	require.Equal(t, 2, boards.calls)
}

func TestNotifier_SessionEventsPublishImmediately(t *testing.T) {
	eb := event.NewBus()
	_, rc, _ := makeNotifier(t, withEventBus(eb))

	ch := subscribe(t, rc, "bigbrain:session:s1")

	snap := domain.SessionSnapshot{
		SessionID: "s1",
		GameID:    "g1",
		State:     domain.StateActive,
		Position:  2,
	}
	eb.Publish(context.Background(), domain.EventSessionAdvanced{Session: snap})
	eb.Stop()

	got := receive(t, ch)
	require.Equal(t, domain.EventNameSessionAdvanced, got.Event)

	b, err := json.Marshal(got.Data)
	require.NoError(t, err)
	var data api.SessionData
	require.NoError(t, json.Unmarshal(b, &data))
	require.Equal(t, "s1", data.SessionID)
	require.Equal(t, "active", data.State)
	require.Equal(t, 2, data.Position)
}

func TestNotifier_AnswerAcceptedTriggersLeaderboard(t *testing.T) {
	eb := event.NewBus()
	_, rc, _ := makeNotifier(t, withEventBus(eb))

	ch := subscribe(t, rc, "bigbrain:session:s1")

	eb.Publish(context.Background(), domain.EventAnswerAccepted{
		SessionID:  "s1",
		PlayerID:   "p1",
		QuestionID: 1,
	})
	eb.Stop()

	got := receive(t, ch)
	require.Equal(t, "leaderboard.updated", got.Event)
}
