package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/openquiz/bigbrain/internal/domain"
	"github.com/openquiz/bigbrain/internal/event"
)

const (
	defaultPublishInterval = 200 * time.Millisecond
	maxConcurrentPublish   = 100
)

// Redis is the subset of the client the notifier uses.
type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
}

// Leaderboards is the slice of the results aggregator the notifier needs.
type Leaderboards interface {
	Leaderboard(ctx context.Context, sessionID string) (domain.Leaderboard, error)
}

type NotifierConfig struct {
	EventBus *event.Bus
	Results  Leaderboards
	Redis    Redis
	Prefix   string

	// PublishInterval collapses bursts of accepted answers into at most one
	// leaderboard notification per session per interval.
	PublishInterval time.Duration
}

// Notifier pushes best-effort notifications to Redis pub/sub when session
// state or the leaderboard changes. Polling stays the delivery contract;
// these channels only feed dashboards that want lower latency.
type Notifier struct {
	results  Leaderboards
	redis    Redis
	prefix   string
	interval time.Duration
}

type Notification struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type LeaderboardData struct {
	SessionID string                 `json:"session_id"`
	Entries   []LeaderboardEntryData `json:"entries"`
}

type LeaderboardEntryData struct {
	PlayerID string `json:"player_id"`
	Name     string `json:"name"`
	Score    int    `json:"score"`
}

type SessionData struct {
	SessionID string `json:"session_id"`
	State     string `json:"state"`
	Position  int    `json:"position"`
}

func NewNotifier(c NotifierConfig) *Notifier {
	n := &Notifier{
		results:  c.Results,
		redis:    c.Redis,
		prefix:   c.Prefix,
		interval: c.PublishInterval,
	}

	if n.interval <= 0 {
		n.interval = defaultPublishInterval
	}

	c.EventBus.Subscribe(domain.EventNameAnswerAccepted, func(ctx context.Context, e event.Event) error {
		return n.PublishLeaderboard(ctx, e.(domain.EventAnswerAccepted).SessionID)
	})
	c.EventBus.Subscribe(domain.EventNameSessionAdvanced, func(ctx context.Context, e event.Event) error {
		return n.publishSession(ctx, e.(domain.EventSessionAdvanced).Session, domain.EventNameSessionAdvanced)
	})
	c.EventBus.Subscribe(domain.EventNameSessionEnded, func(ctx context.Context, e event.Event) error {
		return n.publishSession(ctx, e.(domain.EventSessionEnded).Session, domain.EventNameSessionEnded)
	})

	return n
}

// PublishLeaderboard recomputes a session's leaderboard and publishes it to
// the session channel and every player's private channel, at most once per
// publish interval. Many answers landing in a short burst therefore produce
// a single notification.
func (n *Notifier) PublishLeaderboard(ctx context.Context, sessionID string) error {
	ok, err := n.redis.SetNX(ctx, n.throttleKey(sessionID), time.Now().UnixMilli(), n.interval).Result()
	if err != nil {
		return fmt.Errorf("pubsub: setnx: %w", err)
	}
	if !ok {
		return nil
	}

	l, err := n.results.Leaderboard(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("pubsub: leaderboard: session=%s: %w", sessionID, err)
	}

	data := LeaderboardData{
		SessionID: l.SessionID,
		Entries:   make([]LeaderboardEntryData, 0, len(l.Entries)),
	}
	for _, e := range l.Entries {
		data.Entries = append(data.Entries, LeaderboardEntryData{
			PlayerID: e.PlayerID,
			Name:     e.Name,
			Score:    e.Score,
		})
	}

	var eg errgroup.Group
	eg.SetLimit(maxConcurrentPublish)

	eg.Go(func() error {
		return n.publish(ctx, n.sessionChannel(sessionID), "leaderboard.updated", data)
	})
	for _, e := range data.Entries {
		e := e
		eg.Go(func() error {
			return n.publish(ctx, n.playerChannel(e.PlayerID), "leaderboard.updated", data)
		})
	}

	return eg.Wait()
}

func (n *Notifier) publishSession(ctx context.Context, snap domain.SessionSnapshot, name string) error {
	return n.publish(ctx, n.sessionChannel(snap.SessionID), name, SessionData{
		SessionID: snap.SessionID,
		State:     snap.State.String(),
		Position:  snap.Position,
	})
}

func (n *Notifier) publish(ctx context.Context, channel, event string, data any) error {
	b, err := json.Marshal(Notification{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %w", event, err)
	}

	return n.redis.Publish(ctx, channel, b).Err()
}

func (n *Notifier) sessionChannel(sessionID string) string {
	return fmt.Sprintf("%s:session:%s", n.prefix, sessionID)
}

func (n *Notifier) playerChannel(playerID string) string {
	return fmt.Sprintf("%s:player:%s", n.prefix, playerID)
}

func (n *Notifier) throttleKey(sessionID string) string {
	return fmt.Sprintf("%s:session:%s:lb-publish", n.prefix, sessionID)
}
