package game

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/openquiz/bigbrain/internal/domain"
)

// Cache is a read-through decorator over a Repository. Session operations
// load the game on every call (the engine keeps no long-lived copy of game
// state), so hot games would otherwise hammer the store once players start
// polling. Concurrent misses for the same game collapse into one load.
//
// Pointer writes go straight through and drop the cached entry, keeping the
// active-session pointer as fresh as the store's.
type Cache struct {
	next  Repository
	ttl   time.Duration
	clock func() time.Time
	sf    singleflight.Group

	mu      sync.RWMutex
	entries map[string]cachedGame
}

type cachedGame struct {
	game      domain.Game
	expiresAt time.Time
}

func NewCache(next Repository, ttl time.Duration) *Cache {
	return &Cache{
		next:    next,
		ttl:     ttl,
		clock:   time.Now,
		entries: make(map[string]cachedGame),
	}
}

func (c *Cache) GetGame(ctx context.Context, gameID string) (domain.Game, error) {
	now := c.clock()

	c.mu.RLock()
	if e, ok := c.entries[gameID]; ok && e.expiresAt.After(now) {
		c.mu.RUnlock()
		return e.game, nil
	}
	c.mu.RUnlock()

	result, err, _ := c.sf.Do(gameID, func() (any, error) {
		g, err := c.next.GetGame(ctx, gameID)
		if err != nil {
			return domain.Game{}, err
		}

		c.mu.Lock()
		c.entries[gameID] = cachedGame{game: g, expiresAt: c.clock().Add(c.ttl)}
		c.mu.Unlock()
		return g, nil
	})
	if err != nil {
		return domain.Game{}, err
	}
	return result.(domain.Game), nil
}

func (c *Cache) SetActiveSession(ctx context.Context, gameID, sessionID string) error {
	err := c.next.SetActiveSession(ctx, gameID, sessionID)
	c.invalidate(gameID)
	return err
}

func (c *Cache) ClearActiveSession(ctx context.Context, gameID string) error {
	err := c.next.ClearActiveSession(ctx, gameID)
	c.invalidate(gameID)
	return err
}

func (c *Cache) invalidate(gameID string) {
	c.mu.Lock()
	delete(c.entries, gameID)
	c.mu.Unlock()
}
