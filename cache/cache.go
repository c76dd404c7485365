// Package cache holds the per-user hot state: the parsed stream tree and
// the accesses resolved by token. Entries are invalidated on mutation, and
// invalidations are broadcast to the other nodes over redis pub/sub.
package cache

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"open-pryv.io/core/common"
	"open-pryv.io/core/model"
	"open-pryv.io/core/streams"
)

// InvalidationChannel carries cross-node invalidation broadcasts.
const InvalidationChannel = "pryv:cache-invalidate"

type invalidation struct {
	Instance string `json:"instance"`
	Username string `json:"username"`
}

type userEntry struct {
	tree     *streams.Tree
	accesses map[string]*model.Access // keyed by token
}

// Cache is safe for concurrent use. A nil redis client degrades to
// process-local caching with no cross-node invalidation.
type Cache struct {
	mu         sync.RWMutex
	users      map[string]*userEntry
	redis      *redis.Client
	instanceID string
	log        *logrus.Entry
}

// New builds a cache backed by the given redis client (may be nil).
func New(client *redis.Client) *Cache {
	return &Cache{
		users:      make(map[string]*userEntry),
		redis:      client,
		instanceID: uuid.New().String(),
		log:        common.Logger.WithField("component", "cache"),
	}
}

func (c *Cache) entry(username string) *userEntry {
	e, ok := c.users[username]
	if !ok {
		e = &userEntry{accesses: make(map[string]*model.Access)}
		c.users[username] = e
	}
	return e
}

// Tree returns the cached stream tree for the user, if present.
func (c *Cache) Tree(username string) (*streams.Tree, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.users[username]
	if !ok || e.tree == nil {
		return nil, false
	}
	return e.tree, true
}

// SetTree caches the user's stream tree.
func (c *Cache) SetTree(username string, tree *streams.Tree) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entry(username).tree = tree
}

// AccessByToken returns the cached access for a token, if present.
func (c *Cache) AccessByToken(username, token string) (*model.Access, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.users[username]
	if !ok {
		return nil, false
	}
	a, ok := e.accesses[token]
	return a, ok
}

// SetAccess caches an access under its token.
func (c *Cache) SetAccess(username string, access *model.Access) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entry(username).accesses[access.Token] = access
}

// InvalidateUser drops all cached state for the user and broadcasts the
// invalidation to the other nodes.
func (c *Cache) InvalidateUser(ctx context.Context, username string) {
	c.dropUser(username)
	if c.redis == nil {
		return
	}
	payload, err := json.Marshal(invalidation{Instance: c.instanceID, Username: username})
	if err != nil {
		return
	}
	if err := c.redis.Publish(ctx, InvalidationChannel, payload).Err(); err != nil {
		c.log.WithError(err).Warn("invalidation broadcast failed")
	}
}

func (c *Cache) dropUser(username string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.users, username)
}

// Listen consumes invalidation broadcasts from the other nodes until the
// context is cancelled. No-op without a redis client.
func (c *Cache) Listen(ctx context.Context) error {
	if c.redis == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	sub := c.redis.Subscribe(ctx, InvalidationChannel)
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var inv invalidation
			if err := json.Unmarshal([]byte(m.Payload), &inv); err != nil {
				continue
			}
			if inv.Instance == c.instanceID {
				continue
			}
			c.dropUser(inv.Username)
		}
	}
}
