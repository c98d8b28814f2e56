package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Cache is a read-through Redis cache in front of a Lookup. Role
// listings are hit on every escalation and creation fan-out while the
// directory itself is near-static, so short TTLs buy a lot. Cache
// errors degrade to the underlying lookup.
type Cache struct {
	next   Lookup
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewCache creates a new directory cache
func NewCache(next Lookup, rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Cache {
	return &Cache{next: next, rdb: rdb, ttl: ttl, logger: logger}
}

// UserByID resolves a user, preferring the cache.
func (c *Cache) UserByID(ctx context.Context, id int64) (*User, error) {
	key := fmt.Sprintf("directory:user:%d", id)

	if data, err := c.rdb.Get(ctx, key).Bytes(); err == nil {
		var u User
		if err := json.Unmarshal(data, &u); err == nil {
			return &u, nil
		}
	}

	u, err := c.next.UserByID(ctx, id)
	if err != nil {
		return nil, err
	}

	c.set(ctx, key, u)
	return u, nil
}

// UsersWithRoles lists users by role, preferring the cache.
func (c *Cache) UsersWithRoles(ctx context.Context, roles []string) ([]User, error) {
	sorted := append([]string(nil), roles...)
	sort.Strings(sorted)
	key := "directory:roles:" + strings.Join(sorted, ",")

	if data, err := c.rdb.Get(ctx, key).Bytes(); err == nil {
		var users []User
		if err := json.Unmarshal(data, &users); err == nil {
			return users, nil
		}
	}

	users, err := c.next.UsersWithRoles(ctx, roles)
	if err != nil {
		return nil, err
	}

	c.set(ctx, key, users)
	return users, nil
}

func (c *Cache) set(ctx context.Context, key string, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Debug("directory cache write failed",
			zap.String("key", key),
			zap.Error(err))
	}
}
