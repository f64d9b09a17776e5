// Package redisstore keeps the persisted session credential and the
// session event channel in Redis.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/BuzzLyutic/taskstar/internal/model"
)

const keyPrefix = "taskstar:"

// Credentials stores one client's session under a fixed key.
type Credentials struct {
	rdb *redis.Client
	key string
	ttl time.Duration
}

// NewCredentials scopes storage to clientID. A zero ttl keeps the entry
// until it is deleted.
func NewCredentials(rdb *redis.Client, clientID string, ttl time.Duration) *Credentials {
	return &Credentials{
		rdb: rdb,
		key: keyPrefix + "credentials:" + clientID,
		ttl: ttl,
	}
}

func (c *Credentials) Load(ctx context.Context) (*model.Session, error) {
	raw, err := c.rdb.Get(ctx, c.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var s model.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Credentials) Save(ctx context.Context, s *model.Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, c.key, raw, c.ttl).Err()
}

func (c *Credentials) Delete(ctx context.Context) error {
	return c.rdb.Del(ctx, c.key).Err()
}
