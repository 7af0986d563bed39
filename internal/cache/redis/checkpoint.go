package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// Checkpoint stores a block cursor under checkpoint:{name}. It has no
// expiry.
type Checkpoint struct {
	c   *Client
	key string
}

// NewCheckpoint creates a Checkpoint for the named watcher.
func NewCheckpoint(c *Client, name string) *Checkpoint {
	return &Checkpoint{c: c, key: c.Key("checkpoint", name)}
}

// Load returns the saved block; ok is false when none was saved.
func (cp *Checkpoint) Load(ctx context.Context) (uint64, bool, error) {
	s, err := cp.c.rdb.Get(ctx, cp.key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("redis: load checkpoint %s: %w", cp.key, err)
	}
	block, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("redis: checkpoint %s holds %q: %w", cp.key, s, err)
	}
	return block, true, nil
}

// Save overwrites the cursor.
func (cp *Checkpoint) Save(ctx context.Context, block uint64) error {
	if err := cp.c.rdb.Set(ctx, cp.key, strconv.FormatUint(block, 10), 0).Err(); err != nil {
		return fmt.Errorf("redis: save checkpoint %s: %w", cp.key, err)
	}
	return nil
}
