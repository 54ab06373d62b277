package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gear_checkout/lifecycle"
	"gear_checkout/models"

	"github.com/redis/go-redis/v9"
)

const backlogKey = "gear:audit:backlog"

// RedisBacklog queues audit entries that could not be written to the
// database. New entries go on the left, the oldest is read from the right.
type RedisBacklog struct {
	rdb *redis.Client
}

var _ lifecycle.Backlog = (*RedisBacklog)(nil)

func NewRedisBacklog(rdb *redis.Client) *RedisBacklog { return &RedisBacklog{rdb: rdb} }

func (b *RedisBacklog) Push(ctx context.Context, entry models.Log) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return b.rdb.LPush(ctx, backlogKey, raw).Err()
}

// Drain peeks the oldest entry and only pops it after fn accepted it, so a
// crash between the two replays the entry instead of losing it.
func (b *RedisBacklog) Drain(ctx context.Context, fn func(models.Log) error) (int, error) {
	n := 0
	for {
		raw, err := b.rdb.LIndex(ctx, backlogKey, -1).Bytes()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		var entry models.Log
		if err := json.Unmarshal(raw, &entry); err != nil {
			// unreadable entries would block the queue forever
			_ = b.rdb.RPop(ctx, backlogKey).Err()
			return n, fmt.Errorf("decode backlog entry: %w", err)
		}
		if err := fn(entry); err != nil {
			return n, err
		}
		if err := b.rdb.RPop(ctx, backlogKey).Err(); err != nil {
			return n, err
		}
		n++
	}
}

func (b *RedisBacklog) Len(ctx context.Context) (int64, error) {
	return b.rdb.LLen(ctx, backlogKey).Result()
}
