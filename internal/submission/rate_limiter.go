package submission

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter caps submissions per learner in a fixed window
type RateLimiter struct {
	rdb    *redis.Client
	limit  int64
	window time.Duration
}

func NewRateLimiter(rdb *redis.Client, limit int, window time.Duration) *RateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{rdb: rdb, limit: int64(limit), window: window}
}

// Allow counts one submission for userID. When the limit is exceeded it
// returns false and how long until the window resets.
func (rl *RateLimiter) Allow(ctx context.Context, userID string) (bool, time.Duration, error) {
	if rl == nil || rl.rdb == nil || rl.limit <= 0 {
		return true, 0, nil
	}

	key := fmt.Sprintf("rate:submission:%s", userID)
	// SET NX EX creates the window with its TTL in the same transaction as the INCR
	var (
		incr *redis.IntCmd
		ttl  *redis.DurationCmd
	)
	_, err := rl.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SetNX(ctx, key, 0, rl.window)
		incr = pipe.Incr(ctx, key)
		ttl = pipe.TTL(ctx, key)
		return nil
	})
	if err != nil {
		return false, 0, fmt.Errorf("count rate key: %w", err)
	}
	remaining := ttl.Val()
	if remaining < 0 {
		// key survived without a TTL; never let it pin the learner
		if err := rl.rdb.Expire(ctx, key, rl.window).Err(); err != nil {
			return false, 0, fmt.Errorf("expire rate key: %w", err)
		}
		remaining = rl.window
	}
	if incr.Val() <= rl.limit {
		return true, 0, nil
	}
	return false, remaining, nil
}
