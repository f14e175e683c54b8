package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisJobPrefix    = "dispatch:job:"
	redisActiveSet    = "dispatch:active"
	redisCompletedSet = "dispatch:completed"
	redisFailedSet    = "dispatch:failed"
)

// RedisRegistry keeps job identities in Redis so every producer replica and
// worker process shares them.
type RedisRegistry struct {
	client    *redis.Client
	retention Retention
}

// NewRedisRegistry connects to url and pings it.
func NewRedisRegistry(ctx context.Context, url string, r Retention) (*RedisRegistry, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisRegistry{client: client, retention: r}, nil
}

func jobKey(key string) string { return redisJobPrefix + key }

func (r *RedisRegistry) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, jobKey(key), StateQueued, r.retention.InFlight).Result()
	if err != nil {
		return false, fmt.Errorf("redis SetNX failed: %w", err)
	}
	return ok, nil
}

func (r *RedisRegistry) SetState(ctx context.Context, key, state string) error {
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, jobKey(key), state, r.retention.InFlight)
	if state == StateActive {
		pipe.SAdd(ctx, redisActiveSet, key)
	} else {
		pipe.SRem(ctx, redisActiveSet, key)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisRegistry) Complete(ctx context.Context, key string) error {
	return r.settle(ctx, key, StateCompleted, redisCompletedSet, r.retention.Completed)
}

func (r *RedisRegistry) Fail(ctx context.Context, key string) error {
	return r.settle(ctx, key, StateFailed, redisFailedSet, r.retention.Failed)
}

func (r *RedisRegistry) settle(ctx context.Context, key, state, set string, ttl time.Duration) error {
	now := float64(time.Now().Unix())
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, jobKey(key), state, ttl)
	pipe.SRem(ctx, redisActiveSet, key)
	pipe.ZAdd(ctx, set, redis.Z{Score: now, Member: key})
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisRegistry) Release(ctx context.Context, key string) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, jobKey(key))
	pipe.SRem(ctx, redisActiveSet, key)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisRegistry) Counts(ctx context.Context) (active, completed, failed int64, err error) {
	pipe := r.client.Pipeline()
	a := pipe.SCard(ctx, redisActiveSet)
	c := pipe.ZCard(ctx, redisCompletedSet)
	f := pipe.ZCard(ctx, redisFailedSet)
	if _, err = pipe.Exec(ctx); err != nil {
		return 0, 0, 0, err
	}
	return a.Val(), c.Val(), f.Val(), nil
}

// Purge drops settled ids older than their retention window, and completed
// ids beyond the most recent CompletedKeep together with their job keys.
func (r *RedisRegistry) Purge(ctx context.Context) error {
	now := time.Now()
	var stale []string
	if keep := r.retention.CompletedKeep; keep > 0 {
		var err error
		stale, err = r.client.ZRange(ctx, redisCompletedSet, 0, -(keep + 1)).Result()
		if err != nil {
			return err
		}
	}

	pipe := r.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisCompletedSet, "-inf", cutoff(now, r.retention.Completed))
	pipe.ZRemRangeByScore(ctx, redisFailedSet, "-inf", cutoff(now, r.retention.Failed))
	if len(stale) > 0 {
		members := make([]any, len(stale))
		keys := make([]string, len(stale))
		for i, k := range stale {
			members[i] = k
			keys[i] = jobKey(k)
		}
		pipe.ZRem(ctx, redisCompletedSet, members...)
		pipe.Del(ctx, keys...)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisRegistry) Close() error {
	return r.client.Close()
}

func cutoff(now time.Time, window time.Duration) string {
	return "(" + strconv.FormatInt(now.Add(-window).Unix(), 10)
}

var _ Registry = (*RedisRegistry)(nil)
