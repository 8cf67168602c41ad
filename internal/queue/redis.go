package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps due times in a sorted set and task bodies in a hash.
// A task belongs to whichever caller's ZREM removes it from the set.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisClient parses redisURL and verifies connectivity.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// NewRedisStore creates a store. Keys are namespaced under prefix.
func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "contentpilot"
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) dueKey() string  { return s.prefix + ":tasks:due" }
func (s *RedisStore) dataKey() string { return s.prefix + ":tasks:data" }
func (s *RedisStore) deadKey() string { return s.prefix + ":tasks:dead" }

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}

func (s *RedisStore) Push(ctx context.Context, t Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encoding task: %w", err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.dataKey(), t.ID, data)
		pipe.ZAdd(ctx, s.dueKey(), redis.Z{Score: score(t.RunAt), Member: t.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("pushing task %s: %w", t.ID, err)
	}
	return nil
}

func (s *RedisStore) ClaimDue(ctx context.Context, now time.Time, n int) ([]Task, error) {
	ids, err := s.rdb.ZRangeByScore(ctx, s.dueKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(n),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("listing due tasks: %w", err)
	}

	var tasks []Task
	for _, id := range ids {
		removed, err := s.rdb.ZRem(ctx, s.dueKey(), id).Result()
		if err != nil {
			return tasks, fmt.Errorf("claiming task %s: %w", id, err)
		}
		if removed != 1 {
			continue // another worker got it
		}
		raw, err := s.rdb.HGet(ctx, s.dataKey(), id).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return tasks, fmt.Errorf("loading task %s: %w", id, err)
		}
		var t Task
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			return tasks, fmt.Errorf("decoding task %s: %w", id, err)
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func (s *RedisStore) Complete(ctx context.Context, t Task) error {
	return s.rdb.HDel(ctx, s.dataKey(), t.ID).Err()
}

func (s *RedisStore) Retry(ctx context.Context, t Task, runAt time.Time, cause error) error {
	t.RunAt = runAt.UTC()
	t.LastError = errString(cause)
	return s.Push(ctx, t)
}

func (s *RedisStore) Bury(ctx context.Context, t Task, cause error) error {
	t.LastError = errString(cause)
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encoding task: %w", err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, s.dataKey(), t.ID)
		pipe.HSet(ctx, s.deadKey(), t.ID, data)
		return nil
	})
	return err
}

// Dead returns the buried tasks.
func (s *RedisStore) Dead(ctx context.Context) ([]Task, error) {
	all, err := s.rdb.HGetAll(ctx, s.deadKey()).Result()
	if err != nil {
		return nil, err
	}
	tasks := make([]Task, 0, len(all))
	for _, raw := range all {
		var t Task
		if json.Unmarshal([]byte(raw), &t) == nil {
			tasks = append(tasks, t)
		}
	}
	return tasks, nil
}
