package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRecorder keeps the newest entries in a capped Redis list.
type RedisRecorder struct {
	redis      *redis.Client
	key        string
	maxEntries int
	ttl        time.Duration
}

// NewRedisRecorder wraps an existing client. ttl of zero disables expiry.
func NewRedisRecorder(client *redis.Client, key string, maxEntries int, ttl time.Duration) *RedisRecorder {
	if maxEntries <= 0 {
		maxEntries = 200
	}
	return &RedisRecorder{
		redis:      client,
		key:        key,
		maxEntries: maxEntries,
		ttl:        ttl,
	}
}

// DialRedis connects to addr and checks the connection.
func DialRedis(ctx context.Context, addr string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}

// Record implements Recorder.
func (r *RedisRecorder) Record(ctx context.Context, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode history entry: %w", err)
	}
	_, err = r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, r.key, data)
		pipe.LTrim(ctx, r.key, 0, int64(r.maxEntries-1))
		if r.ttl > 0 {
			pipe.Expire(ctx, r.key, r.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("record session %s: %w", e.ID, err)
	}
	return nil
}

// Recent implements Recorder. Entries that fail to decode are skipped.
func (r *RedisRecorder) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 || limit > r.maxEntries {
		limit = r.maxEntries
	}
	raw, err := r.redis.LRange(ctx, r.key, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	entries := make([]Entry, 0, len(raw))
	for _, item := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Close closes the underlying client.
func (r *RedisRecorder) Close() error {
	return r.redis.Close()
}
