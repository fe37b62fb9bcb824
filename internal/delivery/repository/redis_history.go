package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/courierlive/internal/delivery/domain"
)

const defaultHistoryPrefix = "trail:delivery:"

// RedisHistoryStore appends location samples to a Redis list per tracking ID.
// A TTL is attached so trails for finished deliveries age out on their own.
type RedisHistoryStore struct {
	client    redis.Cmdable
	keyPrefix string
	ttl       time.Duration
}

// NewRedisHistoryStore constructs the trail store.
func NewRedisHistoryStore(client redis.Cmdable, prefix string, ttl time.Duration) *RedisHistoryStore {
	if prefix == "" {
		prefix = defaultHistoryPrefix
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisHistoryStore{client: client, keyPrefix: prefix, ttl: ttl}
}

// Append pushes the sample onto the trail and refreshes the TTL.
func (r *RedisHistoryStore) Append(ctx context.Context, trackingID string, sample domain.LocationSample) error {
	payload, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("marshal sample: %w", err)
	}
	key := r.keyPrefix + trackingID
	if err := r.client.RPush(ctx, key, payload).Err(); err != nil {
		return fmt.Errorf("redis rpush: %w", err)
	}
	if err := r.client.Expire(ctx, key, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis expire: %w", err)
	}
	return nil
}

// Trail returns up to limit most recent samples, oldest first.
func (r *RedisHistoryStore) Trail(ctx context.Context, trackingID string, limit int) ([]domain.LocationSample, error) {
	if limit <= 0 {
		limit = 100
	}
	key := r.keyPrefix + trackingID
	raw, err := r.client.LRange(ctx, key, int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange: %w", err)
	}
	samples := make([]domain.LocationSample, 0, len(raw))
	for _, item := range raw {
		var sample domain.LocationSample
		if err := json.Unmarshal([]byte(item), &sample); err != nil {
			return nil, fmt.Errorf("unmarshal sample: %w", err)
		}
		samples = append(samples, sample)
	}
	return samples, nil
}
