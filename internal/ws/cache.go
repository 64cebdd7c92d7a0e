package ws

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	latestKeyPrefix  = "ws:latest:"
	defaultLatestTTL = 10 * time.Second
)

// LatestCache keeps the most recent event per camera in Redis so a
// freshly connected client sees current state before the next event
// arrives. Entries expire quickly; this is a snapshot, not history.
type LatestCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewLatestCache(rdb *redis.Client, ttl time.Duration) *LatestCache {
	if ttl <= 0 {
		ttl = defaultLatestTTL
	}
	return &LatestCache{rdb: rdb, ttl: ttl}
}

// Store remembers the latest event body for a camera.
func (c *LatestCache) Store(ctx context.Context, cameraName string, body []byte) error {
	if cameraName == "" {
		return nil
	}
	if err := c.rdb.Set(ctx, latestKeyPrefix+cameraName, body, c.ttl).Err(); err != nil {
		return fmt.Errorf("caching latest event for %q: %w", cameraName, err)
	}
	return nil
}

// Snapshot returns the latest unexpired event of every camera.
func (c *LatestCache) Snapshot(ctx context.Context) ([][]byte, error) {
	var (
		cursor uint64
		out    [][]byte
	)
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, latestKeyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scanning latest events: %w", err)
		}
		for _, key := range keys {
			body, err := c.rdb.Get(ctx, key).Bytes()
			if err == redis.Nil {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("reading latest event %q: %w", key, err)
			}
			out = append(out, body)
		}
		cursor = next
		if cursor == 0 {
			return out, nil
		}
	}
}
