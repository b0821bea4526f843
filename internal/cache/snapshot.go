// Package cache provides the Redis-backed snapshot cache and a small
// in-process LRU for recent decisions.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/gouthelper-server/internal/domain"
)

// SnapshotCache caches materialized patient snapshots in Redis. It
// implements domain.SnapshotCache. A cache failure is never allowed to
// fail the evaluation; misses are returned instead.
type SnapshotCache struct {
	redis      *redis.Client
	defaultTTL time.Duration
	log        *logrus.Logger
}

// cachedSnapshot wraps a snapshot with its cache metadata.
type cachedSnapshot struct {
	Snapshot  *domain.PatientSnapshot `json:"snapshot"`
	CachedAt  time.Time               `json:"cached_at"`
	ExpiresAt time.Time               `json:"expires_at"`
}

// NewSnapshotCache connects to Redis and verifies the connection.
func NewSnapshotCache(config domain.CacheConfig, logger *logrus.Logger) (*SnapshotCache, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	opts.PoolSize = config.PoolSize

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &SnapshotCache{
		redis:      client,
		defaultTTL: config.DefaultTTL,
		log:        logger,
	}, nil
}

func snapshotKey(subjectID uuid.UUID) string {
	return "snapshot:subject:" + subjectID.String()
}

// Get returns the cached snapshot for a subject, or a miss.
func (c *SnapshotCache) Get(ctx context.Context, subjectID uuid.UUID) (*domain.PatientSnapshot, bool) {
	key := snapshotKey(subjectID)

	val, err := c.redis.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		c.log.WithError(err).WithField("subject_id", subjectID).Warn("Snapshot cache read failed")
		return nil, false
	}

	var cached cachedSnapshot
	if err := json.Unmarshal([]byte(val), &cached); err != nil {
		// Corrupted entries are dropped rather than surfaced.
		c.redis.Del(ctx, key)
		return nil, false
	}
	if time.Now().After(cached.ExpiresAt) {
		c.redis.Del(ctx, key)
		return nil, false
	}
	return cached.Snapshot, true
}

// Set caches a snapshot under the default TTL.
func (c *SnapshotCache) Set(ctx context.Context, snapshot *domain.PatientSnapshot) error {
	cached := cachedSnapshot{
		Snapshot:  snapshot,
		CachedAt:  time.Now(),
		ExpiresAt: time.Now().Add(c.defaultTTL),
	}

	jsonData, err := json.Marshal(cached)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return c.redis.Set(ctx, snapshotKey(snapshot.SubjectID), jsonData, c.defaultTTL).Err()
}

// Invalidate drops the cached snapshot after any write touching the
// subject's records.
func (c *SnapshotCache) Invalidate(ctx context.Context, subjectID uuid.UUID) error {
	return c.redis.Del(ctx, snapshotKey(subjectID)).Err()
}

// Ping checks if the Redis connection is alive.
func (c *SnapshotCache) Ping(ctx context.Context) error {
	return c.redis.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *SnapshotCache) Close() error {
	return c.redis.Close()
}
