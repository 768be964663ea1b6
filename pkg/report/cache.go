package report

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/synaptica-ai/pretriage/pkg/common/logger"
	"github.com/synaptica-ai/pretriage/pkg/common/models"
)

// Cache holds finished reports keyed by session. A miss is nil, nil.
type Cache interface {
	Get(ctx context.Context, sessionID uuid.UUID) (*models.AIReport, error)
	Set(ctx context.Context, report models.AIReport) error
	Invalidate(ctx context.Context, sessionID uuid.UUID) error
}

const cacheKeyPrefix = "pretriage:report:"

// RedisCache is a read-through cache in front of the report store. A nil
// *RedisCache behaves as an always-empty cache.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if client == nil {
		return nil
	}
	return &RedisCache{client: client, ttl: ttl}
}

func cacheKey(sessionID uuid.UUID) string {
	return cacheKeyPrefix + sessionID.String()
}

func (c *RedisCache) Get(ctx context.Context, sessionID uuid.UUID) (*models.AIReport, error) {
	if c == nil {
		return nil, nil
	}
	data, err := c.client.Get(ctx, cacheKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var report models.AIReport
	if err := json.Unmarshal(data, &report); err != nil {
		logger.ForSession(sessionID.String(), "report.cache_get").WithError(err).Warn("dropping undecodable cached report")
		_ = c.client.Del(ctx, cacheKey(sessionID)).Err()
		return nil, nil
	}
	return &report, nil
}

func (c *RedisCache) Set(ctx context.Context, report models.AIReport) error {
	if c == nil {
		return nil
	}
	data, err := json.Marshal(report)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, cacheKey(report.SessionID), data, c.ttl).Err()
}

func (c *RedisCache) Invalidate(ctx context.Context, sessionID uuid.UUID) error {
	if c == nil {
		return nil
	}
	return c.client.Del(ctx, cacheKey(sessionID)).Err()
}
