package aggregate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/soctower/soctower/internal/vendors"
)

// ListCache is a short-TTL Redis cache of each integration's normalized
// incident list, keyed by integration and query window. It shaves repeated
// vendor round-trips when several dashboard views hit the same window in
// quick succession. A nil ListCache is valid and always misses; Redis errors
// degrade to a miss, never to a failed request.
type ListCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewListCache builds a list cache with the given entry TTL.
func NewListCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *ListCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ListCache{client: client, ttl: ttl, logger: logger}
}

func listCacheKey(integrationID string, window vendors.TimeRange) string {
	return fmt.Sprintf("soctower:incidents:%s:%d:%d", integrationID, window.FromMs, window.ToMs)
}

// Get returns the cached rows for an integration window, if present.
func (c *ListCache) Get(ctx context.Context, integrationID string, window vendors.TimeRange) ([]builtRow, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	data, err := c.client.Get(ctx, listCacheKey(integrationID, window)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Debug("list cache read failed",
				zap.String("integration", integrationID),
				zap.Error(err))
		}
		return nil, false
	}
	var rows []builtRow
	if err := json.Unmarshal(data, &rows); err != nil {
		c.logger.Warn("discarding corrupt list cache entry",
			zap.String("integration", integrationID),
			zap.Error(err))
		return nil, false
	}
	return rows, true
}

// Set stores an integration's rows for the window.
func (c *ListCache) Set(ctx context.Context, integrationID string, window vendors.TimeRange, rows []builtRow) {
	if c == nil || c.client == nil {
		return
	}
	data, err := json.Marshal(rows)
	if err != nil {
		c.logger.Warn("list cache encode failed",
			zap.String("integration", integrationID),
			zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, listCacheKey(integrationID, window), data, c.ttl).Err(); err != nil {
		c.logger.Debug("list cache write failed",
			zap.String("integration", integrationID),
			zap.Error(err))
	}
}
