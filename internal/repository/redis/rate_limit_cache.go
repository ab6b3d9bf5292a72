package redis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/NoraXie/echoid/internal/client"
	"github.com/NoraXie/echoid/internal/util"
)

const rateLimitPrefix = "ratelimit:"

// RateLimitCache implements fixed-window counters. The window starts with the
// first hit and is never extended by later hits.
type RateLimitCache struct {
	client *client.RedisClient
}

func NewRateLimitCache(client *client.RedisClient) *RateLimitCache {
	return &RateLimitCache{client: client}
}

// Allow counts one hit for identifier and reports whether it is within limit.
func (c *RateLimitCache) Allow(ctx context.Context, identifier string, limit int, period time.Duration) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	count, err := c.client.IncrWindow(ctx, rateLimitPrefix+identifier, period)
	if err != nil {
		util.Error("Failed to count rate limit hit",
			zap.String("identifier", identifier),
			zap.Duration("period", period),
			zap.Error(err))
		return false, fmt.Errorf("failed to count rate limit hit: %w", err)
	}

	allowed := count <= int64(limit)
	if !allowed {
		util.Debug("Rate limit exceeded",
			zap.String("identifier", identifier),
			zap.Int64("count", count),
			zap.Int("limit", limit))
	}
	return allowed, nil
}
