package redis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/NoraXie/echoid/internal/client"
	"github.com/NoraXie/echoid/internal/util"
)

const lockPrefix = "lock:"

// IdempotencyCache records processed inbound message ids.
type IdempotencyCache struct {
	client *client.RedisClient
}

func NewIdempotencyCache(client *client.RedisClient) *IdempotencyCache {
	return &IdempotencyCache{client: client}
}

// Acquire claims messageID. It returns false when the id was already claimed.
func (c *IdempotencyCache) Acquire(ctx context.Context, messageID string, ttl time.Duration) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	acquired, err := c.client.SetNX(ctx, lockPrefix+messageID, "1", ttl)
	if err != nil {
		util.Error("Failed to acquire message lock",
			zap.String("message_id", messageID),
			zap.Error(err))
		return false, fmt.Errorf("failed to acquire message lock: %w", err)
	}
	return acquired, nil
}
