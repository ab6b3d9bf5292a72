package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/NoraXie/echoid/internal/client"
	"github.com/NoraXie/echoid/internal/util"
)

// TemplateCache manages one Redis set of reply templates.
type TemplateCache struct {
	client *client.RedisClient
	key    string
}

func NewTemplateCache(client *client.RedisClient, setKey string) *TemplateCache {
	return &TemplateCache{client: client, key: setKey}
}

func (c *TemplateCache) Key() string {
	return c.key
}

// Random returns one member chosen by Redis, or "" when the set is empty.
func (c *TemplateCache) Random(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tpl, err := c.client.SRandMember(ctx, c.key)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return "", nil
		}
		util.Error("Failed to pick template", zap.String("set", c.key), zap.Error(err))
		return "", fmt.Errorf("failed to pick template: %w", err)
	}
	return tpl, nil
}

// Add inserts templates and returns how many were new.
func (c *TemplateCache) Add(ctx context.Context, templates ...string) (int64, error) {
	if len(templates) == 0 {
		return 0, nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	members := make([]interface{}, len(templates))
	for i, tpl := range templates {
		members[i] = tpl
	}
	added, err := c.client.SAdd(ctx, c.key, members...)
	if err != nil {
		return 0, fmt.Errorf("failed to add templates: %w", err)
	}
	util.Info("Templates added", zap.String("set", c.key), zap.Int64("added", added))
	return added, nil
}

func (c *TemplateCache) Clear(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.client.Del(ctx, c.key); err != nil {
		return fmt.Errorf("failed to clear templates: %w", err)
	}
	util.Info("Templates cleared", zap.String("set", c.key))
	return nil
}

func (c *TemplateCache) Count(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	n, err := c.client.SCard(ctx, c.key)
	if err != nil {
		return 0, fmt.Errorf("failed to count templates: %w", err)
	}
	return n, nil
}
