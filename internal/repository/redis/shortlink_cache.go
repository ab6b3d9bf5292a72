package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/NoraXie/echoid/internal/client"
	"github.com/NoraXie/echoid/internal/models"
	"github.com/NoraXie/echoid/internal/util"
)

const shortLinkPrefix = "short:"

// ShortLinkCache maps a slug to its {token, otp}. Entries are not removed on read.
type ShortLinkCache struct {
	client *client.RedisClient
}

func NewShortLinkCache(client *client.RedisClient) *ShortLinkCache {
	return &ShortLinkCache{client: client}
}

func (c *ShortLinkCache) SetShortLink(ctx context.Context, slug string, link models.ShortLink, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	data, err := json.Marshal(link)
	if err != nil {
		return fmt.Errorf("failed to encode short link: %w", err)
	}
	if err := c.client.Set(ctx, shortLinkPrefix+slug, data, ttl); err != nil {
		util.Error("Failed to store short link",
			zap.String("slug", slug),
			zap.Error(err))
		return fmt.Errorf("failed to store short link: %w", err)
	}
	return nil
}

// GetShortLink returns ErrShortLinkNotFound for unknown or expired slugs and a
// wrapped decode error for records that are not valid link JSON.
func (c *ShortLinkCache) GetShortLink(ctx context.Context, slug string) (*models.ShortLink, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	raw, err := c.client.Get(ctx, shortLinkPrefix+slug)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return nil, ErrShortLinkNotFound
		}
		util.Error("Failed to get short link",
			zap.String("slug", slug),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get short link: %w", err)
	}

	var link models.ShortLink
	if err := json.Unmarshal([]byte(raw), &link); err != nil {
		return nil, fmt.Errorf("failed to decode short link: %w", err)
	}
	return &link, nil
}
