package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/NoraXie/echoid/internal/client"
	"github.com/NoraXie/echoid/internal/models"
	"github.com/NoraXie/echoid/internal/util"
)

const (
	sessionPrefix = "session:"

	maxSessionTxAttempts = 3
)

// SessionCache stores verification sessions under session:<token>.
type SessionCache struct {
	client *client.RedisClient
}

func NewSessionCache(client *client.RedisClient) *SessionCache {
	return &SessionCache{client: client}
}

// Create writes a new session only if the token is free.
func (c *SessionCache) Create(ctx context.Context, session *models.VerificationSession, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	data, err := models.EncodeSession(session)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	created, err := c.client.SetNX(ctx, sessionPrefix+session.Token, data, ttl)
	if err != nil {
		util.Error("Failed to create session",
			util.Secret("token", session.Token),
			zap.Error(err))
		return fmt.Errorf("failed to create session: %w", err)
	}
	if !created {
		return ErrSessionExists
	}

	util.Debug("Session created",
		util.Secret("token", session.Token),
		zap.String("tenant_id", session.TenantID),
		zap.Duration("ttl", ttl))
	return nil
}

func (c *SessionCache) Get(ctx context.Context, token string) (*models.VerificationSession, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	raw, err := c.client.Get(ctx, sessionPrefix+token)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return nil, ErrSessionNotFound
		}
		util.Error("Failed to get session",
			util.Secret("token", token),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	session, err := models.DecodeSession(token, []byte(raw))
	if err != nil {
		util.Warn("Unreadable session record",
			util.Secret("token", token),
			zap.Error(err))
		return nil, err
	}
	return session, nil
}

// Exists reports whether a live session is stored for token.
func (c *SessionCache) Exists(ctx context.Context, token string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	exists, err := c.client.Exists(ctx, sessionPrefix+token)
	if err != nil {
		return false, fmt.Errorf("failed to check session: %w", err)
	}
	return exists, nil
}

// Update applies mutate to the stored session inside WATCH/MULTI and writes
// the result with ttl (non-positive keeps the current expiry). An error from
// mutate aborts without writing and is returned as is. mutate runs again on
// every retry, so checks inside it always see the latest record.
func (c *SessionCache) Update(ctx context.Context, token string, ttl time.Duration, mutate func(*models.VerificationSession) error) (*models.VerificationSession, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	key := sessionPrefix + token
	var result *models.VerificationSession

	txf := func(tx *goredis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				return ErrSessionNotFound
			}
			return err
		}

		session, err := models.DecodeSession(token, raw)
		if err != nil {
			return err
		}
		if err := mutate(session); err != nil {
			return err
		}

		data, err := models.EncodeSession(session)
		if err != nil {
			return fmt.Errorf("failed to encode session: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, data, expiration(ttl))
			return nil
		})
		if err == nil {
			result = session
		}
		return err
	}

	for attempt := 1; attempt <= maxSessionTxAttempts; attempt++ {
		err := c.client.Watch(ctx, txf, key)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, client.ErrTxConflict) {
			return nil, err
		}
		util.Debug("Session changed during transaction, retrying",
			util.Secret("token", token),
			zap.Int("attempt", attempt))
	}

	util.Warn("Session transaction retries exhausted", util.Secret("token", token))
	return nil, ErrTxRetriesExhausted
}

func expiration(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return goredis.KeepTTL
	}
	return ttl
}
