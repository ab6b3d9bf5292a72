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

const otpPrefix = "otp:"

// OTPCache holds the hashed code issued for a token. Codes are single use.
type OTPCache struct {
	client *client.RedisClient
}

func NewOTPCache(client *client.RedisClient) *OTPCache {
	return &OTPCache{client: client}
}

func (c *OTPCache) SetOTP(ctx context.Context, token, otpHash string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.client.Set(ctx, otpPrefix+token, otpHash, ttl); err != nil {
		util.Error("Failed to set OTP in cache",
			util.Secret("token", token),
			zap.Duration("ttl", ttl),
			zap.Error(err))
		return fmt.Errorf("failed to set OTP in cache: %w", err)
	}
	util.Debug("OTP cached successfully", util.Secret("token", token), zap.Duration("ttl", ttl))
	return nil
}

// TakeOTP returns the stored hash and deletes it in the same round trip.
func (c *OTPCache) TakeOTP(ctx context.Context, token string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	otpHash, err := c.client.GetDel(ctx, otpPrefix+token)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return "", ErrOTPNotFound
		}
		util.Error("Failed to consume OTP",
			util.Secret("token", token),
			zap.Error(err))
		return "", fmt.Errorf("failed to consume OTP: %w", err)
	}
	return otpHash, nil
}
