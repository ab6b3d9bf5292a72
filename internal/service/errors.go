package service

import (
	"context"
	"errors"

	"github.com/NoraXie/echoid/internal/models"
)

var (
	ErrInvalidAPIKey       = errors.New("invalid api key")
	ErrTenantInactive      = errors.New("tenant is inactive")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidInput        = errors.New("invalid input")
	ErrRateLimited         = errors.New("rate limit exceeded")
	ErrSessionNotFound     = errors.New("session not found")
	ErrOTPNotFound         = errors.New("invalid or expired session")
	ErrInvalidOTP          = errors.New("invalid OTP")
	ErrPKCEFailed          = errors.New("PKCE verification failed")
	ErrInvalidTransition   = models.ErrInvalidTransition
	ErrLinkNotFound        = errors.New("link not found or expired")
)

// Messenger sends replies on the messaging channel. *client.GatewayClient satisfies it.
type Messenger interface {
	SendText(ctx context.Context, chatID, text string) error
	StartTyping(ctx context.Context, chatID string) error
	StopTyping(ctx context.Context, chatID string) error
}

// BillingSubmitter hands a job to the billing pipeline without waiting for it.
type BillingSubmitter interface {
	Submit(ctx context.Context, job models.BillingJob) error
}
