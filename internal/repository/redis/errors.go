package redis

import "errors"

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionExists     = errors.New("session already exists")
	ErrOTPNotFound       = errors.New("otp not found")
	ErrShortLinkNotFound = errors.New("short link not found")

	// ErrTxRetriesExhausted is returned when a watched session kept changing under every attempt.
	ErrTxRetriesExhausted = errors.New("session transaction retries exhausted")
)
