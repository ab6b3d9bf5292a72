package secure

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

const OTPLength = 4

// GenerateOTP returns a numeric one-time code. Leading zeros are kept.
func GenerateOTP() (string, error) {
	buf := make([]byte, OTPLength)
	for i := range buf {
		d, err := randInt(10)
		if err != nil {
			return "", err
		}
		buf[i] = byte('0' + d)
	}
	return string(buf), nil
}

// IsValidOTP reports whether s has the shape of a generated code.
func IsValidOTP(s string) bool {
	if len(s) != OTPLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// NewSlug returns 6 random bytes as unpadded base64url (8 characters).
func NewSlug() (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random source: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
