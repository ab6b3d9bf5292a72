package util

import (
	"os"
	"strings"
)

// ContainsSuspicious flags markup or template injection attempts in free text
// that ends up inside outbound messages.
func ContainsSuspicious(s string) bool {
	lower := strings.ToLower(s)
	for _, c := range []string{"<", ">", "$", "{", "}", "script", "onerror", "onload"} {
		if strings.Contains(lower, c) {
			return true
		}
	}
	return false
}

// MaskPhone hides the middle of an address: "5215551234" becomes "52****1234".
func MaskPhone(phone string) string {
	if i := strings.IndexByte(phone, '@'); i >= 0 {
		phone = phone[:i]
	}
	if len(phone) <= 4 {
		return strings.Repeat("*", len(phone))
	}
	visible := 4
	prefix := len(phone) - visible - 4
	if prefix < 0 {
		prefix = 0
	}
	return phone[:prefix] + strings.Repeat("*", len(phone)-prefix-visible) + phone[len(phone)-visible:]
}

// MaskSecret keeps the first two characters of a token or code.
func MaskSecret(secret string) string {
	if len(secret) <= 2 {
		return strings.Repeat("*", len(secret))
	}
	return secret[:2] + strings.Repeat("*", len(secret)-2)
}

func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
