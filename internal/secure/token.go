// Package secure generates and checks the secrets exchanged during a login
// challenge: session tokens, one-time codes, short-link slugs and PKCE proofs.
package secure

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

const (
	// TokenLetters excludes I, L and O.
	TokenLetters = "ABCDEFGHJKMNPQRSTUVWXYZ"
	// TokenDigits excludes 0 and 1.
	TokenDigits   = "23456789"
	TokenAlphabet = TokenLetters + TokenDigits

	MinTokenLength = 6
	MaxTokenLength = 10
	MinTokenDigits = 4

	maxTokenDraws = 16
)

// tokenPattern finds whole-word candidates; digit count is checked separately.
var tokenPattern = regexp.MustCompile(`(?i)\b[A-HJ-KMNP-Z2-9]{6,10}\b`)

// GenerateToken returns a login token of 6 to 10 characters with at least four digits.
func GenerateToken() (string, error) {
	for attempt := 0; attempt < maxTokenDraws; attempt++ {
		length, err := randInt(MaxTokenLength - MinTokenLength + 1)
		if err != nil {
			return "", err
		}
		length += MinTokenLength

		buf := make([]byte, 0, length)
		for i := 0; i < MinTokenDigits; i++ {
			c, err := pick(TokenDigits)
			if err != nil {
				return "", err
			}
			buf = append(buf, c)
		}
		for len(buf) < length {
			c, err := pick(TokenAlphabet)
			if err != nil {
				return "", err
			}
			buf = append(buf, c)
		}
		if err := shuffle(buf); err != nil {
			return "", err
		}

		token := string(buf)
		if IsValidToken(token) {
			return token, nil
		}
	}
	return "", fmt.Errorf("failed to generate token after %d draws", maxTokenDraws)
}

// IsValidToken reports whether s is a well-formed upper-case token.
func IsValidToken(s string) bool {
	if len(s) < MinTokenLength || len(s) > MaxTokenLength {
		return false
	}
	digits := 0
	for i := 0; i < len(s); i++ {
		switch {
		case strings.IndexByte(TokenDigits, s[i]) >= 0:
			digits++
		case strings.IndexByte(TokenLetters, s[i]) >= 0:
		default:
			return false
		}
	}
	return digits >= MinTokenDigits
}

// ExtractToken scans a free-text message for the first whole-word token and
// returns it upper-cased. Words inside longer alphanumeric runs never match.
func ExtractToken(body string) (string, bool) {
	for _, loc := range tokenPattern.FindAllStringIndex(body, -1) {
		candidate := strings.ToUpper(body[loc[0]:loc[1]])
		if IsValidToken(candidate) {
			return candidate, true
		}
	}
	return "", false
}

func pick(alphabet string) (byte, error) {
	i, err := randInt(len(alphabet))
	if err != nil {
		return 0, err
	}
	return alphabet[i], nil
}

// shuffle is a Fisher-Yates shuffle driven by crypto/rand.
func shuffle(buf []byte) error {
	for i := len(buf) - 1; i > 0; i-- {
		j, err := randInt(i + 1)
		if err != nil {
			return err
		}
		buf[i], buf[j] = buf[j], buf[i]
	}
	return nil
}

func randInt(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("failed to read random source: %w", err)
	}
	return int(v.Int64()), nil
}
