package secure

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateTokenProperties(t *testing.T) {
	lengths := make(map[int]int)
	for i := 0; i < 2000; i++ {
		token, err := GenerateToken()
		require.NoError(t, err)

		require.GreaterOrEqual(t, len(token), MinTokenLength)
		require.LessOrEqual(t, len(token), MaxTokenLength)
		require.False(t, strings.ContainsAny(token, "ILO01"), "token %q uses an ambiguous character", token)

		digits := 0
		for _, c := range token {
			require.True(t, strings.ContainsRune(TokenAlphabet, c), "token %q has %q outside the alphabet", token, c)
			if c >= '2' && c <= '9' {
				digits++
			}
		}
		require.GreaterOrEqual(t, digits, MinTokenDigits, "token %q", token)
		lengths[len(token)]++
	}

	for l := MinTokenLength; l <= MaxTokenLength; l++ {
		assert.NotZero(t, lengths[l], "length %d never generated", l)
	}
}

func TestIsValidToken(t *testing.T) {
	assert.True(t, IsValidToken("AB2345"))
	assert.True(t, IsValidToken("2345678923"))
	assert.False(t, IsValidToken("ABCDE2"), "too few digits")
	assert.False(t, IsValidToken("AB234"), "too short")
	assert.False(t, IsValidToken("AB23456789Z"), "too long")
	assert.False(t, IsValidToken("AI2345"), "ambiguous letter")
	assert.False(t, IsValidToken("AB2301"), "ambiguous digit")
	assert.False(t, IsValidToken("ab2345"), "lower case is not canonical")
}

func TestExtractToken(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		want  string
		found bool
	}{
		{"bare token", "ABCD2345", "ABCD2345", true},
		{"inside sentence", "Please verify me XY7K2345 thanks", "XY7K2345", true},
		{"lower case is upper-cased", "my code is ab2345", "AB2345", true},
		{"punctuation boundary", "code:(HJ2345).", "HJ2345", true},
		{"skips words without enough digits", "Verify NEWYRK then QW2345", "QW2345", true},
		{"embedded in longer run", "zzzAB2345yyy", "", false},
		{"longer than ten", "AB23456789ZZ", "", false},
		{"ambiguous characters", "AI0123", "", false},
		{"empty", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractToken(tt.body)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractTokenRoundTripsGeneratedTokens(t *testing.T) {
	for i := 0; i < 200; i++ {
		token, err := GenerateToken()
		require.NoError(t, err)

		got, ok := ExtractToken("Hola, mi código es " + strings.ToLower(token))
		require.True(t, ok, token)
		assert.Equal(t, token, got)
	}
}
