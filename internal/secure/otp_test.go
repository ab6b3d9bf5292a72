package secure

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateOTP(t *testing.T) {
	seen := make(map[byte]bool)
	for i := 0; i < 500; i++ {
		otp, err := GenerateOTP()
		require.NoError(t, err)
		require.True(t, IsValidOTP(otp), otp)
		for j := 0; j < len(otp); j++ {
			seen[otp[j]] = true
		}
	}
	assert.Len(t, seen, 10, "every digit should appear across 2000 samples")
}

func TestIsValidOTP(t *testing.T) {
	assert.True(t, IsValidOTP("0042"))
	assert.False(t, IsValidOTP("042"))
	assert.False(t, IsValidOTP("12a4"))
	assert.False(t, IsValidOTP("12345"))
}

func TestNewSlug(t *testing.T) {
	a, err := NewSlug()
	require.NoError(t, err)
	b, err := NewSlug()
	require.NoError(t, err)

	assert.Len(t, a, 8)
	assert.Regexp(t, `^[A-Za-z0-9_-]{8}$`, a)
	assert.NotEqual(t, a, b)
}
