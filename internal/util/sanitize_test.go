package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskPhone(t *testing.T) {
	tests := []struct {
		name  string
		phone string
		want  string
	}{
		{"full number", "521555555555", "5215****5555"},
		{"channel suffix dropped", "521234567890@s.whatsapp.net", "5212****7890"},
		{"short number", "123456", "**3456"},
		{"tiny", "12", "**"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MaskPhone(tt.phone))
		})
	}
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "AB****", MaskSecret("AB2345"))
	assert.Equal(t, "12**", MaskSecret("1234"))
	assert.Equal(t, "*", MaskSecret("7"))
}

func TestContainsSuspicious(t *testing.T) {
	assert.False(t, ContainsSuspicious("My Bank App"))
	assert.True(t, ContainsSuspicious("<b>App</b>"))
	assert.True(t, ContainsSuspicious("App {otp}"))
	assert.True(t, ContainsSuspicious("OnLoad=alert(1)"))
}
