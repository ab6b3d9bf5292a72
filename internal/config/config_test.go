package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("ENV", "development")

	cfg := LoadConfig()

	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())
	assert.Equal(t, 600*time.Second, cfg.Echo.SessionTTL)
	assert.Equal(t, 300*time.Second, cfg.Echo.OTPTTL)
	assert.Equal(t, 300*time.Second, cfg.Echo.ShortLinkTTL)
	assert.Equal(t, time.Hour, cfg.Echo.LockTTL)
	assert.Equal(t, 2500*time.Millisecond, cfg.Echo.TypingDelay)
	assert.Equal(t, 10, cfg.Echo.WebhookRateLimit)
	assert.Equal(t, "echoid", cfg.Echo.URLScheme)
	assert.Equal(t, RedirectModePage, cfg.Echo.RedirectMode)
	assert.Equal(t, "templates:es_mx", cfg.TemplateSetKey())
	assert.True(t, cfg.Echo.EnableSimulation)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("ENV", "staging")
	t.Setenv("HOST_URL", "https://api.echoid.test/")
	t.Setenv("LINK_DOMAINS", " a.example.com, ,b.example.com ")
	t.Setenv("SESSION_TTL", "900")
	t.Setenv("TYPING_DELAY", "1.5s")
	t.Setenv("WEBHOOK_RATE_LIMIT", "3")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("BILLING_COST", "0.25")
	t.Setenv("SERVER_PORT", "not-a-number")

	cfg := LoadConfig()

	assert.Equal(t, "https://api.echoid.test", cfg.Echo.HostURL)
	assert.Equal(t, []string{"a.example.com", "b.example.com"}, cfg.Echo.LinkDomains)
	assert.Equal(t, 900*time.Second, cfg.Echo.SessionTTL)
	assert.Equal(t, 1500*time.Millisecond, cfg.Echo.TypingDelay)
	assert.Equal(t, 3, cfg.Echo.WebhookRateLimit)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.InDelta(t, 0.25, cfg.Echo.BillingCost, 1e-9)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:8000", cfg.GetServerAddress())
}

func TestValidate(t *testing.T) {
	t.Run("production requires gateway credentials", func(t *testing.T) {
		t.Setenv("ENV", "production")
		t.Setenv("ECHOB_API_URL", "")
		t.Setenv("ECHOB_API_KEY", "")
		t.Setenv("BOT_PHONE_NUMBER", "")

		cfg := LoadConfig()

		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ECHOB_API_URL")
		assert.Contains(t, err.Error(), "ECHOB_API_KEY")
		assert.Contains(t, err.Error(), "BOT_PHONE_NUMBER")
		assert.False(t, cfg.Echo.EnableSimulation)
	})

	t.Run("unknown redirect mode", func(t *testing.T) {
		t.Setenv("ENV", "development")
		t.Setenv("REDIRECT_MODE", "meta-refresh")

		err := LoadConfig().Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "REDIRECT_MODE")
	})

	t.Run("non positive ttl", func(t *testing.T) {
		t.Setenv("ENV", "development")
		t.Setenv("OTP_TTL", "0s")

		err := LoadConfig().Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "OTP_TTL")
	})

	t.Run("otp outlives its session", func(t *testing.T) {
		t.Setenv("ENV", "development")
		t.Setenv("SESSION_TTL", "120")
		t.Setenv("OTP_TTL", "300")

		err := LoadConfig().Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "must not exceed SESSION_TTL")
	})

	t.Run("otp ttl equal to session ttl", func(t *testing.T) {
		t.Setenv("ENV", "development")
		t.Setenv("SESSION_TTL", "300")
		t.Setenv("OTP_TTL", "300")

		assert.NoError(t, LoadConfig().Validate())
	})

	for _, env := range []string{"INIT_RATE_LIMIT", "INIT_RATE_PERIOD"} {
		t.Run(env+" must be positive", func(t *testing.T) {
			t.Setenv("ENV", "development")
			t.Setenv(env, "0")

			err := LoadConfig().Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "INIT_RATE_LIMIT and INIT_RATE_PERIOD must be positive")
		})
	}
}
