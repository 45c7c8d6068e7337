package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	t.Setenv("TWILIO_ACCOUNT_SID", "AC_test")
	t.Setenv("TWILIO_AUTH_TOKEN", "token")
	t.Setenv("TWILIO_PHONE_NUMBER", "+15550009999")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "anthropic", cfg.Provider)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 5, cfg.MaxToolRounds)
	assert.Equal(t, 30*time.Second, cfg.RoundTimeout)
	assert.Equal(t, 24*time.Hour, cfg.DedupTTL)
	assert.Equal(t, 30*time.Minute, cfg.CacheTTL)
}

func TestLoadOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("WORKERS", "8")
	t.Setenv("ROUND_TIMEOUT", "45s")
	t.Setenv("RATE_SENDER_PER_MINUTE", "20.5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, 45*time.Second, cfg.RoundTimeout)
	assert.Equal(t, 20.5, cfg.SenderPerMinute)
}

func TestLoadRejectsMissingProviderKey(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("ANTHROPIC_API_KEY", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("LLM_PROVIDER", "bard")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadOpenAIProvider(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("LLM_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "sk-openai")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.Provider)
}

func TestValidateRejectsNonPositiveWorkers(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("WORKERS", "0")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRequiresTwilioCredentials(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("TWILIO_AUTH_TOKEN", "")

	_, err := Load()
	assert.Error(t, err)
}
