package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"HTTP_ADDR", "LOG_LEVEL", "HTTP_CLIENT_TIMEOUT", "BOT_TOKEN", "TELEGRAM_BOT_TOKEN",
	"TELEGRAM_MODE", "TELEGRAM_POLL_TIMEOUT", "OPENAI_API_KEY", "GPT_MODEL", "GPT_TEMPERATURE",
	"GPT_MAX_TOKENS", "CONTEXT_INACTIVITY_RESET", "CONTEXT_TTL", "CONTEXT_SWEEP_INTERVAL",
	"STREAM_FLUSH_THRESHOLD", "STREAM_THROTTLE_COOLDOWN", "SEND_RETRY_ATTEMPTS",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range envKeys {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "gpt-4o-mini", cfg.OpenAI.Model)
	assert.Equal(t, 0.7, cfg.OpenAI.Temperature)
	assert.Equal(t, 2000, cfg.OpenAI.MaxTokens)
	assert.Equal(t, 3*time.Minute, cfg.Context.InactivityReset)
	assert.Equal(t, 180*time.Second, cfg.Context.TTL)
	assert.Equal(t, 60*time.Second, cfg.Context.SweepInterval)
	assert.Equal(t, 30, cfg.Stream.FlushThreshold)
	assert.Equal(t, 30*time.Second, cfg.Stream.ThrottleCooldown)
	assert.Equal(t, 3, cfg.Stream.RetryAttempts)
	assert.Equal(t, ModeWebhook, cfg.Telegram.Mode)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	yamlData := `
http_addr: ":9000"
openai:
  model: gpt-4o
  temperature: 0.2
context:
  ttl: 5m
stream:
  flush_threshold: 10
`
	require.NoError(t, os.WriteFile(path, []byte(yamlData), 0o600))

	t.Setenv("GPT_MODEL", "gpt-4.1")
	t.Setenv("CONTEXT_INACTIVITY_RESET", "120")
	t.Setenv("BOT_TOKEN", "token")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.HTTPAddr)
	assert.Equal(t, "gpt-4.1", cfg.OpenAI.Model)
	assert.Equal(t, 0.2, cfg.OpenAI.Temperature)
	assert.Equal(t, 5*time.Minute, cfg.Context.TTL)
	assert.Equal(t, 2*time.Minute, cfg.Context.InactivityReset)
	assert.Equal(t, 10, cfg.Stream.FlushThreshold)
	assert.Equal(t, "token", cfg.Telegram.BotToken)
	// не заданное в файле остаётся по умолчанию
	assert.Equal(t, 2000, cfg.OpenAI.MaxTokens)
}

func TestLoadBotTokenAlias(t *testing.T) {
	clearEnv(t)
	t.Setenv("TELEGRAM_BOT_TOKEN", "legacy")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "legacy", cfg.Telegram.BotToken)

	t.Setenv("BOT_TOKEN", "primary")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "primary", cfg.Telegram.BotToken)
}

func TestLoadInvalidValues(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"CONTEXT_TTL", "soon"},
		{"STREAM_FLUSH_THRESHOLD", "many"},
		{"GPT_TEMPERATURE", "warm"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)
			_, err := Load("")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := Default()
	valid.Telegram.BotToken = "token"
	valid.OpenAI.APIKey = "key"
	require.NoError(t, valid.Validate())

	missing := Default()
	err := missing.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BOT_TOKEN")
	assert.Contains(t, err.Error(), "OPENAI_API_KEY")

	polling := valid
	polling.Telegram.Mode = ModePolling
	polling.Telegram.PollTimeout = 20 * time.Second
	polling.RequestTimeout = 15 * time.Second
	require.Error(t, polling.Validate())

	polling.RequestTimeout = 30 * time.Second
	require.NoError(t, polling.Validate())

	unknown := valid
	unknown.Telegram.Mode = "carrier-pigeon"
	require.Error(t, unknown.Validate())
}
