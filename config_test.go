package aether

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() SiteConfig {
	cfg := SiteConfig{
		AdminPassword: "secret",
		SessionSecret: "session-secret",
		Image:         ImageConfig{Endpoint: "https://worker.example.com/generate"},
	}
	cfg.setDefaults()
	return cfg
}

func TestSetDefaults(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, "Aether", cfg.Name)
	assert.Equal(t, ProviderGemini, cfg.Chat.Provider)
	assert.Equal(t, 30*time.Second, cfg.Chat.Cooldown)
	assert.Equal(t, 60*time.Second, cfg.Image.Cooldown)
	assert.Equal(t, 30*time.Second, cfg.Image.Timeout)
	assert.NoError(t, cfg.Validate())
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := SiteConfig{Chat: ChatConfig{Provider: "llama"}, LogFormat: "xml"}
	cfg.setDefaults()
	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"ADMIN_PASSWORD", "SESSION_SECRET", "CHAT_PROVIDER", "IMAGE_ENDPOINT", "LOG_FORMAT"} {
		assert.ErrorContains(t, err, want)
	}
}

func TestValidateRejectsNonHTTPEndpoint(t *testing.T) {
	cfg := validConfig()
	cfg.Image.Endpoint = "ftp://worker.example.com"
	assert.ErrorContains(t, cfg.Validate(), "IMAGE_ENDPOINT")
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("SITE_NAME", "Aether Test")
	t.Setenv("ADMIN_PASSWORD", "secret")
	t.Setenv("SESSION_SECRET", "session-secret")
	t.Setenv("CHAT_PROVIDER", "OpenAI")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("GEMINI_API_KEY", "gm-test")
	t.Setenv("CHAT_COOLDOWN", "45s")
	t.Setenv("IMAGE_ENDPOINT", "https://worker.example.com")
	t.Setenv("ACTIVITY_ENABLED", "false")
	t.Setenv("ACTIVITY_RETENTION_DAYS", "30")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "Aether Test", cfg.Name)
	assert.Equal(t, ProviderOpenAI, cfg.Chat.Provider)
	assert.Equal(t, "sk-test", cfg.Chat.APIKey)
	assert.Equal(t, 45*time.Second, cfg.Chat.Cooldown)
	assert.False(t, cfg.ActivityEnabled)
	assert.Equal(t, 30, cfg.ActivityRetentionDays)
}

func TestLoadConfigCollectsMalformedValues(t *testing.T) {
	t.Setenv("COOKIE_SECURE", "maybe")
	t.Setenv("IMAGE_COOLDOWN", "a minute")
	t.Setenv("ACTIVITY_RETENTION_DAYS", "-1")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.ErrorContains(t, err, "COOKIE_SECURE")
	assert.ErrorContains(t, err, "IMAGE_COOLDOWN")
	assert.ErrorContains(t, err, "ACTIVITY_RETENTION_DAYS")
}

func TestEnvOr(t *testing.T) {
	t.Setenv("AETHER_TEST_VALUE", "")
	assert.Equal(t, "fallback", EnvOr("AETHER_TEST_VALUE", "fallback"))
	t.Setenv("AETHER_TEST_VALUE", "set")
	assert.Equal(t, "set", EnvOr("AETHER_TEST_VALUE", "fallback"))
}
