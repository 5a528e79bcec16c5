package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.BindAddr)
	assert.Equal(t, "auto", cfg.StorageBackend)
	assert.Equal(t, 20, cfg.MemoryRecentLimit)
	assert.Equal(t, 24*time.Hour, cfg.SessionMaxAge)
	assert.Equal(t, 60*time.Second, cfg.TurnTimeout)
	assert.True(t, cfg.MemoryCacheEnabled)
	assert.True(t, cfg.MemoryRedactPII)
	assert.Equal(t, "Tempo", cfg.AgentName)
	assert.Equal(t, "none", cfg.CalendarProvider)
	assert.Empty(t, cfg.DatabaseURL)
}

func TestLoadOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9191")
	t.Setenv("STORAGE_BACKEND", "sqlite")
	t.Setenv("SQLITE_PATH", "/tmp/tempo.db")
	t.Setenv("MEMORY_RECENT_LIMIT", "8")
	t.Setenv("MEMORY_CACHE_ENABLED", "off")
	t.Setenv("TURN_TIMEOUT", "0s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9191", cfg.BindAddr)
	assert.Equal(t, "sqlite", cfg.StorageBackend)
	assert.Equal(t, "/tmp/tempo.db", cfg.SQLitePath)
	assert.Equal(t, 8, cfg.MemoryRecentLimit)
	assert.False(t, cfg.MemoryCacheEnabled)
	assert.Zero(t, cfg.TurnTimeout)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"MEMORY_RECENT_LIMIT":  "0",
		"STORAGE_BACKEND":      "mongo",
		"TURN_TIMEOUT":         "soon",
		"MEMORY_CACHE_ENABLED": "maybe",
		"SESSION_MAX_AGE":      "10s",
		"CALENDAR_PROVIDER":    "outlook",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(key, value)
			_, err := Load()
			require.Error(t, err)
		})
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	t.Setenv("APP_SKIP_DOTENV", "true")
	keys := []string{
		"APP_BIND_ADDR",
		"APP_PUBLIC_BASE_URL",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"LOG_LEVEL",
		"LOG_FORMAT",
		"STORAGE_BACKEND",
		"DATABASE_URL",
		"SQLITE_PATH",
		"MEMORY_CACHE_ENABLED",
		"MEMORY_RECENT_LIMIT",
		"MEMORY_REDACT_PII",
		"SESSION_MAX_AGE",
		"SESSION_CLEANUP_SCHEDULE",
		"TURN_TIMEOUT",
		"MAX_CONCURRENT_TURNS",
		"COMPLETION_PROVIDER",
		"COMPLETION_URL",
		"COMPLETION_API_KEY",
		"COMPLETION_MODEL",
		"COMPLETION_TIMEOUT",
		"VOICE_PROVIDER",
		"ELEVENLABS_API_KEY",
		"ELEVENLABS_BASE_URL",
		"ELEVENLABS_WS_BASE_URL",
		"ELEVENLABS_TTS_VOICE_ID",
		"ELEVENLABS_TTS_MODEL_ID",
		"ELEVENLABS_STT_MODEL_ID",
		"AUDIO_CLIP_TTL",
		"CALENDAR_PROVIDER",
		"CALENDAR_BASE_URL",
		"AGENT_NAME",
		"AGENT_AVATAR_URL",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
