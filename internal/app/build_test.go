package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/tempo/internal/config"
)

func testConfig() config.Config {
	return config.Config{
		MetricsNamespace:   "test_app",
		StorageBackend:     "memory",
		MemoryCacheEnabled: true,
		MemoryRecentLimit:  20,
		MemoryRedactPII:    true,
		SessionMaxAge:      24 * time.Hour,
		MaxConcurrentTurns: 2,
		CompletionProvider: "mock",
		VoiceProvider:      "mock",
		CalendarProvider:   "none",
		AgentName:          "Tempo",
	}
}

func TestBuildWiresService(t *testing.T) {
	res, err := Build(context.Background(), testConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, res.Cleanup()) })

	assert.Equal(t, "memory", res.Storage)
	assert.Equal(t, "mock", res.Voice)
	assert.True(t, res.Speaker.Capability().Available)

	ts := httptest.NewServer(res.API.Router())
	defer ts.Close()
	resp, err := http.Get(ts.URL + "/readyz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestResolveVoiceDegradesWithoutKey(t *testing.T) {
	for _, mode := range []string{"auto", "elevenlabs", "none"} {
		cfg := testConfig()
		cfg.VoiceProvider = mode
		vs, err := resolveVoice(cfg, nil, nil)
		require.NoError(t, err, mode)
		assert.False(t, vs.speaker.Capability().Available, mode)
		assert.NotEmpty(t, vs.speaker.Capability().Reason, mode)
	}

	cfg := testConfig()
	cfg.ElevenLabsAPIKey = "xi-test"
	cfg.VoiceProvider = "auto"
	vs, err := resolveVoice(cfg, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "elevenlabs", vs.speaker.Capability().Provider)

	cfg.VoiceProvider = "kokoro"
	_, err = resolveVoice(cfg, nil, nil)
	require.Error(t, err)
}

func TestBuildRejectsUnknownStorage(t *testing.T) {
	cfg := testConfig()
	cfg.StorageBackend = "cassandra"
	_, err := Build(context.Background(), cfg, nil)
	require.Error(t, err)
}
