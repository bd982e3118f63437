package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFailsWithoutAPIKey(t *testing.T) {
	_, err := Load()
	require.Error(t, err)
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("LLM_API_KEY", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost:8765", cfg.Transport.Addr())
	assert.Equal(t, 50, cfg.AgentCache.MaxSize)
	assert.Equal(t, 100, cfg.ChatCache.MaxSize)
	assert.Equal(t, 200, cfg.ChatCache.MaxMessages)
	assert.Equal(t, 50000, cfg.ChatCache.MaxTokens)
	assert.Equal(t, 20, cfg.Context.MaxMessages)
	assert.True(t, cfg.Context.Sliding())
	assert.Equal(t, 50, cfg.Stream.MinChunkSize)
	assert.Equal(t, 300*time.Millisecond, cfg.Stream.MaxDelay)
	assert.Equal(t, 300*time.Second, cfg.Heartbeat.ConnectionTimeout)
}

func TestLoadHonorsEnvironmentOverrides(t *testing.T) {
	t.Setenv("LLM_API_KEY", "secret")
	t.Setenv("WS_PORT", "9000")
	t.Setenv("MAX_AGENT_CACHE_SIZE", "5")
	t.Setenv("CONTEXT_STRATEGY", "full_history")
	t.Setenv("STREAM_MAX_DELAY", "500ms")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Transport.Port)
	assert.Equal(t, 5, cfg.AgentCache.MaxSize)
	assert.False(t, cfg.Context.Sliding())
	assert.Equal(t, 500*time.Millisecond, cfg.Stream.MaxDelay)
}
