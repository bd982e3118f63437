package agentmanager

import (
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jgtux/convogateway/internal/agentcache"
)

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func TestGetOrCreateUnknownIDBuildsFresh(t *testing.T) {
	m := New(agentcache.New(10, testLogger()), testLogger())

	agent := m.GetOrCreate(Params{AuthID: "auth-1", SystemPrompt: "be terse"})
	require.NotEmpty(t, agent.ID)
	assert.Equal(t, "auth-1", agent.AuthID)
	assert.Equal(t, "be terse", agent.GetSystemPrompt())
}

func TestGetOrCreateKnownIDReturnsCached(t *testing.T) {
	cache := agentcache.New(10, testLogger())
	m := New(cache, testLogger())

	first := m.GetOrCreate(Params{AuthID: "auth-1", SystemPrompt: "v1"})
	second := m.GetOrCreate(Params{AgentID: first.ID, AuthID: "auth-1", SystemPrompt: "v2 should be ignored"})

	assert.Same(t, first, second)
	assert.Equal(t, "v1", second.GetSystemPrompt())
}

func TestGetOrCreateEmptySystemPromptStillNonEmpty(t *testing.T) {
	m := New(agentcache.New(10, testLogger()), testLogger())
	agent := m.GetOrCreate(Params{AuthID: "auth-1"})
	assert.NotEmpty(t, agent.GetSystemPrompt())
}
