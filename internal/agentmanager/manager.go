// Package agentmanager implements the create-or-fetch façade over the
// agent cache described in §4.3.
package agentmanager

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jgtux/convogateway/internal/agentcache"
	"github.com/jgtux/convogateway/internal/entities"
)

// Defaults applied to a freshly created agent's preset when the caller
// doesn't override them.
const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 2000
)

// Manager resolves an agent_id to a cached Agent, or builds a fresh one.
type Manager struct {
	cache *agentcache.Cache
	log   zerolog.Logger
}

// New constructs a Manager backed by cache.
func New(cache *agentcache.Cache, log zerolog.Logger) *Manager {
	return &Manager{cache: cache, log: log.With().Str("component", "agent_manager").Logger()}
}

// Params carries the optional fields a chat turn may supply for a
// newly-referenced agent.
type Params struct {
	AgentID      string
	AuthID       string
	Name         string
	Description  string
	CategoryID   string
	SystemPrompt string
}

// GetOrCreate returns the cached agent for params.AgentID if present,
// otherwise builds a fresh Agent (keeping params.AgentID when supplied,
// else a new id) with a fresh AgentConfig/AgentSystem (new ids), seeds
// its preset from params.SystemPrompt plus the default temperature/
// max-tokens, caches it, and returns it.
func (m *Manager) GetOrCreate(params Params) *entities.Agent {
	if params.AgentID != "" {
		if agent, ok := m.cache.Get(params.AgentID); ok {
			return agent
		}
	}

	now := time.Now()
	agentID := params.AgentID
	if agentID == "" {
		agentID = uuid.NewString()
	}

	preset := map[string]interface{}{
		"system_prompt": params.SystemPrompt,
		"temperature":   DefaultTemperature,
		"max_tokens":    DefaultMaxTokens,
	}

	agent := &entities.Agent{
		ID:          agentID,
		Name:        params.Name,
		Description: params.Description,
		AuthID:      params.AuthID,
		CreatedAt:   now,
		LastUsedAt:  now,
		Config: &entities.AgentConfig{
			ID: uuid.NewString(),
			System: &entities.AgentSystem{
				ID:     uuid.NewString(),
				Preset: preset,
			},
		},
	}

	m.cache.Put(agent)

	m.log.Info().
		Str("agent_id", agent.ID).
		Str("auth_id", agent.AuthID).
		Str("category_id", params.CategoryID).
		Msg("agent created")

	return agent
}

// Stats exposes the underlying agent cache's counters, used by the
// "stats" wire command.
func (m *Manager) Stats() agentcache.Stats {
	return m.cache.Stats()
}
