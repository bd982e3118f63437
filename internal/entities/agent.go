// Package entities holds the value types shared by the agent cache, the
// chat cache and the session handler: agents, chats, messages and their
// nested configuration.
package entities

import "time"

const defaultSystemPrompt = "You are a helpful assistant."

// AgentSystem is the model-facing configuration of an agent: the system
// prompt and the sampling overrides the LLM call is made with.
type AgentSystem struct {
	ID     string
	Preset map[string]interface{}
}

// SystemPrompt returns the preset's system_prompt, falling back to a fixed
// default when the preset is missing or doesn't carry the key. The
// returned string is never empty.
func (s *AgentSystem) SystemPrompt() string {
	if s == nil || s.Preset == nil {
		return defaultSystemPrompt
	}
	v, ok := s.Preset["system_prompt"]
	if !ok {
		return defaultSystemPrompt
	}
	prompt, ok := v.(string)
	if !ok || prompt == "" {
		return defaultSystemPrompt
	}
	return prompt
}

// Temperature returns the preset's temperature override, or the supplied
// default when absent.
func (s *AgentSystem) Temperature(fallback float64) float64 {
	if s == nil || s.Preset == nil {
		return fallback
	}
	if v, ok := s.Preset["temperature"].(float64); ok {
		return v
	}
	return fallback
}

// MaxTokens returns the preset's max_tokens override, or the supplied
// default when absent.
func (s *AgentSystem) MaxTokens(fallback int) int {
	if s == nil || s.Preset == nil {
		return fallback
	}
	if v, ok := s.Preset["max_tokens"].(int); ok {
		return v
	}
	return fallback
}

// AgentConfig owns the AgentSystem for one agent.
type AgentConfig struct {
	ID     string
	System *AgentSystem
}

// Agent is a named configuration bundle a user addresses for conversational
// inference.
type Agent struct {
	ID          string
	Name        string
	Description string
	AuthID      string
	Config      *AgentConfig
	CreatedAt   time.Time
	LastUsedAt  time.Time
}

// GetSystemPrompt always returns a non-empty string, per the invariant
// that a missing or malformed preset falls back to a fixed default.
func (a *Agent) GetSystemPrompt() string {
	if a == nil || a.Config == nil {
		return defaultSystemPrompt
	}
	return a.Config.System.SystemPrompt()
}

// Touch updates the agent's last-used timestamp. Called by the agent cache
// on every Get hit.
func (a *Agent) Touch(now time.Time) {
	a.LastUsedAt = now
}
