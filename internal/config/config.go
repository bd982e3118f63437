package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all gateway configuration, sourced exclusively from the
// environment (§6): there is no config file surface, since every
// deployment of the gateway is expected to be driven by its process
// environment rather than a mounted file.
type Config struct {
	Transport  TransportConfig  `mapstructure:"transport"`
	AgentCache AgentCacheConfig `mapstructure:"agent_cache"`
	ChatCache  ChatCacheConfig  `mapstructure:"chat_cache"`
	Context    ContextConfig    `mapstructure:"context"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Heartbeat  HeartbeatConfig  `mapstructure:"heartbeat"`
	Stream     StreamConfig     `mapstructure:"stream"`
	Log        LogConfig        `mapstructure:"log"`
}

// TransportConfig is the websocket bind address.
type TransportConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Addr returns HOST:PORT.
func (c TransportConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// AgentCacheConfig configures the Agent LRU Cache (§4.1).
type AgentCacheConfig struct {
	MaxSize int `mapstructure:"max_size"`
}

// ChatCacheConfig configures the Chat LRU Cache (§4.2).
type ChatCacheConfig struct {
	MaxSize     int `mapstructure:"max_size"`
	MaxMessages int `mapstructure:"max_messages"`
	MaxTokens   int `mapstructure:"max_tokens"`
}

// ContextConfig controls context assembly (§4.2.4).
type ContextConfig struct {
	MaxMessages int    `mapstructure:"max_messages"` // the sliding window W
	Strategy    string `mapstructure:"strategy"`     // "sliding_window" or full history
}

// Sliding reports whether CONTEXT_STRATEGY selects the sliding window.
func (c ContextConfig) Sliding() bool {
	return c.Strategy == "sliding_window"
}

// LLMConfig configures the remote completion client.
type LLMConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	Endpoint    string  `mapstructure:"endpoint"`
	Model       string  `mapstructure:"model"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// HeartbeatConfig controls per-connection liveness probing (§5).
type HeartbeatConfig struct {
	Interval          time.Duration `mapstructure:"interval"`
	ConnectionTimeout time.Duration `mapstructure:"connection_timeout"`
}

// StreamConfig controls the Stream Buffer's flush policy (§4.4).
type StreamConfig struct {
	MinChunkSize int           `mapstructure:"min_chunk_size"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "console"
}

// envBindings lists every environment variable surfaced in §6, mapped to
// its config key.
var envBindings = map[string]string{
	"WS_HOST":               "transport.host",
	"WS_PORT":               "transport.port",
	"MAX_AGENT_CACHE_SIZE":  "agent_cache.max_size",
	"MAX_CHAT_CACHE_SIZE":   "chat_cache.max_size",
	"MAX_CHAT_MESSAGES":     "chat_cache.max_messages",
	"MAX_CHAT_TOKENS":       "chat_cache.max_tokens",
	"MAX_CONTEXT_MESSAGES":  "context.max_messages",
	"CONTEXT_STRATEGY":      "context.strategy",
	"LLM_API_KEY":           "llm.api_key",
	"LLM_ENDPOINT":          "llm.endpoint",
	"LLM_MODEL":             "llm.model",
	"LLM_TEMPERATURE":       "llm.temperature",
	"LLM_MAX_TOKENS":        "llm.max_tokens",
	"HEARTBEAT_INTERVAL":    "heartbeat.interval",
	"CONNECTION_TIMEOUT":    "heartbeat.connection_timeout",
	"STREAM_MIN_CHUNK_SIZE": "stream.min_chunk_size",
	"STREAM_MAX_DELAY":      "stream.max_delay",
	"LOG_LEVEL":             "log.level",
	"LOG_FORMAT":            "log.format",
}

// Load builds a Config from the process environment. LLM_API_KEY absence
// is a StartupConfig failure (§7): every other field has a usable
// default.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)
	for env, key := range envBindings {
		_ = v.BindEnv(key, env)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.LLM.APIKey == "" {
		return nil, fmt.Errorf("LLM_API_KEY is required")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("transport.host", "localhost")
	v.SetDefault("transport.port", 8765)

	v.SetDefault("agent_cache.max_size", 50)

	v.SetDefault("chat_cache.max_size", 100)
	v.SetDefault("chat_cache.max_messages", 200)
	v.SetDefault("chat_cache.max_tokens", 50000)

	v.SetDefault("context.max_messages", 20)
	v.SetDefault("context.strategy", "sliding_window")

	v.SetDefault("llm.endpoint", "http://localhost:8080/v1/chat/completions")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.max_tokens", 2000)

	v.SetDefault("heartbeat.interval", 30*time.Second)
	v.SetDefault("heartbeat.connection_timeout", 300*time.Second)

	v.SetDefault("stream.min_chunk_size", 50)
	v.SetDefault("stream.max_delay", 300*time.Millisecond)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}
