// Package metrics declares the gateway's Prometheus instrumentation,
// exposed on the Supervisor's /metrics endpoint. Error and reason labels
// are normalized to a bounded set before being attached to a metric: an
// unbounded label value (a raw error string, a raw gateway-error message)
// would otherwise blow up Prometheus cardinality.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jgtux/convogateway/internal/gatewayerr"
)

// Bounded gateway-error reason labels (set).
const (
	ReasonMalformedFrame   = "malformed_frame"
	ReasonNotIdentified    = "not_identified"
	ReasonMissingFields    = "missing_fields"
	ReasonAuthMismatch     = "auth_mismatch"
	ReasonBadHistoryItem   = "bad_history_item"
	ReasonLLMFailure       = "llm_failure"
	ReasonHeartbeatTimeout = "heartbeat_timeout"
	ReasonIdleTimeout      = "idle_timeout"
	ReasonOther            = "other"
)

// NormalizeGatewayErrorReason maps a GatewayError Kind to its bounded
// metric label.
func NormalizeGatewayErrorReason(kind gatewayerr.Kind) string {
	switch kind {
	case gatewayerr.MalformedFrame:
		return ReasonMalformedFrame
	case gatewayerr.NotIdentified:
		return ReasonNotIdentified
	case gatewayerr.MissingFields:
		return ReasonMissingFields
	case gatewayerr.AuthMismatch:
		return ReasonAuthMismatch
	case gatewayerr.BadHistoryItem:
		return ReasonBadHistoryItem
	case gatewayerr.LLMFailure:
		return ReasonLLMFailure
	case gatewayerr.HeartbeatTimeout:
		return ReasonHeartbeatTimeout
	case gatewayerr.IdleTimeout:
		return ReasonIdleTimeout
	default:
		return ReasonOther
	}
}

// Bounded sync-action labels for the chat cache.
const (
	SyncActionFullReload  = "full_reload"
	SyncActionIncremental = "incremental"
)

// Bounded eviction-kind labels for the caches.
const (
	EvictionKindLRU  = "lru"
	EvictionKindSize = "size"
)

// NormalizeLLMErrorClass buckets a raw LLM client error into a bounded
// label.
func NormalizeLLMErrorClass(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return "timeout"
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate"):
		return "rate_limited"
	case strings.Contains(msg, "401") || strings.Contains(msg, "403") || strings.Contains(msg, "auth"):
		return "auth"
	case strings.Contains(msg, "502") || strings.Contains(msg, "503") || strings.Contains(msg, "504"):
		return "server_error"
	case strings.Contains(msg, "connection") || strings.Contains(msg, "network"):
		return "network"
	default:
		return "other"
	}
}

var (
	// Connection registry.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "convogateway_active_connections",
		Help: "Number of currently registered transport connections.",
	})
	ConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "convogateway_connections_total",
		Help: "Total connections accepted since process start.",
	})
	StaleConnectionsEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "convogateway_stale_connections_evicted_total",
		Help: "Connections closed by the idle sweeper.",
	})

	// Agent cache.
	AgentCacheSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "convogateway_agent_cache_size",
		Help: "Current number of entries in the agent cache.",
	})
	AgentCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "convogateway_agent_cache_hits_total",
		Help: "Agent cache lookups that found an entry.",
	})
	AgentCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "convogateway_agent_cache_misses_total",
		Help: "Agent cache lookups that found nothing.",
	})
	AgentCacheEvictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "convogateway_agent_cache_evictions_total",
		Help: "Agent cache LRU evictions.",
	})

	// Chat cache.
	ChatCacheSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "convogateway_chat_cache_size",
		Help: "Current number of sessions in the chat cache.",
	})
	ChatCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "convogateway_chat_cache_hits_total",
		Help: "Chat cache lookups that found a session.",
	})
	ChatCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "convogateway_chat_cache_misses_total",
		Help: "Chat cache lookups that created a session.",
	})
	ChatCacheSyncsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "convogateway_chat_cache_syncs_total",
		Help: "Chat history sync operations by resolved action.",
	}, []string{"action"})
	ChatCacheEvictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "convogateway_chat_cache_evictions_total",
		Help: "Chat cache evictions by kind.",
	}, []string{"kind"})

	// Stream buffer.
	StreamFlushesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "convogateway_stream_flushes_total",
		Help: "Partial frames flushed to clients.",
	})
	StreamTurnsCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "convogateway_stream_turns_completed_total",
		Help: "Chat turns that reached a terminal frame.",
	})

	// LLM client. The circuit breaker's own state/request counters live
	// in internal/llmclient/breaker.go; this package owns call latency
	// and normalized failure classes instead, so the two never collide
	// on a metric name.
	LLMRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "convogateway_llm_request_duration_seconds",
		Help:    "Latency of LLM completion calls.",
		Buckets: prometheus.DefBuckets,
	})
	LLMErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "convogateway_llm_errors_total",
		Help: "LLM client errors by normalized class.",
	}, []string{"class"})

	// Session handler / errors.
	GatewayErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "convogateway_errors_total",
		Help: "Gateway errors by normalized kind.",
	}, []string{"kind"})
)

// RecordGatewayError increments the bounded-cardinality error counter for
// a GatewayError's kind.
func RecordGatewayError(kind gatewayerr.Kind) {
	GatewayErrorsTotal.WithLabelValues(NormalizeGatewayErrorReason(kind)).Inc()
}

// RecordLLMError increments the bounded-cardinality LLM error counter. A
// nil err is a no-op.
func RecordLLMError(err error) {
	class := NormalizeLLMErrorClass(err)
	if class == "" {
		return
	}
	LLMErrorsTotal.WithLabelValues(class).Inc()
}
