package llmclient

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker"
)

// LLM circuit breaker thresholds, carried over unchanged from the
// trading system's longer-timeout AI-call settings: the remote model is
// slow and bursty enough to need a longer open window than a typical
// upstream dependency.
const (
	LLMMinRequests     = 3
	LLMFailureRatio    = 0.6
	LLMOpenTimeout     = 60 * time.Second
	LLMHalfOpenMaxReqs = 2
	LLMCountInterval   = 10 * time.Second
)

var (
	breakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "convogateway_llm_circuit_breaker_state",
		Help: "LLM circuit breaker state (0=closed, 1=open, 2=half_open)",
	})
	breakerRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "convogateway_llm_circuit_breaker_requests_total",
		Help: "Total requests observed by the LLM circuit breaker",
	}, []string{"result"})
)

// BreakerSettings configures the thresholds a Breaker trips on.
type BreakerSettings struct {
	MinRequests     uint32
	FailureRatio    float64
	OpenTimeout     time.Duration
	HalfOpenMaxReqs uint32
	CountInterval   time.Duration
}

// DefaultBreakerSettings returns the LLM defaults.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		MinRequests:     LLMMinRequests,
		FailureRatio:    LLMFailureRatio,
		OpenTimeout:     LLMOpenTimeout,
		HalfOpenMaxReqs: LLMHalfOpenMaxReqs,
		CountInterval:   LLMCountInterval,
	}
}

// Breaker wraps a gobreaker.CircuitBreaker around the LLM call path,
// recording Prometheus counters on every execution.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// NewBreaker constructs a Breaker from settings.
func NewBreaker(settings BreakerSettings) *Breaker {
	b := &Breaker{}
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "llm",
		MaxRequests: settings.HalfOpenMaxReqs,
		Interval:    settings.CountInterval,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= settings.MinRequests && failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			breakerState.Set(stateValue(to))
		},
	})
	breakerState.Set(stateValue(b.cb.State()))
	return b
}

func stateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}

// ExecuteStream runs fn (a streaming call returning no payload) through
// the breaker, recording success/failure.
func (b *Breaker) ExecuteStream(fn func() (struct{}, error)) (struct{}, error) {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return fn()
	})
	b.record(err)
	return struct{}{}, err
}

func (b *Breaker) record(err error) {
	if err != nil {
		breakerRequests.WithLabelValues("failure").Inc()
		return
	}
	breakerRequests.WithLabelValues("success").Inc()
}

// State returns the breaker's current state name.
func (b *Breaker) State() string {
	switch b.cb.State() {
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}
