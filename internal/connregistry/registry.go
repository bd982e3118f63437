// Package connregistry implements the Connection Registry of §4.5: a
// mutex-guarded map of live connections, their bound identity, and their
// activity counters, plus the idle sweeper's cleanup_stale operation.
package connregistry

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultStaleTimeout is the idle timeout the Supervisor's sweeper applies
// by default (§5, §6 CONNECTION_TIMEOUT).
const DefaultStaleTimeout = 300 * time.Second

// Transport is the narrow capability the registry needs to tear down a
// connection: closing the underlying socket unblocks that connection's
// read loop.
type Transport interface {
	Close() error
}

// Metadata is the per-connection state tracked alongside the transport
// handle.
type Metadata struct {
	ConnectionID string    `json:"connection_id"`
	AuthID       string    `json:"auth_id,omitempty"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActivity time.Time `json:"last_activity"`
	MsgsSent     int64     `json:"msgs_sent"`
	MsgsReceived int64     `json:"msgs_received"`
}

// Identified reports whether identify() has bound an auth id.
func (m Metadata) Identified() bool { return m.AuthID != "" }

// Stats mirrors the connection-pool portion of the "stats" wire command.
type Stats struct {
	TotalConnections  int   `json:"total_connections"`
	IdentifiedCount   int   `json:"identified_connections"`
	TotalMsgsSent     int64 `json:"total_msgs_sent"`
	TotalMsgsReceived int64 `json:"total_msgs_received"`
}

type entry struct {
	transport Transport
	meta      Metadata
}

// Registry is the connection pool. All access is serialized by one mutex
// (§5): the pool is small and dominated by I/O, not contention.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	log     zerolog.Logger
}

// New constructs an empty Registry.
func New(log zerolog.Logger) *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		log:     log.With().Str("component", "connection_registry").Logger(),
	}
}

// Register adds connectionID with transport, stamping connected_at and
// last_activity to now.
func (r *Registry) Register(connectionID string, transport Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	r.entries[connectionID] = &entry{
		transport: transport,
		meta: Metadata{
			ConnectionID: connectionID,
			ConnectedAt:  now,
			LastActivity: now,
		},
	}
}

// Unregister removes connectionID without closing its transport: the
// caller is expected to already be unwinding that connection's own read
// loop.
func (r *Registry) Unregister(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, connectionID)
}

// Identify binds authID to connectionID's metadata. Returns false if the
// connection is not registered.
func (r *Registry) Identify(connectionID, authID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[connectionID]
	if !ok {
		return false
	}
	e.meta.AuthID = authID
	return true
}

// UpdateActivity stamps last_activity to now and increments the sent/
// received counters by the given deltas.
func (r *Registry) UpdateActivity(connectionID string, sent, received int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[connectionID]
	if !ok {
		return
	}
	e.meta.LastActivity = time.Now()
	e.meta.MsgsSent += sent
	e.meta.MsgsReceived += received
}

// Get returns a copy of connectionID's metadata.
func (r *Registry) Get(connectionID string) (Metadata, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[connectionID]
	if !ok {
		return Metadata{}, false
	}
	return e.meta, true
}

// Stats aggregates counters across all registered connections.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := Stats{TotalConnections: len(r.entries)}
	for _, e := range r.entries {
		if e.meta.Identified() {
			stats.IdentifiedCount++
		}
		stats.TotalMsgsSent += e.meta.MsgsSent
		stats.TotalMsgsReceived += e.meta.MsgsReceived
	}
	return stats
}

// CleanupStale closes and removes every connection whose last_activity is
// older than timeout. Returns the ids it evicted.
func (r *Registry) CleanupStale(timeout time.Duration) []string {
	if timeout <= 0 {
		timeout = DefaultStaleTimeout
	}
	cutoff := time.Now().Add(-timeout)

	r.mu.Lock()
	var stale []*entry
	var ids []string
	for id, e := range r.entries {
		if e.meta.LastActivity.Before(cutoff) {
			stale = append(stale, e)
			ids = append(ids, id)
			delete(r.entries, id)
		}
	}
	r.mu.Unlock()

	for i, e := range stale {
		if err := e.transport.Close(); err != nil {
			r.log.Debug().Str("connection_id", ids[i]).Err(err).Msg("error closing stale connection")
		}
	}
	if len(ids) > 0 {
		r.log.Info().Strs("connection_ids", ids).Msg("idle sweeper evicted stale connections")
	}
	return ids
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
