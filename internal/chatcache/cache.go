// Package chatcache implements the Chat LRU Cache of §4.2: a bounded
// chat_id -> ChatSession map with full/incremental history reconciliation
// against an external snapshot, size-based secondary eviction, and
// sliding-window context assembly for the LLM call.
package chatcache

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jgtux/convogateway/internal/entities"
	"github.com/jgtux/convogateway/internal/lrucache"
)

// Defaults from §4.2.
const (
	DefaultCapacity       = 100   // N_c
	DefaultMaxMessages    = 200   // M_msgs
	DefaultMaxTokens      = 50000 // M_tokens
	DefaultWindow         = 20    // W
	desyncToleranceExtra  = 10    // the "last + 10" in the auto decision table
)

// SyncMode selects how sync_messages reconciles incoming history against
// the cached session.
type SyncMode string

const (
	SyncAuto        SyncMode = "auto"
	SyncFull        SyncMode = "full"
	SyncIncremental SyncMode = "incremental"
)

// Turn is one entry of the assembled LLM context: a system, user, or
// assistant role carrying literal content.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Stats mirrors the chat cache's counters for the "stats" wire command.
type Stats struct {
	Size                int   `json:"size"`
	Capacity            int   `json:"capacity"`
	Hits                int64 `json:"hits"`
	Misses              int64 `json:"misses"`
	FullReloads         int64 `json:"full_reloads"`
	IncrementalUpdates  int64 `json:"incremental_updates"`
	LRUEvictions        int64 `json:"lru_evictions"`
	SizeEvictions       int64 `json:"size_evictions"`
	TotalEvictions      int64 `json:"total_evictions"`
}

// Cache is the Chat LRU cache. All public methods are serialized by one
// mutex: the cache is small and contention is dominated by LLM-call
// latency, so fine-grained per-session locking is not required (§5).
type Cache struct {
	mu sync.Mutex

	lru *lrucache.LRU[string, *entities.ChatSession]

	capacity    int
	maxMessages int
	maxTokens   int
	window      int

	hits, misses                 int64
	fullReloads, incrementalSync int64
	lruEvictions, sizeEvictions  int64

	log zerolog.Logger
}

// Config carries the tunables of §4.2; zero values fall back to the
// spec's defaults.
type Config struct {
	Capacity    int
	MaxMessages int
	MaxTokens   int
	Window      int
}

// New constructs a Cache from cfg, applying defaults for zero fields.
func New(cfg Config, log zerolog.Logger) *Cache {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = DefaultMaxMessages
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	return &Cache{
		lru:         lrucache.New[string, *entities.ChatSession](cfg.Capacity),
		capacity:    cfg.Capacity,
		maxMessages: cfg.MaxMessages,
		maxTokens:   cfg.MaxTokens,
		window:      cfg.Window,
		log:         log.With().Str("component", "chat_cache").Logger(),
	}
}

// GetOrCreate returns the session for chatID, creating an empty one (and
// evicting the LRU entry if the cache is full) if absent.
func (c *Cache) GetOrCreate(chatID, agentID, authID string) *entities.ChatSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getOrCreateLocked(chatID, agentID, authID)
}

func (c *Cache) getOrCreateLocked(chatID, agentID, authID string) *entities.ChatSession {
	if session, ok := c.lru.Get(chatID); ok {
		c.hits++
		session.Chat.AccessedAt = time.Now()
		return session
	}
	c.misses++
	session := entities.NewChatSession(chatID, agentID, authID, time.Now())
	c.insertLocked(chatID, session)
	return session
}

func (c *Cache) insertLocked(chatID string, session *entities.ChatSession) {
	wasFull := c.lru.Len() >= c.capacity
	if _, exists := c.lru.Get(chatID); exists {
		wasFull = false
	}
	c.lru.Put(chatID, session, func(string, *entities.ChatSession) {
		if wasFull {
			c.lruEvictions++
		}
	})
}

// AddNewMessage appends msg to the session for msg.ChatID, creating the
// session if absent. Does not trigger the oversize check: the model's own
// output is reconciled on the next external sync.
func (c *Cache) AddNewMessage(msg entities.Message) *entities.ChatSession {
	c.mu.Lock()
	defer c.mu.Unlock()

	session := c.getOrCreateLocked(msg.ChatID, "", "")
	session.Append(msg)
	session.Chat.UpdatedAt = time.Now()
	return session
}

// BadHistoryItemError is returned by SyncMessages when an incoming element
// is missing required fields (§4.2.5).
type BadHistoryItemError struct {
	Index int
}

func (e *BadHistoryItemError) Error() string {
	return "chat history item is malformed"
}

// SyncMessages reconciles incoming against the cached session per the
// decision table of §4.2.2, then runs the oversize check.
func (c *Cache) SyncMessages(chatID, agentID, authID string, incoming []entities.HistoryMessage, mode SyncMode) (*entities.ChatSession, error) {
	for i, h := range incoming {
		if !h.Valid() {
			return nil, &BadHistoryItemError{Index: i}
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	session := c.getOrCreateLocked(chatID, agentID, authID)

	action := c.resolveAction(session, incoming, mode)
	switch action {
	case syncFullReload:
		c.reloadLocked(session, incoming)
	case syncIncremental:
		c.appendSuffixLocked(session, incoming)
	}

	c.checkOversizeLocked(chatID, session, incoming)

	return c.mustGetLocked(chatID), nil
}

type syncAction int

const (
	syncFullReload syncAction = iota
	syncIncremental
)

// resolveAction implements the decision table of §4.2.2.
func (c *Cache) resolveAction(session *entities.ChatSession, incoming []entities.HistoryMessage, mode SyncMode) syncAction {
	switch mode {
	case SyncFull:
		return syncFullReload
	case SyncIncremental:
		return syncIncremental
	default: // auto
		if len(session.Messages) == 0 {
			return syncFullReload
		}
		n := len(incoming)
		last := session.LastMessageCount
		if n < last || n > last+desyncToleranceExtra {
			return syncFullReload
		}
		return syncIncremental
	}
}

func toMessage(chatID string, h entities.HistoryMessage) entities.Message {
	senderKind := h.SenderKind
	if senderKind == "" {
		senderKind = entities.KindAuth
	}
	receiverKind := h.ReceiverKind
	if receiverKind == "" {
		receiverKind = entities.KindAgent
	}
	createdAt := time.Now()
	if h.CreatedAtString != "" {
		if t, err := time.Parse(time.RFC3339, h.CreatedAtString); err == nil {
			createdAt = t
		}
	}
	return entities.Message{
		ID:           h.MessageID,
		SenderID:     h.SenderID,
		SenderKind:   senderKind,
		ReceiverID:   h.ReceiverID,
		ReceiverKind: receiverKind,
		ChatID:       chatID,
		ContentID:    h.ContentID,
		Content:      h.ResolvedContent(),
		CreatedAt:    createdAt,
	}
}

// reloadLocked replaces the session's messages with incoming, sorted
// ascending, and resets last_message_count. Used by both full-mode sync
// and auto-mode desync recovery.
func (c *Cache) reloadLocked(session *entities.ChatSession, incoming []entities.HistoryMessage) {
	msgs := make([]entities.Message, 0, len(incoming))
	for _, h := range incoming {
		msgs = append(msgs, toMessage(session.Chat.ID, h))
	}
	session.Messages = msgs
	session.SortMessages()
	session.LastMessageCount = len(incoming)
	c.fullReloads++
}

// appendSuffixLocked appends incoming[len(session.Messages):] and updates
// last_message_count to the new length.
func (c *Cache) appendSuffixLocked(session *entities.ChatSession, incoming []entities.HistoryMessage) {
	start := len(session.Messages)
	if start > len(incoming) {
		start = len(incoming)
	}
	for _, h := range incoming[start:] {
		session.Append(toMessage(session.Chat.ID, h))
	}
	session.LastMessageCount = len(incoming)
	c.incrementalSync++
}

// checkOversizeLocked evicts and recreates the session, loading only the
// last W messages of incoming, when the session exceeds M_msgs messages or
// M_tokens estimated tokens. Best-effort: it never fails.
func (c *Cache) checkOversizeLocked(chatID string, session *entities.ChatSession, incoming []entities.HistoryMessage) {
	if len(session.Messages) <= c.maxMessages && session.EstimatedTokens() <= c.maxTokens {
		return
	}

	c.sizeEvictions++
	c.lru.Remove(chatID)

	fresh := entities.NewChatSession(chatID, session.Chat.AgentID, session.Chat.AuthID, time.Now())

	tail := incoming
	if len(tail) > c.window {
		tail = tail[len(tail)-c.window:]
	}
	for _, h := range tail {
		fresh.Append(toMessage(chatID, h))
	}
	fresh.SortMessages()
	fresh.LastMessageCount = len(incoming)

	c.insertLocked(chatID, fresh)

	c.log.Warn().
		Str("chat_id", chatID).
		Int("window", c.window).
		Msg("chat session size-evicted and trimmed to sliding window")
}

func (c *Cache) mustGetLocked(chatID string) *entities.ChatSession {
	session, _ := c.lru.Get(chatID)
	return session
}

// AssembleContext returns a system turn carrying systemPrompt followed by
// the tail of the session's messages (last Window if sliding, else all),
// each mapped to an assistant or user turn by sender kind.
func (c *Cache) AssembleContext(chatID, agentID, authID, systemPrompt string, sliding bool) []Turn {
	c.mu.Lock()
	session := c.getOrCreateLocked(chatID, agentID, authID)
	window := 0
	if sliding {
		window = c.window
	}
	tail := session.Tail(window)
	turns := make([]Turn, 0, len(tail)+1)
	turns = append(turns, Turn{Role: "system", Content: systemPrompt})
	for _, m := range tail {
		role := "user"
		if m.SenderKind == entities.KindAgent {
			role = "assistant"
		}
		turns = append(turns, Turn{Role: role, Content: m.Content})
	}
	c.mu.Unlock()
	return turns
}

// Stats returns a snapshot of the cache's counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Size:               c.lru.Len(),
		Capacity:           c.capacity,
		Hits:               c.hits,
		Misses:             c.misses,
		FullReloads:        c.fullReloads,
		IncrementalUpdates: c.incrementalSync,
		LRUEvictions:       c.lruEvictions,
		SizeEvictions:      c.sizeEvictions,
		TotalEvictions:     c.lruEvictions + c.sizeEvictions,
	}
}
