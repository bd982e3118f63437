package entities

import (
	"sort"
	"time"
)

// Chat identifies one conversation between a user and an agent. AgentID
// and AuthID are immutable for the life of the session object once the
// chat has been created in the cache.
type Chat struct {
	ID         string
	AgentID    string
	AuthID     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	AccessedAt time.Time
}

// ChatSession owns a Chat and its insertion-ordered message sequence.
// LastMessageCount records the length as of the most recent external
// sync, used by the chat cache to detect desync against a fresh
// chat_history snapshot.
type ChatSession struct {
	Chat              Chat
	Messages          []Message
	LastMessageCount  int
}

// NewChatSession constructs an empty session for chatID/agentID/authID.
func NewChatSession(chatID, agentID, authID string, now time.Time) *ChatSession {
	return &ChatSession{
		Chat: Chat{
			ID:         chatID,
			AgentID:    agentID,
			AuthID:     authID,
			CreatedAt:  now,
			UpdatedAt:  now,
			AccessedAt: now,
		},
	}
}

// SortMessages enforces the ascending-by-CreatedAt invariant. Stable so
// that ties (equal timestamps) preserve arrival order.
func (s *ChatSession) SortMessages() {
	sort.SliceStable(s.Messages, func(i, j int) bool {
		return s.Messages[i].CreatedAt.Before(s.Messages[j].CreatedAt)
	})
}

// Append adds a message to the end of the sequence without re-sorting.
// Used for the model's own output and for incremental-sync suffixes,
// where the caller already knows the message sorts after the tail.
func (s *ChatSession) Append(msg Message) {
	s.Messages = append(s.Messages, msg)
}

// EstimatedTokens is the cheap total_content_characters/4 estimate used for
// the oversize check. Deliberately not an exact tokenizer.
func (s *ChatSession) EstimatedTokens() int {
	chars := 0
	for _, m := range s.Messages {
		chars += len(m.Content)
	}
	return chars / 4
}

// Tail returns the last n messages, or all of them if there are fewer than
// n. n <= 0 returns the full sequence.
func (s *ChatSession) Tail(n int) []Message {
	if n <= 0 || n >= len(s.Messages) {
		return s.Messages
	}
	return s.Messages[len(s.Messages)-n:]
}
