// Package streambuffer implements the Stream Buffer of §4.4: a per-turn
// token accumulator that flushes to the transport on word boundaries,
// under size and delay constraints, and emits a terminal frame on
// completion.
package streambuffer

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultMinChunk and DefaultMaxDelay are the spec's tunables.
const (
	DefaultMinChunk = 50
	DefaultMaxDelay = 300 * time.Millisecond
)

// wordBoundary is the fixed set of characters that may terminate a
// flushable chunk.
var wordBoundary = map[byte]bool{
	' ': true, '\t': true, '\n': true,
	'.': true, '!': true, '?': true, ';': true, ':': true, '-': true,
}

// Frame is one outbound wire frame carrying a model response fragment or
// the terminal full response.
type Frame struct {
	ChatID    string `json:"chat_uuid"`
	AgentID   string `json:"agent_uuid"`
	Content   string `json:"content"`
	Partial   bool   `json:"partial"`
	MessageID string `json:"message_uuid,omitempty"`
	ContentID string `json:"message_content_uuid,omitempty"`
}

// Sender delivers a frame to the connection's transport. Implementations
// return an error when the underlying connection is closed.
type Sender interface {
	SendFrame(Frame) error
}

// Buffer is the token sink for one chat turn. It satisfies the narrow
// TokenSink capability the LLM client calls into: OnToken per generated
// token, OnComplete once when generation finishes.
type Buffer struct {
	mu sync.Mutex

	sender  Sender
	chatID  string
	agentID string
	log     zerolog.Logger

	minChunk int
	maxDelay time.Duration

	fullResponse strings.Builder
	buffer       strings.Builder
	lastSend     time.Time
	closed       bool
}

// New constructs a Buffer for one turn. minChunk/maxDelay of zero fall
// back to the spec defaults.
func New(sender Sender, chatID, agentID string, minChunk int, maxDelay time.Duration, log zerolog.Logger) *Buffer {
	if minChunk <= 0 {
		minChunk = DefaultMinChunk
	}
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	return &Buffer{
		sender:   sender,
		chatID:   chatID,
		agentID:  agentID,
		minChunk: minChunk,
		maxDelay: maxDelay,
		lastSend: time.Now(),
		log:      log.With().Str("component", "stream_buffer").Str("chat_id", chatID).Logger(),
	}
}

// OnToken appends token to the accumulating response and the transient
// buffer, flushing the buffer as a partial frame if any of the three
// flush conditions holds.
func (b *Buffer) OnToken(token string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.fullResponse.WriteString(token)
	b.buffer.WriteString(token)

	if b.shouldFlush() {
		b.flushLocked()
	}
}

func (b *Buffer) shouldFlush() bool {
	if time.Since(b.lastSend) >= b.maxDelay {
		return true
	}
	n := b.buffer.Len()
	if n == 0 {
		return false
	}
	if n >= 2*b.minChunk {
		return true
	}
	if n >= b.minChunk {
		content := b.buffer.String()
		if wordBoundary[content[len(content)-1]] {
			return true
		}
	}
	return false
}

// flushLocked sends buffer as a partial frame and clears it. Called with
// mu held.
func (b *Buffer) flushLocked() {
	if b.buffer.Len() == 0 {
		return
	}
	frame := Frame{
		ChatID:  b.chatID,
		AgentID: b.agentID,
		Content: b.buffer.String(),
		Partial: true,
	}
	b.buffer.Reset()
	b.lastSend = time.Now()
	b.sendLocked(frame)
}

// sendLocked delivers frame, swallowing and logging a transport error: a
// dead connection stops the stream without aborting the in-flight LLM
// call.
func (b *Buffer) sendLocked(frame Frame) {
	if b.closed {
		return
	}
	if err := b.sender.SendFrame(frame); err != nil {
		b.closed = true
		b.log.Warn().Err(err).Bool("partial", frame.Partial).Msg("stream transport closed, dropping remaining frames")
	}
}

// OnComplete flushes any remaining buffer, then emits the terminal frame
// carrying the full accumulated response and freshly minted ids. finalText
// is accepted for interface parity with the LLM client's completion
// callback but is not otherwise consulted: full_response is authoritative.
func (b *Buffer) OnComplete(finalText string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.flushLocked()

	terminal := Frame{
		ChatID:    b.chatID,
		AgentID:   b.agentID,
		Content:   b.fullResponse.String(),
		Partial:   false,
		MessageID: uuid.NewString(),
		ContentID: uuid.NewString(),
	}
	b.sendLocked(terminal)
}

// FullResponse returns the accumulated response so far. Valid to call
// even after the transport has closed: the Session Handler persists it to
// the chat cache regardless of whether the terminal frame was delivered.
func (b *Buffer) FullResponse() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fullResponse.String()
}

// Closed reports whether the transport has been observed closed.
func (b *Buffer) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
