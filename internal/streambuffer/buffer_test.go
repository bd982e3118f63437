package streambuffer

import (
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

type fakeSender struct {
	mu     sync.Mutex
	frames []Frame
	failAt int // index (1-based count of calls) at which to start failing; 0 = never
	calls  int
}

func (f *fakeSender) SendFrame(frame Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failAt != 0 && f.calls >= f.failAt {
		return errors.New("connection closed")
	}
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeSender) snapshot() []Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Frame, len(f.frames))
	copy(out, f.frames)
	return out
}

// TestStreamBufferBoundaryExactMinChunkNonBoundaryTail covers the boundary
// case: a token lands exactly at min_chunk but its last character is not a
// word boundary, so no flush happens until a boundary arrives or max_delay
// elapses.
func TestStreamBufferBoundaryExactMinChunkNonBoundaryTail(t *testing.T) {
	sender := &fakeSender{}
	b := New(sender, "chat-1", "agent-1", 5, 10*time.Second, testLogger())

	b.OnToken("abcde") // len 5 == min_chunk, last char 'e' not a boundary
	assert.Empty(t, sender.snapshot())

	b.OnToken("f") // still no boundary, and len=6 is under the hard ceiling (2*5=10)
	assert.Empty(t, sender.snapshot())
}

func TestStreamBufferFlushesOnWordBoundaryAtOrAboveMinChunk(t *testing.T) {
	sender := &fakeSender{}
	b := New(sender, "chat-1", "agent-1", 5, 10*time.Second, testLogger())

	b.OnToken("abcd ") // len 5 >= min_chunk, last char is a boundary
	frames := sender.snapshot()
	require.Len(t, frames, 1)
	assert.Equal(t, "abcd ", frames[0].Content)
	assert.True(t, frames[0].Partial)
}

func TestStreamBufferHardCeilingFlushesIgnoringBoundary(t *testing.T) {
	sender := &fakeSender{}
	b := New(sender, "chat-1", "agent-1", 5, 10*time.Second, testLogger())

	b.OnToken("abcdefghijk") // len 11 >= 2*min_chunk(10), last char not a boundary
	frames := sender.snapshot()
	require.Len(t, frames, 1)
	assert.Equal(t, "abcdefghijk", frames[0].Content)
}

func TestStreamBufferFlushesOnMaxDelayRegardlessOfSize(t *testing.T) {
	sender := &fakeSender{}
	b := New(sender, "chat-1", "agent-1", 50, 1*time.Millisecond, testLogger())

	b.OnToken("a")
	time.Sleep(5 * time.Millisecond)
	b.OnToken("b")

	frames := sender.snapshot()
	require.Len(t, frames, 1)
	assert.Equal(t, "ab", frames[0].Content)
}

// TestStreamBufferScenario6 is end-to-end scenario 6: min_chunk=5,
// max_delay=10s, tokens "Hel","lo ","wor","ld.". The first partial flush
// carries "Hello ", and the terminal frame carries the full "Hello world."
func TestStreamBufferScenario6(t *testing.T) {
	sender := &fakeSender{}
	b := New(sender, "chat-1", "agent-1", 5, 10*time.Second, testLogger())

	for _, tok := range []string{"Hel", "lo ", "wor", "ld."} {
		b.OnToken(tok)
	}
	b.OnComplete(b.FullResponse())

	frames := sender.snapshot()
	require.NotEmpty(t, frames)
	assert.Equal(t, "Hello ", frames[0].Content)
	assert.True(t, frames[0].Partial)

	terminal := frames[len(frames)-1]
	assert.False(t, terminal.Partial)
	assert.Equal(t, "Hello world.", terminal.Content)
	assert.NotEmpty(t, terminal.MessageID)
	assert.NotEmpty(t, terminal.ContentID)

	var partials strings.Builder
	for _, f := range frames {
		if f.Partial {
			partials.WriteString(f.Content)
		}
	}
	assert.Equal(t, terminal.Content, partials.String())
}

func TestStreamBufferOnCompleteFlushesRemainingBuffer(t *testing.T) {
	sender := &fakeSender{}
	b := New(sender, "chat-1", "agent-1", 50, 10*time.Second, testLogger())

	b.OnToken("short")
	assert.Empty(t, sender.snapshot())

	b.OnComplete("short")
	frames := sender.snapshot()
	require.Len(t, frames, 2)
	assert.True(t, frames[0].Partial)
	assert.Equal(t, "short", frames[0].Content)
	assert.False(t, frames[1].Partial)
	assert.Equal(t, "short", frames[1].Content)
}

func TestStreamBufferSwallowsTransportErrorAndPreservesFullResponse(t *testing.T) {
	sender := &fakeSender{failAt: 1}
	b := New(sender, "chat-1", "agent-1", 5, 10*time.Second, testLogger())

	b.OnToken("abcd ") // triggers a flush attempt, which fails
	assert.True(t, b.Closed())

	b.OnToken("more")
	b.OnComplete("abcd more")

	assert.Equal(t, "abcd more", b.FullResponse())
	assert.Empty(t, sender.snapshot())
}
