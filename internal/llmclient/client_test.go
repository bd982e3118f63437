package llmclient

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func TestCompleteStreamDeliversTokensThenCompletes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		require.True(t, ok)
		w.Header().Set("Content-Type", "text/event-stream")
		for _, tok := range []string{"Hel", "lo"} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", tok)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
	defer server.Close()

	c := New(Config{Endpoint: server.URL}, nil, testLogger())

	sink := &recordingSink{}
	err := c.CompleteStream(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}}, sink)
	require.NoError(t, err)

	assert.Equal(t, []string{"Hel", "lo"}, sink.tokens())
	assert.Equal(t, "Hello", sink.complete())
}

type recordingSink struct {
	mu       sync.Mutex
	received []string
	final    string
}

func (s *recordingSink) OnToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received = append(s.received, token)
}

func (s *recordingSink) OnComplete(finalText string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.final = finalText
}

func (s *recordingSink) tokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.received))
	copy(out, s.received)
	return out
}

func (s *recordingSink) complete() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.final
}
