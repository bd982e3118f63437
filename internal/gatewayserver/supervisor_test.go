package gatewayserver

import (
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jgtux/convogateway/internal/config"
	"github.com/jgtux/convogateway/internal/streambuffer"
)

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func testConfig(llmURL string) *config.Config {
	return &config.Config{
		Transport:  config.TransportConfig{Host: "localhost", Port: 0},
		AgentCache: config.AgentCacheConfig{MaxSize: 10},
		ChatCache:  config.ChatCacheConfig{MaxSize: 10, MaxMessages: 50, MaxTokens: 10000},
		Context:    config.ContextConfig{MaxMessages: 5, Strategy: "sliding_window"},
		LLM:        config.LLMConfig{APIKey: "test", Endpoint: llmURL, Model: "test-model", Temperature: 0.5, MaxTokens: 100},
		Heartbeat:  config.HeartbeatConfig{Interval: 50 * time.Millisecond, ConnectionTimeout: 300 * time.Second},
		Stream:     config.StreamConfig{MinChunkSize: 1, MaxDelay: 50 * time.Millisecond},
		Log:        config.LogConfig{Level: "info", Format: "json"},
	}
}

func TestSupervisorHealthz(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := New(testConfig("http://localhost:0"), testLogger())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSupervisorMetricsEndpointServesPrometheusFormat(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := New(testConfig("http://localhost:0"), testLogger())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
}

func TestSupervisorWebSocketChatTurnRoundTrip(t *testing.T) {
	gin.SetMode(gin.TestMode)

	llmServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
			flusher := w.(http.Flusher)
			w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"hi there\"}}]}\n\n"))
			flusher.Flush()
			w.Write([]byte("data: [DONE]\n\n"))
			flusher.Flush()
		}
	}))
	defer llmServer.Close()

	s := New(testConfig(llmServer.URL), testLogger())
	httpServer := httptest.NewServer(s.router)
	defer httpServer.Close()

	wsURL := "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/ws"
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.WriteJSON(map[string]string{"command": "identify", "auth_uuid": "A"}))
	var ack map[string]string
	require.NoError(t, client.ReadJSON(&ack))
	assert.Equal(t, "identified", ack["type"])

	require.NoError(t, client.WriteJSON(map[string]string{
		"chat_uuid":   "c1",
		"content":     "Hi",
		"sender_uuid": "A",
	}))

	var terminal streambuffer.Frame
	client.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var frame streambuffer.Frame
		require.NoError(t, client.ReadJSON(&frame))
		if !frame.Partial {
			terminal = frame
			break
		}
	}

	assert.Equal(t, "hi there", terminal.Content)
	assert.NotEmpty(t, terminal.MessageID)
}

func TestSupervisorUnreachableLLMRepliesWithError(t *testing.T) {
	gin.SetMode(gin.TestMode)

	unreachable := "http://127.0.0.1:1"
	s := New(testConfig(unreachable), testLogger())
	httpServer := httptest.NewServer(s.router)
	defer httpServer.Close()

	wsURL := "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/ws"
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.WriteJSON(map[string]string{"command": "identify", "auth_uuid": "A"}))
	var ack map[string]string
	require.NoError(t, client.ReadJSON(&ack))

	require.NoError(t, client.WriteJSON(map[string]string{
		"chat_uuid":   "c1",
		"content":     "Hi",
		"sender_uuid": "A",
	}))

	var errFrame map[string]interface{}
	client.SetReadDeadline(time.Now().Add(10 * time.Second))
	require.NoError(t, client.ReadJSON(&errFrame))
	assert.Contains(t, errFrame, "error")
}

func TestSupervisorConstructsWithoutPanicking(t *testing.T) {
	gin.SetMode(gin.TestMode)
	assert.NotPanics(t, func() {
		New(testConfig("http://localhost:0"), testLogger())
	})
}
