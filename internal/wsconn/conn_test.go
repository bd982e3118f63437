package wsconn

import (
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/jgtux/convogateway/internal/streambuffer"
)

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

func newTestServer(t *testing.T, handler func(*Conn)) (*httptest.Server, string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		handler(New(ws, testLogger()))
	}))
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	return srv, url
}

func TestConnWriteJSONAndClientReceives(t *testing.T) {
	_, url := newTestServer(t, func(c *Conn) {
		_ = c.WriteJSON(streambuffer.Frame{ChatID: "c1", Content: "hi", Partial: true})
	})

	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer client.Close()

	var frame streambuffer.Frame
	require.NoError(t, client.ReadJSON(&frame))
	require.Equal(t, "c1", frame.ChatID)
	require.Equal(t, "hi", frame.Content)
	require.True(t, frame.Partial)
}

func TestConnSendFrameSatisfiesStreamBufferSender(t *testing.T) {
	var _ streambuffer.Sender = (*Conn)(nil)
}

func TestConnReadJSONDecodesClientFrame(t *testing.T) {
	done := make(chan struct{})
	_, url := newTestServer(t, func(c *Conn) {
		var payload map[string]string
		require.NoError(t, c.ReadJSON(&payload))
		require.Equal(t, "identify", payload["command"])
		close(done)
	})

	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.WriteJSON(map[string]string{"command": "identify", "auth_uuid": "A"}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive frame in time")
	}
}

func TestConnPingTriggersClientPong(t *testing.T) {
	_, url := newTestServer(t, func(c *Conn) {
		require.NoError(t, c.Ping())
	})

	pongReceived := make(chan struct{})
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer client.Close()

	client.SetPingHandler(func(appData string) error {
		close(pongReceived)
		return client.WriteMessage(websocket.PongMessage, nil)
	})

	go func() {
		for {
			if _, _, err := client.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case <-pongReceived:
	case <-time.After(2 * time.Second):
		t.Fatal("client did not receive ping in time")
	}
}

func TestConnCloseIsIdempotent(t *testing.T) {
	_, url := newTestServer(t, func(c *Conn) {
		require.NoError(t, c.Close())
		require.NoError(t, c.Close())
	})

	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer client.Close()
}

func TestConnHeartbeatStopsOnSignal(t *testing.T) {
	_, url := newTestServer(t, func(c *Conn) {
		stop := make(chan struct{})
		done := make(chan struct{})
		go func() {
			c.Heartbeat(20*time.Millisecond, stop)
			close(done)
		}()
		time.Sleep(60 * time.Millisecond)
		close(stop)
		select {
		case <-done:
		case <-time.After(1 * time.Second):
			t.Error("heartbeat goroutine did not stop")
		}
	})

	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer client.Close()
	client.SetPingHandler(func(string) error { return nil })
	go func() {
		for {
			if _, _, err := client.ReadMessage(); err != nil {
				return
			}
		}
	}()
	time.Sleep(150 * time.Millisecond)
}
