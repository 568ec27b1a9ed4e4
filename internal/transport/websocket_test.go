package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blinktrade/internal/ws"
)

// echoServer replies to every text frame with the same payload.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()

	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if string(data) == "bye" {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestNewWSClient(t *testing.T) {
	client := NewWSClient(WSConfig{URL: "wss://example.com/ws", PingInterval: 10 * time.Second})

	assert.NotNil(t, client)
	assert.False(t, client.IsConnected())
	assert.Equal(t, ws.StateDisconnected, client.State())
	assert.Equal(t, 10*time.Second, client.config.HandshakeTimeout)
	assert.Equal(t, 10*time.Second, client.config.PongWait)
	assert.Equal(t, 256, client.config.BufferSize)
}

func TestWSClient_Subscribe(t *testing.T) {
	client := NewWSClient(WSConfig{URL: "wss://example.com/ws"})

	handler := func(data []byte) error { return nil }

	err := client.Subscribe("test-channel", handler)
	assert.NoError(t, err)
	assert.Error(t, client.Subscribe("nil", nil))

	subs := client.Subscriptions()
	assert.Len(t, subs, 1)
	assert.Contains(t, subs, "test-channel")
}

func TestWSClient_Unsubscribe(t *testing.T) {
	client := NewWSClient(WSConfig{URL: "wss://example.com/ws"})

	handler := func(data []byte) error { return nil }
	_ = client.Subscribe("test-channel", handler)

	err := client.Unsubscribe("test-channel")
	assert.NoError(t, err)
	assert.Error(t, client.Unsubscribe("test-channel"))

	subs := client.Subscriptions()
	assert.Len(t, subs, 0)
}

func TestWSClient_WriteMessage_NotConnected(t *testing.T) {
	client := NewWSClient(WSConfig{URL: "wss://example.com/ws"})

	err := client.WriteMessage([]byte("test"))
	assert.ErrorIs(t, err, ErrWSNotConnected)
}

func TestWSClient_SendPing_NotConnected(t *testing.T) {
	client := NewWSClient(WSConfig{URL: "wss://example.com/ws"})

	err := client.SendPing()
	assert.ErrorIs(t, err, ErrWSNotConnected)
}

func TestWSClient_EchoPreservesOrder(t *testing.T) {
	server := echoServer(t)
	defer server.Close()

	client := NewWSClient(WSConfig{URL: wsURL(server), BufferSize: 1})
	defer client.Close()

	received := make(chan string, 64)
	require.NoError(t, client.Subscribe("echo", func(data []byte) error {
		received <- string(data)
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.Connect(ctx))
	assert.True(t, client.IsConnected())
	require.NoError(t, client.Connect(ctx))

	const n = 50
	for i := range n {
		require.NoError(t, client.SendJSON(map[string]int{"seq": i}))
	}

	for i := range n {
		select {
		case msg := <-received:
			assert.JSONEq(t, `{"seq":`+strconv.Itoa(i)+`}`, msg)
		case <-ctx.Done():
			t.Fatalf("timed out waiting for message %d", i)
		}
	}
}

func TestWSClient_OnDisconnect(t *testing.T) {
	server := echoServer(t)
	defer server.Close()

	client := NewWSClient(WSConfig{URL: wsURL(server)})
	defer client.Close()

	disconnected := make(chan error, 1)
	client.OnDisconnect(func(err error) { disconnected <- err })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.Connect(ctx))

	require.NoError(t, client.WriteMessage([]byte("bye")))

	select {
	case <-disconnected:
	case <-ctx.Done():
		t.Fatal("disconnect callback not invoked")
	}
	assert.Equal(t, ws.StateDisconnected, client.State())
}

func TestWSClient_Close(t *testing.T) {
	server := echoServer(t)
	defer server.Close()

	client := NewWSClient(WSConfig{URL: wsURL(server)})

	called := make(chan struct{}, 1)
	client.OnDisconnect(func(error) { called <- struct{}{} })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.Connect(ctx))

	require.NoError(t, client.Close())
	require.NoError(t, client.Close())
	assert.Equal(t, ws.StateClosed, client.State())
	assert.ErrorIs(t, client.WriteMessage([]byte("x")), ErrWSNotConnected)
	assert.Error(t, client.Connect(ctx))

	select {
	case <-called:
		t.Fatal("disconnect callback must not run for a local close")
	case <-time.After(50 * time.Millisecond):
	}
}
