package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func startHub(t *testing.T, maxConnections int) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(zaptest.NewLogger(t), maxConnections)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, r.URL.Query().Get("device"))
	}))
	t.Cleanup(func() {
		server.Close()
		cancel()
		<-hub.done
	})
	return hub, server
}

func dial(t *testing.T, server *httptest.Server, device string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/?device=" + device
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHub_BroadcastToRoom(t *testing.T) {
	hub, server := startHub(t, 10)

	pack1 := dial(t, server, "pack-1")
	pack2 := dial(t, server, "pack-2")
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, 2*time.Second, 10*time.Millisecond)

	hub.BroadcastToRoom("pack-1", "snapshot", map[string]int{"samples": 12})
	hub.BroadcastToRoom("pack-2", "alert", "cell_3")

	msg := readMessage(t, pack1)
	assert.Equal(t, "snapshot", msg.Type)
	assert.Equal(t, "pack-1", msg.Room)
	assert.Equal(t, map[string]interface{}{"samples": float64(12)}, msg.Data)

	msg = readMessage(t, pack2)
	assert.Equal(t, "alert", msg.Type)
	assert.Equal(t, "cell_3", msg.Data)
}

func TestHub_Subscribe(t *testing.T) {
	hub, server := startHub(t, 10)

	conn := dial(t, server, "pack-1")
	require.Eventually(t, func() bool { return hub.RoomSize("pack-1") == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(Message{Type: TypeSubscribe, Room: "pack-9"}))
	ack := readMessage(t, conn)
	assert.Equal(t, TypeSubscribed, ack.Type)
	assert.Equal(t, 0, hub.RoomSize("pack-1"))
	assert.Equal(t, 1, hub.RoomSize("pack-9"))

	hub.BroadcastToRoom("pack-9", "snapshot", nil)
	assert.Equal(t, "snapshot", readMessage(t, conn).Type)
}

func TestHub_ConnectionLimit(t *testing.T) {
	hub, server := startHub(t, 1)

	dial(t, server, "pack-1")
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/?device=pack-1"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHub_UnregisterOnClose(t *testing.T) {
	hub, server := startHub(t, 10)

	conn := dial(t, server, "pack-1")
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}
