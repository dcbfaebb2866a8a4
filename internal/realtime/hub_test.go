package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T, origins []string, allowNoOrigin bool) (*Hub, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := NewHub(origins, allowNoOrigin)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	r := gin.New()
	r.GET("/ws/leaderboard", hub.HandleWebSocket)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/leaderboard"
}

func dial(t *testing.T, url, origin string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.ClientCount() == n }, 2*time.Second, 10*time.Millisecond)
}

func TestBroadcastLeaderboard(t *testing.T) {
	hub, url := startHub(t, []string{"https://trustmymrr.com"}, false)

	conn := dial(t, url, "https://trustmymrr.com")
	waitForClients(t, hub, 1)

	require.NoError(t, hub.BroadcastLeaderboard([]map[string]interface{}{{"rank": 1, "slug": "acme-io"}}))

	msg := readMessage(t, conn)
	assert.Equal(t, MessageTypeLeaderboard, msg.Type)
	assert.False(t, msg.Timestamp.IsZero())
	entries, ok := msg.Data.([]interface{})
	require.True(t, ok)
	require.Len(t, entries, 1)
	assert.Equal(t, "acme-io", entries[0].(map[string]interface{})["slug"])
}

func TestLatestSnapshotReplayedOnConnect(t *testing.T) {
	hub, url := startHub(t, nil, true)

	require.NoError(t, hub.BroadcastLeaderboard([]string{"first"}))
	require.NoError(t, hub.BroadcastLeaderboard([]string{"second"}))

	conn := dial(t, url, "")
	msg := readMessage(t, conn)
	assert.Equal(t, MessageTypeLeaderboard, msg.Type)
	assert.Equal(t, []interface{}{"second"}, msg.Data)
}

func TestHeartbeat(t *testing.T) {
	hub, url := startHub(t, nil, true)
	conn := dial(t, url, "")
	waitForClients(t, hub, 1)

	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypeHeartbeat}))
	msg := readMessage(t, conn)
	assert.Equal(t, MessageTypeHeartbeat, msg.Type)
}

func TestOriginCheck(t *testing.T) {
	_, url := startHub(t, []string{"https://trustmymrr.com/"}, false)

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	_, _, err = websocket.DefaultDialer.Dial(url, nil)
	assert.Error(t, err)

	conn := dial(t, url, "https://trustmymrr.com")
	assert.NotNil(t, conn)
}

func TestUnregisterOnClose(t *testing.T) {
	hub, url := startHub(t, nil, true)
	conn := dial(t, url, "")
	waitForClients(t, hub, 1)

	require.NoError(t, conn.Close())
	waitForClients(t, hub, 0)
}
