package websocket

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linguahub/middlewares"
	"linguahub/models"
)

func newTestServer(t *testing.T, hub *Hub, userID string) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws/progression", func(c *gin.Context) {
		c.Set(middlewares.UserIDHexKey, userID)
		hub.ProgressionHandler(c)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/progression"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHubDeliversOnlyToTargetLearner(t *testing.T) {
	hub := NewHub(nil)
	ana := dial(t, newTestServer(t, hub, "ana"))
	bo := dial(t, newTestServer(t, hub, "bo"))

	var hello map[string]interface{}
	require.NoError(t, ana.ReadJSON(&hello))
	assert.Equal(t, "connected", hello["type"])
	require.NoError(t, bo.ReadJSON(&hello))

	require.Eventually(t, func() bool { return hub.Connections("ana") == 1 && hub.Connections("bo") == 1 },
		time.Second, 10*time.Millisecond)

	hub.Notify("ana", models.ProgressionEvent{Type: models.EventLevelUp, UserID: "ana", Level: 2, LevelName: "elementary"})

	ana.SetReadDeadline(time.Now().Add(time.Second))
	var got models.ProgressionEvent
	require.NoError(t, ana.ReadJSON(&got))
	assert.Equal(t, models.EventLevelUp, got.Type)
	assert.Equal(t, 2, got.Level)

	bo.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	assert.Error(t, bo.ReadJSON(&got), "other learners see nothing")
}

func TestHubUnregistersOnClose(t *testing.T) {
	hub := NewHub(nil)
	conn := dial(t, newTestServer(t, hub, "ana"))
	var hello map[string]interface{}
	require.NoError(t, conn.ReadJSON(&hello))

	conn.Close()
	require.Eventually(t, func() bool { return hub.Connections("ana") == 0 }, time.Second, 10*time.Millisecond)
}

func TestHandlerRejectsAnonymous(t *testing.T) {
	hub := NewHub(nil)
	srv := newTestServer(t, hub, "")
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/progression"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 401, resp.StatusCode)
}

func TestNotifyDropsClientThatStopsReading(t *testing.T) {
	hub := NewHub(nil)
	stalled := NewProgressionClient(nil, "ana")
	hub.Register(stalled)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i <= sendBuffer; i++ {
			hub.Notify("ana", models.ProgressionEvent{Type: models.EventXPAwarded, UserID: "ana", Points: int64(i)})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on a client that is not reading")
	}
	assert.Equal(t, 0, hub.Connections("ana"))
	assert.Len(t, stalled.send, sendBuffer)

	// a dropped client is ignored from then on
	hub.Notify("ana", models.ProgressionEvent{Type: models.EventXPAwarded, UserID: "ana"})
	hub.Unregister(stalled)
}
