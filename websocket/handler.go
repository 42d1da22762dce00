package websocket

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"linguahub/internal/apperr"
	"linguahub/middlewares"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ProgressionHandler upgrades an authenticated request and streams the
// learner's progression events until the client goes away.
func (h *Hub) ProgressionHandler(c *gin.Context) {
	userID := c.GetString(middlewares.UserIDHexKey)
	if userID == "" {
		middlewares.AbortWithError(c, apperr.Unauthorized("User not authenticated"))
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := NewProgressionClient(conn, userID)
	h.Register(client)
	defer h.Unregister(client)

	client.enqueue(gin.H{
		"type":    "connected",
		"message": "Connected to progression updates",
		"userId":  userID,
	})
	go func() {
		if err := client.writePump(pingPeriod); err != nil {
			h.log.Debug("progression websocket write failed", "user_id", userID, "error", err)
			h.Unregister(client)
		}
	}()

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Debug("progression websocket closed", "user_id", userID, "error", err)
			}
			return
		}
	}
}
