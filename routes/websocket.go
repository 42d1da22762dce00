package routes

import (
	"github.com/gin-gonic/gin"

	"linguahub/websocket"
)

// SetupWebSocketRoutes registers the live progression feed. auth must accept
// the token as a query parameter.
func SetupWebSocketRoutes(router *gin.Engine, hub *websocket.Hub, auth gin.HandlerFunc) {
	router.GET("/ws/progression", auth, hub.ProgressionHandler)
}
