package routes

import (
	"github.com/gin-gonic/gin"

	"linguahub/controllers"
)

func SetupLeaderboardRoutes(router *gin.RouterGroup, pc *controllers.ProgressionController) {
	router.GET("/leaderboard/xp", pc.GetLeaderboard)
}
