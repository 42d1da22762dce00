package routes

import (
	"github.com/gin-gonic/gin"

	"linguahub/controllers"
)

// SetupProgressionRoutes registers the learner's progression endpoints on an
// authenticated group. Write endpoints go through the submission rate limiter.
func SetupProgressionRoutes(router *gin.RouterGroup, pc *controllers.ProgressionController, rateLimit gin.HandlerFunc) {
	progression := router.Group("/progression")
	{
		progression.GET("/state", pc.GetState)
		progression.GET("/overview", pc.ListProgress)
		progression.GET("/topics/:topicId", pc.GetTopicProgress)

		progression.POST("/exercises/submit", rateLimit, pc.SubmitExercise)
		progression.POST("/topics/complete", rateLimit, pc.CompleteTopic)
		progression.POST("/quizzes/submit", rateLimit, pc.SubmitQuiz)
		progression.POST("/checkin", pc.CheckIn)
	}
}
