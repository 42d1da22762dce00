package routes

import (
	"github.com/gin-gonic/gin"

	"linguahub/controllers"
	"linguahub/middlewares"
)

// SetupAdminRoutes sets up admin routes on an authenticated group.
// Admins are granted with cmd/addadmin; there is no signup endpoint.
func SetupAdminRoutes(router *gin.RouterGroup, ac *controllers.AdminController, rbac *middlewares.RBAC) {
	admin := router.Group("/admin")
	admin.Use(middlewares.RequireAdmin())
	{
		admin.POST("/users/:id/xp", rbac.Require("user", "adjust_xp"), ac.AdjustXP)
		admin.GET("/users/:id/topics/:topicId", rbac.Require("progress", "read"), ac.GetLearnerTopicProgress)

		// Admin action logs
		admin.GET("/logs", rbac.Require("progress", "read"), ac.GetAdminActionLogs)
	}
}
