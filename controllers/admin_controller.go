package controllers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"linguahub/internal/apperr"
	"linguahub/internal/logger"
	"linguahub/middlewares"
	"linguahub/models"
	"linguahub/services"
	"linguahub/structs"
)

// AdminAuditor stores and lists admin actions
type AdminAuditor interface {
	RecordAdminAction(ctx context.Context, entry models.AdminActionLog) error
	ListAdminActions(ctx context.Context, page, limit int64) ([]models.AdminActionLog, int64, error)
}

type AdminController struct {
	svc   ProgressionService
	audit AdminAuditor
	log   *logger.Logger
}

func NewAdminController(svc ProgressionService, audit AdminAuditor, log *logger.Logger) *AdminController {
	return &AdminController{svc: svc, audit: audit, log: log.With("component", "admin_controller")}
}

// AdjustXP handles POST /admin/users/:id/xp
func (ac *AdminController) AdjustXP(c *gin.Context) {
	targetID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		respondError(c, ac.log, apperr.Validationf("Invalid user ID"))
		return
	}
	var req structs.AdjustXPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, ac.log, apperr.Validationf("Invalid input: %v", err))
		return
	}

	out, err := ac.svc.AdjustXP(c.Request.Context(), services.XPAdjustment{
		UserID: targetID.Hex(),
		Delta:  req.Delta,
		Reason: req.Reason,
	})
	if err != nil {
		respondError(c, ac.log, err)
		return
	}

	ac.logAdminAction(c, "adjust_xp", "user", targetID, map[string]interface{}{
		"delta":      req.Delta,
		"reason":     req.Reason,
		"previousXp": out.PreviousXP,
		"totalXp":    out.TotalXP,
	})
	c.JSON(http.StatusOK, out)
}

// GetLearnerTopicProgress handles GET /admin/users/:id/topics/:topicId
func (ac *AdminController) GetLearnerTopicProgress(c *gin.Context) {
	targetID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		respondError(c, ac.log, apperr.Validationf("Invalid user ID"))
		return
	}
	out, err := ac.svc.GetTopicProgress(c.Request.Context(), targetID, c.Param("topicId"))
	if err != nil {
		respondError(c, ac.log, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// GetAdminActionLogs handles GET /admin/logs?page=&limit=
func (ac *AdminController) GetAdminActionLogs(c *gin.Context) {
	page, _ := strconv.ParseInt(c.DefaultQuery("page", "1"), 10, 64)
	limit, _ := strconv.ParseInt(c.DefaultQuery("limit", "50"), 10, 64)
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 200 {
		limit = 50
	}

	logs, total, err := ac.audit.ListAdminActions(c.Request.Context(), page, limit)
	if err != nil {
		respondError(c, ac.log, apperr.Persistence("Failed to fetch logs", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"logs":  logs,
		"total": total,
		"page":  page,
		"limit": limit,
	})
}

// logAdminAction records who changed what. A failed write is logged; the
// action itself has already been applied.
func (ac *AdminController) logAdminAction(c *gin.Context, action, resourceType string, resourceID primitive.ObjectID, details map[string]interface{}) {
	adminID, _ := c.Get(middlewares.UserIDKey)
	id, _ := adminID.(primitive.ObjectID)

	userAgent := c.GetHeader("User-Agent")
	deviceInfo := "Desktop"
	if strings.Contains(userAgent, "Mobile") {
		deviceInfo = "Mobile"
	} else if strings.Contains(userAgent, "Tablet") {
		deviceInfo = "Tablet"
	}

	entry := models.AdminActionLog{
		AdminID:      id,
		AdminEmail:   c.GetString(middlewares.EmailKey),
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		IPAddress:    c.ClientIP(),
		UserAgent:    userAgent,
		DeviceInfo:   deviceInfo,
		Timestamp:    time.Now(),
		Details:      details,
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), 5*time.Second)
	defer cancel()
	if err := ac.audit.RecordAdminAction(ctx, entry); err != nil {
		ac.log.Error("failed to record admin action", "action", action, "resource_id", resourceID.Hex(), "error", err)
	}
}
