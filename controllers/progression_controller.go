package controllers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"linguahub/internal/apperr"
	"linguahub/internal/logger"
	"linguahub/middlewares"
	"linguahub/services"
	"linguahub/structs"
)

// IdempotencyKeyHeader carries the client's retry key; it wins over submissionId in the body
const IdempotencyKeyHeader = "Idempotency-Key"

// ProgressionService is the part of services.ProgressionService the handlers call
type ProgressionService interface {
	SubmitExercise(ctx context.Context, userID primitive.ObjectID, req services.ExerciseSubmission) (*services.ExerciseOutcome, error)
	CompleteTopic(ctx context.Context, userID primitive.ObjectID, req services.TopicCompletion) (*services.TopicCompletionOutcome, error)
	SubmitQuiz(ctx context.Context, userID primitive.ObjectID, req services.QuizSubmission) (*services.QuizOutcome, error)
	DailyCheckIn(ctx context.Context, userID primitive.ObjectID) (*services.CheckInOutcome, error)
	GetState(ctx context.Context, userID primitive.ObjectID) (*services.LearnerState, error)
	GetTopicProgress(ctx context.Context, userID primitive.ObjectID, topicIDHex string) (*services.TopicProgressView, error)
	ListProgress(ctx context.Context, userID primitive.ObjectID, kind string) ([]services.ProgressSummary, error)
	Leaderboard(ctx context.Context, currentUserID primitive.ObjectID, limit int) ([]services.LeaderboardEntry, error)
	AdjustXP(ctx context.Context, req services.XPAdjustment) (*services.XPAdjustmentOutcome, error)
}

type ProgressionController struct {
	svc ProgressionService
	log *logger.Logger
}

func NewProgressionController(svc ProgressionService, log *logger.Logger) *ProgressionController {
	return &ProgressionController{svc: svc, log: log.With("component", "progression_controller")}
}

// SubmitExercise handles POST /progression/exercises/submit
func (pc *ProgressionController) SubmitExercise(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req structs.ExerciseSubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, pc.log, apperr.Validationf("Invalid input: %v", err))
		return
	}

	out, err := pc.svc.SubmitExercise(c.Request.Context(), userID, services.ExerciseSubmission{
		TopicID:      req.TopicID,
		ExerciseID:   req.ExerciseID,
		IsCorrect:    *req.IsCorrect,
		TimeSpent:    req.TimeSpent,
		ExerciseType: req.ExerciseType,
		SubmissionID: submissionKey(c, req.SubmissionID),
	})
	if err != nil {
		respondError(c, pc.log, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// CompleteTopic handles POST /progression/topics/complete
func (pc *ProgressionController) CompleteTopic(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req structs.TopicCompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, pc.log, apperr.Validationf("Invalid input: %v", err))
		return
	}

	out, err := pc.svc.CompleteTopic(c.Request.Context(), userID, services.TopicCompletion{
		TopicID:  req.TopicID,
		CourseID: req.CourseID,
	})
	if err != nil {
		respondError(c, pc.log, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// SubmitQuiz handles POST /progression/quizzes/submit
func (pc *ProgressionController) SubmitQuiz(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req structs.QuizSubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, pc.log, apperr.Validationf("Invalid input: %v", err))
		return
	}

	answers := make([]services.QuizAnswer, 0, len(req.Answers))
	for _, a := range req.Answers {
		answers = append(answers, services.QuizAnswer{ExerciseID: a.ExerciseID, Answer: a.Answer, IsCorrect: a.IsCorrect})
	}
	out, err := pc.svc.SubmitQuiz(c.Request.Context(), userID, services.QuizSubmission{
		QuizID:       req.QuizID,
		Answers:      answers,
		Score:        req.Score,
		TimeSpent:    req.TimeSpent,
		Passed:       req.Passed,
		SubmissionID: submissionKey(c, req.SubmissionID),
	})
	if err != nil {
		respondError(c, pc.log, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// CheckIn handles POST /progression/checkin
func (pc *ProgressionController) CheckIn(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	out, err := pc.svc.DailyCheckIn(c.Request.Context(), userID)
	if err != nil {
		respondError(c, pc.log, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (pc *ProgressionController) GetState(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	out, err := pc.svc.GetState(c.Request.Context(), userID)
	if err != nil {
		respondError(c, pc.log, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (pc *ProgressionController) GetTopicProgress(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	out, err := pc.svc.GetTopicProgress(c.Request.Context(), userID, c.Param("topicId"))
	if err != nil {
		respondError(c, pc.log, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// ListProgress handles GET /progression/overview?kind=topic|quiz
func (pc *ProgressionController) ListProgress(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	out, err := pc.svc.ListProgress(c.Request.Context(), userID, c.Query("kind"))
	if err != nil {
		respondError(c, pc.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": out})
}

func currentUser(c *gin.Context) (primitive.ObjectID, bool) {
	v, exists := c.Get(middlewares.UserIDKey)
	id, ok := v.(primitive.ObjectID)
	if !exists || !ok || id.IsZero() {
		middlewares.AbortWithError(c, apperr.Unauthorized("User not authenticated"))
		return primitive.NilObjectID, false
	}
	return id, true
}

func submissionKey(c *gin.Context, bodyKey string) string {
	if key := c.GetHeader(IdempotencyKeyHeader); key != "" {
		return key
	}
	return bodyKey
}

func respondError(c *gin.Context, log *logger.Logger, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, middlewares.ErrorBody(err))
}
