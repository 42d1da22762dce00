package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"linguahub/internal/apperr"
	"linguahub/services"
)

// LeaderboardData is the leaderboard response
type LeaderboardData struct {
	Learners []services.LeaderboardEntry `json:"learners"`
	Stats    []Stat                      `json:"stats"`
}

// Stat represents a single statistic
type Stat struct {
	Icon  string `json:"icon"`
	Value string `json:"value"`
	Label string `json:"label"`
}

// GetLeaderboard handles GET /leaderboard/xp?limit=
func (pc *ProgressionController) GetLeaderboard(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(c, pc.log, apperr.Validationf("limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	entries, err := pc.svc.Leaderboard(c.Request.Context(), userID, limit)
	if err != nil {
		respondError(c, pc.log, err)
		return
	}

	var topXP int64
	var longestStreak int
	for _, e := range entries {
		if e.TotalXP > topXP {
			topXP = e.TotalXP
		}
		if e.StreakDays > longestStreak {
			longestStreak = e.StreakDays
		}
	}
	c.JSON(http.StatusOK, LeaderboardData{
		Learners: entries,
		Stats: []Stat{
			{Icon: "users", Value: strconv.Itoa(len(entries)), Label: "LEARNERS RANKED"},
			{Icon: "star", Value: strconv.FormatInt(topXP, 10), Label: "TOP XP"},
			{Icon: "flame", Value: strconv.Itoa(longestStreak), Label: "LONGEST ACTIVE STREAK"},
		},
	})
}
