package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// XP grant reasons
const (
	XPReasonExercise        = "exercise_correct"
	XPReasonTopicCompletion = "topic_completion"
	XPReasonQuizBest        = "quiz_best_score"
	XPReasonAdmin           = "admin_adjustment"
)

// XPEvent is an append-only audit record of an XP change
type XPEvent struct {
	ID        primitive.ObjectID     `bson:"_id,omitempty" json:"id,omitempty"`
	UserID    primitive.ObjectID     `bson:"userId" json:"userId"`
	Amount    int64                  `bson:"amount" json:"amount"`
	Reason    string                 `bson:"reason" json:"reason"`
	ContentID primitive.ObjectID     `bson:"contentId,omitempty" json:"contentId,omitempty"`
	TotalXP   int64                  `bson:"totalXp" json:"totalXp"`
	CreatedAt time.Time              `bson:"createdAt" json:"createdAt"`
	Metadata  map[string]interface{} `bson:"metadata,omitempty" json:"metadata,omitempty"`
}

// Progression event types pushed to connected clients
const (
	EventXPAwarded      = "xp_awarded"
	EventLevelUp        = "level_up"
	EventTopicCompleted = "topic_completed"
	EventTopicUnlocked  = "topic_unlocked"
	EventHeartsDepleted = "hearts_depleted"
	EventStreakExtended = "streak_extended"
)

// ProgressionEvent represents a progression change to broadcast via WebSocket
type ProgressionEvent struct {
	Type      string    `json:"type"`
	UserID    string    `json:"userId"`
	Points    int64     `json:"points,omitempty"`
	TotalXP   int64     `json:"totalXp,omitempty"`
	Level     int       `json:"level,omitempty"`
	LevelName string    `json:"levelName,omitempty"`
	TopicID   string    `json:"topicId,omitempty"`
	Title     string    `json:"title,omitempty"`
	Streak    int       `json:"streak,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
