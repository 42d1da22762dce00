package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ProgressStatus is the lifecycle of a ledger entry. It only moves forward.
type ProgressStatus string

const (
	StatusNotStarted ProgressStatus = "not-started"
	StatusInProgress ProgressStatus = "in-progress"
	StatusCompleted  ProgressStatus = "completed"
)

// ProgressKind says what the ledger entry is keyed on
type ProgressKind string

const (
	KindTopic ProgressKind = "topic"
	KindQuiz  ProgressKind = "quiz"
)

// ExerciseResult is the latest recorded answer for one exercise
type ExerciseResult struct {
	IsCorrect        bool      `bson:"isCorrect" json:"isCorrect"`
	TimeSpent        int       `bson:"timeSpent" json:"timeSpent"`
	AttemptCount     int       `bson:"attemptCount" json:"attemptCount"`
	EverCorrect      bool      `bson:"everCorrect" json:"everCorrect"`
	ExerciseType     string    `bson:"exerciseType,omitempty" json:"exerciseType,omitempty"`
	LastSubmissionID string    `bson:"lastSubmissionId,omitempty" json:"-"`
	UpdatedAt        time.Time `bson:"updatedAt" json:"updatedAt"`
}

// ProgressEntry is the per-(user, topic) or per-(user, quiz) progress ledger record
type ProgressEntry struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	UserID    primitive.ObjectID `bson:"userId" json:"userId"`
	Kind      ProgressKind       `bson:"kind" json:"kind"`
	ContentID primitive.ObjectID `bson:"contentId" json:"contentId"`
	CourseID  primitive.ObjectID `bson:"courseId,omitempty" json:"courseId,omitempty"`

	Status                  ProgressStatus            `bson:"status" json:"status"`
	ExerciseResults         map[string]ExerciseResult `bson:"exerciseResults" json:"exerciseResults"`
	Score                   int                       `bson:"score" json:"score"`
	ExercisesCompletedCount int                       `bson:"exercisesCompletedCount" json:"exercisesCompletedCount"`
	CompletedAt             *time.Time                `bson:"completedAt,omitempty" json:"completedAt,omitempty"`
	CompletionBonusAwarded  bool                      `bson:"completionBonusAwarded" json:"completionBonusAwarded"`
	LastAccessedAt          time.Time                 `bson:"lastAccessedAt" json:"lastAccessedAt"`
	TotalTimeSpent          int64                     `bson:"totalTimeSpent" json:"totalTimeSpent"`

	// Quiz entries only
	BestScore        int    `bson:"bestScore,omitempty" json:"bestScore,omitempty"`
	Attempts         int    `bson:"attempts,omitempty" json:"attempts,omitempty"`
	Passed           bool   `bson:"passed,omitempty" json:"passed,omitempty"`
	LastAnswerCount  int    `bson:"lastAnswerCount,omitempty" json:"lastAnswerCount,omitempty"`
	LastCorrectCount int    `bson:"lastCorrectCount,omitempty" json:"lastCorrectCount,omitempty"`
	LastSubmissionID string `bson:"lastSubmissionId,omitempty" json:"-"`

	Version   int64     `bson:"version" json:"-"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}

// NewProgressEntry returns an unsaved, not-started entry
func NewProgressEntry(userID primitive.ObjectID, kind ProgressKind, contentID primitive.ObjectID, now time.Time) *ProgressEntry {
	return &ProgressEntry{
		UserID:          userID,
		Kind:            kind,
		ContentID:       contentID,
		Status:          StatusNotStarted,
		ExerciseResults: map[string]ExerciseResult{},
		LastAccessedAt:  now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Clone deep-copies the entry
func (e *ProgressEntry) Clone() *ProgressEntry {
	c := *e
	if e.ExerciseResults != nil {
		c.ExerciseResults = make(map[string]ExerciseResult, len(e.ExerciseResults))
		for k, v := range e.ExerciseResults {
			c.ExerciseResults[k] = v
		}
	}
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// IsCompleted reports whether the entry reached its terminal state
func (e *ProgressEntry) IsCompleted() bool {
	return e.Status == StatusCompleted
}
