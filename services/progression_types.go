package services

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"linguahub/models"
)

// ProgressionStore is the learner and ledger persistence the orchestrator needs.
// Commit writes the user and the entry (either may be nil) atomically, each
// conditional on the version the caller loaded; a lost race writes nothing and
// is reported as db.ErrVersionConflict, a missing document as db.ErrNotFound.
type ProgressionStore interface {
	GetUser(ctx context.Context, id primitive.ObjectID) (*models.User, error)
	EnsureUser(ctx context.Context, externalID, email, displayName string, maxHearts int, now time.Time) (*models.User, error)
	GetProgress(ctx context.Context, userID primitive.ObjectID, kind models.ProgressKind, contentID primitive.ObjectID) (*models.ProgressEntry, error)
	Commit(ctx context.Context, u *models.User, userVersion int64, e *models.ProgressEntry, entryVersion int64) error
	ListProgress(ctx context.Context, userID primitive.ObjectID) ([]models.ProgressEntry, error)
	TopByXP(ctx context.Context, limit int64) ([]models.User, error)
}

// ContentStore is the read-only course content collaborator
type ContentStore interface {
	GetTopic(ctx context.Context, id primitive.ObjectID) (*models.Topic, error)
	GetExercise(ctx context.Context, id primitive.ObjectID) (*models.Exercise, error)
	CountExercises(ctx context.Context, topicID primitive.ObjectID) (int, error)
	NextTopic(ctx context.Context, courseID primitive.ObjectID, afterOrder int) (*models.Topic, error)
	GetQuiz(ctx context.Context, id primitive.ObjectID) (*models.Quiz, error)
}

type XPLog interface {
	RecordXPEvent(ctx context.Context, event models.XPEvent) error
}

// Notifier pushes progression events to a learner's live connections
type Notifier interface {
	Notify(userID string, event models.ProgressionEvent)
}

// IdempotencyStore remembers responses by client-supplied key
type IdempotencyStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// ExerciseSubmission is one answered exercise
type ExerciseSubmission struct {
	TopicID      string
	ExerciseID   string
	IsCorrect    bool
	TimeSpent    int
	ExerciseType string
	SubmissionID string
}

// ExerciseOutcome reports one exercise submission. TopicCompleted is true
// only on the call that moved the ledger to completed.
type ExerciseOutcome struct {
	XPAwarded               int64                 `json:"xpAwarded"`
	HeartDeducted           bool                  `json:"heartDeducted"`
	CanContinue             bool                  `json:"canContinue"`
	HeartsRemaining         int                   `json:"heartsRemaining"`
	MinutesUntilNextHeart   int                   `json:"minutesUntilNextHeart"`
	TotalXP                 int64                 `json:"totalXp"`
	Level                   int                   `json:"level"`
	LevelName               string                `json:"levelName"`
	LedgerScore             int                   `json:"ledgerScore"`
	ExercisesCompletedCount int                   `json:"exercisesCompletedCount"`
	TotalExercises          int                   `json:"totalExercises"`
	TopicCompleted          bool                  `json:"topicCompleted"`
	LedgerStatus            models.ProgressStatus `json:"ledgerStatus"`
	Replayed                bool                  `json:"replayed"`
}

type TopicCompletion struct {
	TopicID  string
	CourseID string
}

type UnlockedTopic struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type TopicCompletionOutcome struct {
	BonusXPAwarded    int64                 `json:"bonusXpAwarded"`
	TotalXP           int64                 `json:"totalXp"`
	Level             int                   `json:"level"`
	LevelName         string                `json:"levelName"`
	LedgerStatus      models.ProgressStatus `json:"ledgerStatus"`
	NextTopicUnlocked *UnlockedTopic        `json:"nextTopicUnlocked,omitempty"`
}

type QuizAnswer struct {
	ExerciseID string
	Answer     string
	IsCorrect  bool
}

type QuizSubmission struct {
	QuizID       string
	Answers      []QuizAnswer
	Score        int
	TimeSpent    int
	Passed       bool
	SubmissionID string
}

type QuizOutcome struct {
	XPAwarded int64  `json:"xpAwarded"`
	BestScore int    `json:"bestScore"`
	Passed    bool   `json:"passed"`
	Attempts  int    `json:"attempts"`
	TotalXP   int64  `json:"totalXp"`
	Level     int    `json:"level"`
	LevelName string `json:"levelName"`
	Replayed  bool   `json:"replayed"`
}

type CheckInOutcome struct {
	StreakDays            int    `json:"streakDays"`
	LongestStreak         int    `json:"longestStreak"`
	IsNewDay              bool   `json:"isNewDay"`
	HeartsRemaining       int    `json:"heartsRemaining"`
	MinutesUntilNextHeart int    `json:"minutesUntilNextHeart"`
	Level                 int    `json:"level"`
	LevelName             string `json:"levelName"`
}

// LearnerState is the read view of a learner's resources with regeneration applied
type LearnerState struct {
	UserID                 string    `json:"userId"`
	DisplayName            string    `json:"displayName"`
	TotalXP                int64     `json:"totalXp"`
	Level                  int       `json:"level"`
	LevelName              string    `json:"levelName"`
	XPToNextLevel          int64     `json:"xpToNextLevel"`
	Hearts                 int       `json:"hearts"`
	MaxHearts              int       `json:"maxHearts"`
	MinutesUntilNextHeart  int       `json:"minutesUntilNextHeart"`
	StreakDays             int       `json:"streakDays"`
	LongestStreak          int       `json:"longestStreak"`
	LastActiveAt           time.Time `json:"lastActiveAt"`
	CumulativeStudySeconds int64     `json:"cumulativeStudySeconds"`
	UnlockedTopicIDs       []string  `json:"unlockedTopicIds"`
}

type TopicProgressView struct {
	TopicID                 string                           `json:"topicId"`
	Title                   string                           `json:"title"`
	Unlocked                bool                             `json:"unlocked"`
	Status                  models.ProgressStatus            `json:"status"`
	Score                   int                              `json:"score"`
	ExercisesCompletedCount int                              `json:"exercisesCompletedCount"`
	TotalExercises          int                              `json:"totalExercises"`
	CompletedAt             *time.Time                       `json:"completedAt,omitempty"`
	LastAccessedAt          time.Time                        `json:"lastAccessedAt"`
	ExerciseResults         map[string]models.ExerciseResult `json:"exerciseResults"`
}

// ProgressSummary is one ledger entry in the learner's overview
type ProgressSummary struct {
	Kind                    models.ProgressKind   `json:"kind"`
	ContentID               string                `json:"contentId"`
	Status                  models.ProgressStatus `json:"status"`
	Score                   int                   `json:"score"`
	ExercisesCompletedCount int                   `json:"exercisesCompletedCount,omitempty"`
	BestScore               int                   `json:"bestScore,omitempty"`
	Attempts                int                   `json:"attempts,omitempty"`
	Passed                  bool                  `json:"passed,omitempty"`
	TotalTimeSpent          int64                 `json:"totalTimeSpent"`
	CompletedAt             *time.Time            `json:"completedAt,omitempty"`
	LastAccessedAt          time.Time             `json:"lastAccessedAt"`
}

type XPAdjustment struct {
	UserID string
	Delta  int64
	Reason string
}

type XPAdjustmentOutcome struct {
	UserID     string `json:"userId"`
	PreviousXP int64  `json:"previousXp"`
	TotalXP    int64  `json:"totalXp"`
	Level      int    `json:"level"`
	LevelName  string `json:"levelName"`
}

type LeaderboardEntry struct {
	Rank        int    `json:"rank"`
	UserID      string `json:"id"`
	Name        string `json:"name"`
	AvatarURL   string `json:"avatarUrl"`
	TotalXP     int64  `json:"totalXp"`
	Level       int    `json:"level"`
	LevelName   string `json:"levelName"`
	StreakDays  int    `json:"streakDays"`
	CurrentUser bool   `json:"currentUser"`
}
