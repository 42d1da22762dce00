package progression

import (
	"time"

	"linguahub/models"
)

// ExerciseAnswer is one graded answer to record in a topic ledger entry
type ExerciseAnswer struct {
	ExerciseID   string
	IsCorrect    bool
	TimeSpent    int
	ExerciseType string
	SubmissionID string
}

// RecordExerciseResult upserts the result for one exercise and recomputes
// score and completed count. Resubmitting an exercise overwrites correctness
// and time and bumps its attempt count; it never adds a second record.
func RecordExerciseResult(entry *models.ProgressEntry, answer ExerciseAnswer, pointsPerExercise int, now time.Time) {
	if entry.ExerciseResults == nil {
		entry.ExerciseResults = map[string]models.ExerciseResult{}
	}

	result, ok := entry.ExerciseResults[answer.ExerciseID]
	if ok {
		result.AttemptCount++
	} else {
		result = models.ExerciseResult{AttemptCount: 1}
	}
	result.IsCorrect = answer.IsCorrect
	result.TimeSpent = answer.TimeSpent
	if answer.IsCorrect {
		result.EverCorrect = true
	}
	if answer.ExerciseType != "" {
		result.ExerciseType = answer.ExerciseType
	}
	result.LastSubmissionID = answer.SubmissionID
	result.UpdatedAt = now
	entry.ExerciseResults[answer.ExerciseID] = result

	if entry.Status == "" || entry.Status == models.StatusNotStarted {
		entry.Status = models.StatusInProgress
	}
	if answer.TimeSpent > 0 {
		entry.TotalTimeSpent += int64(answer.TimeSpent)
	}
	Touch(entry, now)
	Recompute(entry, pointsPerExercise)
}

// Recompute derives score and exercisesCompletedCount from the result set
func Recompute(entry *models.ProgressEntry, pointsPerExercise int) {
	score, correct := 0, 0
	for _, r := range entry.ExerciseResults {
		if r.IsCorrect {
			score += pointsPerExercise
			correct++
		}
	}
	entry.Score = score
	entry.ExercisesCompletedCount = correct
}

// ApplyCompletion moves the entry to completed once the correct count reaches
// totalExercises. Returns true only on the transition itself.
func ApplyCompletion(entry *models.ProgressEntry, totalExercises int, now time.Time) bool {
	if totalExercises <= 0 || entry.ExercisesCompletedCount < totalExercises {
		return false
	}
	return MarkCompleted(entry, now)
}

// MarkCompleted is the single forward edge into completed. completedAt is set once.
func MarkCompleted(entry *models.ProgressEntry, now time.Time) bool {
	if entry.Status == models.StatusCompleted {
		return false
	}
	entry.Status = models.StatusCompleted
	if entry.CompletedAt == nil {
		t := now
		entry.CompletedAt = &t
	}
	return true
}

// Touch records a visit
func Touch(entry *models.ProgressEntry, now time.Time) {
	entry.LastAccessedAt = now
	entry.UpdatedAt = now
}

// QuizAttempt is one graded quiz submission
type QuizAttempt struct {
	Score        int
	Passed       bool
	TimeSpent    int
	AnswerCount  int
	CorrectCount int
	SubmissionID string
}

// RecordQuizAttempt updates a quiz entry and returns the XP the attempt earns.
// Only a new best earns XP: the full score on the first attempt, the
// improvement over the previous best afterwards. Passing is sticky.
// The submission id is kept so a retry of the same attempt can be recognised.
func RecordQuizAttempt(entry *models.ProgressEntry, attempt QuizAttempt, now time.Time) int64 {
	first := entry.Attempts == 0
	previousBest := entry.BestScore

	entry.Attempts++
	if attempt.TimeSpent > 0 {
		entry.TotalTimeSpent += int64(attempt.TimeSpent)
	}
	entry.LastAnswerCount = attempt.AnswerCount
	entry.LastCorrectCount = attempt.CorrectCount
	entry.LastSubmissionID = attempt.SubmissionID
	Touch(entry, now)

	if attempt.Passed {
		entry.Passed = true
		MarkCompleted(entry, now)
	} else if entry.Status == "" || entry.Status == models.StatusNotStarted {
		entry.Status = models.StatusInProgress
	}

	switch {
	case first:
		entry.BestScore = attempt.Score
		return int64(attempt.Score)
	case attempt.Score > previousBest:
		entry.BestScore = attempt.Score
		return int64(attempt.Score - previousBest)
	default:
		return 0
	}
}
