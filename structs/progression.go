package structs

// ExerciseSubmitRequest reports one answered exercise. IsCorrect is a pointer so
// that an omitted field is rejected instead of read as a wrong answer.
type ExerciseSubmitRequest struct {
	TopicID      string `json:"topicId" binding:"required"`
	ExerciseID   string `json:"exerciseId" binding:"required"`
	IsCorrect    *bool  `json:"isCorrect" binding:"required"`
	TimeSpent    int    `json:"timeSpent" binding:"min=0,max=86400"`
	ExerciseType string `json:"exerciseType"`
	SubmissionID string `json:"submissionId"`
}

type TopicCompleteRequest struct {
	TopicID  string `json:"topicId" binding:"required"`
	CourseID string `json:"courseId" binding:"required"`
}

type QuizAnswerRequest struct {
	ExerciseID string `json:"exerciseId" binding:"required"`
	Answer     string `json:"answer"`
	IsCorrect  bool   `json:"isCorrect"`
}

type QuizSubmitRequest struct {
	QuizID       string              `json:"quizId" binding:"required"`
	Answers      []QuizAnswerRequest `json:"answers" binding:"dive"`
	Score        int                 `json:"score" binding:"min=0,max=100"`
	TimeSpent    int                 `json:"timeSpent" binding:"min=0,max=86400"`
	Passed       bool                `json:"passed"`
	SubmissionID string              `json:"submissionId"`
}

// AdjustXPRequest is an admin correction; Delta may be negative
type AdjustXPRequest struct {
	Delta  int64  `json:"delta" binding:"required"`
	Reason string `json:"reason" binding:"required,max=500"`
}
