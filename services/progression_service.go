package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"linguahub/db"
	"linguahub/internal/apperr"
	"linguahub/internal/identity"
	"linguahub/internal/logger"
	"linguahub/internal/submission"
	"linguahub/models"
	"linguahub/progression"
)

const (
	defaultMaxCommitAttempts = 5
	defaultIdempotencyTTL    = 24 * time.Hour
	maxTimeSpentSeconds      = 24 * 60 * 60
	defaultLeaderboardSize   = 50
	maxLeaderboardSize       = 200
)

// ProgressionDeps wires a ProgressionService
type ProgressionDeps struct {
	Store             ProgressionStore
	Content           ContentStore
	XPLog             XPLog            // optional
	Notifier          Notifier         // optional
	Idempotency       IdempotencyStore // optional
	IdempotencyTTL    time.Duration
	Rules             *progression.Config
	Clock             progression.Clock
	Log               *logger.Logger
	MaxCommitAttempts int
}

// ProgressionService applies exercise, topic, quiz and check-in submissions
// to a learner's resources and progress ledger.
type ProgressionService struct {
	store       ProgressionStore
	content     ContentStore
	xpLog       XPLog
	notifier    Notifier
	idem        IdempotencyStore
	idemTTL     time.Duration
	rules       *progression.Config
	pool        progression.HeartPool
	clock       progression.Clock
	log         *logger.Logger
	tracer      trace.Tracer
	maxAttempts int
}

func NewProgressionService(d ProgressionDeps) *ProgressionService {
	rules := d.Rules.Normalize()
	s := &ProgressionService{
		store:       d.Store,
		content:     d.Content,
		xpLog:       d.XPLog,
		notifier:    d.Notifier,
		idem:        d.Idempotency,
		idemTTL:     d.IdempotencyTTL,
		rules:       rules,
		pool:        rules.HeartPool(),
		clock:       d.Clock,
		log:         d.Log,
		tracer:      otel.Tracer("linguahub/services"),
		maxAttempts: d.MaxCommitAttempts,
	}
	if s.clock == nil {
		s.clock = progression.SystemClock{}
	}
	if s.log == nil {
		s.log = logger.Nop()
	}
	s.log = s.log.With("component", "progression")
	if s.maxAttempts <= 0 {
		s.maxAttempts = defaultMaxCommitAttempts
	}
	if s.idemTTL <= 0 {
		s.idemTTL = defaultIdempotencyTTL
	}
	return s
}

// Rules returns the normalized progression parameters in effect
func (s *ProgressionService) Rules() progression.Config {
	return *s.rules
}

// ResolveLearner maps a verified identity to its learner, creating the learner on first sight
func (s *ProgressionService) ResolveLearner(ctx context.Context, id identity.Identity) (*models.User, error) {
	if id.Subject == "" {
		return nil, apperr.Unauthorized("identity has no subject")
	}
	user, err := s.store.EnsureUser(ctx, id.Subject, id.Email, id.DisplayName, s.rules.MaxHearts, s.clock.Now())
	if err != nil {
		return nil, apperr.Persistence("failed to load learner", err)
	}
	return user, nil
}

// SubmitExercise records one graded answer. Hearts are checked before the
// answer is looked at; a wrong answer costs one heart; a correct answer earns
// XP the first time that exercise is ever answered correctly while the topic
// is not yet completed.
func (s *ProgressionService) SubmitExercise(ctx context.Context, userID primitive.ObjectID, req ExerciseSubmission) (out *ExerciseOutcome, err error) {
	ctx, span := s.startSpan(ctx, "SubmitExercise", userID)
	defer func() { endSpan(span, err) }()

	topicID, err := parseID("topicId", req.TopicID)
	if err != nil {
		return nil, err
	}
	exerciseID, err := parseID("exerciseId", req.ExerciseID)
	if err != nil {
		return nil, err
	}
	if req.TimeSpent < 0 || req.TimeSpent > maxTimeSpentSeconds {
		return nil, apperr.Validationf("timeSpent must be between 0 and %d seconds", maxTimeSpentSeconds)
	}

	idemKey := ""
	if req.SubmissionID != "" {
		idemKey = submission.Key("exercise", userID.Hex(), req.SubmissionID)
		var cached ExerciseOutcome
		if s.replayed(ctx, idemKey, &cached) {
			cached.Replayed = true
			return &cached, nil
		}
	}

	topic, err := s.content.GetTopic(ctx, topicID)
	if err != nil {
		return nil, contentErr("topic", err)
	}
	exercise, err := s.content.GetExercise(ctx, exerciseID)
	if err != nil {
		return nil, contentErr("exercise", err)
	}
	if exercise.TopicID != topic.ID {
		return nil, apperr.NotFoundf("exercise %s not found in topic %s", req.ExerciseID, req.TopicID)
	}
	total, err := s.content.CountExercises(ctx, topicID)
	if err != nil {
		return nil, apperr.Persistence("failed to read topic exercises", err)
	}
	exerciseType := req.ExerciseType
	if exerciseType == "" {
		exerciseType = exercise.Type
	}

	var (
		result       ExerciseOutcome
		loadedLevel  progression.LevelTier
		completedNow bool
	)
	err = s.commit(ctx, "submit exercise", func() (*changeSet, error) {
		now := s.clock.Now()
		user, loaded, err := s.loadUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		entry, entryVersion, err := s.loadEntry(ctx, userID, models.KindTopic, topicID, now)
		if err != nil {
			return nil, err
		}
		entry.CourseID = topic.CourseID

		prev, seen := entry.ExerciseResults[exerciseID.Hex()]
		if req.SubmissionID != "" && seen && prev.LastSubmissionID == req.SubmissionID {
			// retry of a submission that already committed
			result = s.exerciseOutcome(user, entry, total, now)
			result.Replayed = true
			return &changeSet{noop: true}, nil
		}

		hearts := s.pool.Regenerate(progression.HeartState{Hearts: user.Hearts, LastRegenAnchor: user.LastHeartRegenAt}, now)
		if hearts.Hearts == 0 {
			return nil, apperr.OutOfHearts(s.pool.MinutesUntilNextHeart(hearts, now))
		}

		alreadyCompleted := entry.IsCompleted()
		result = ExerciseOutcome{CanContinue: true}
		loadedLevel = progression.LevelOf(loaded.ExperiencePoints)

		if !req.IsCorrect {
			hearts, result.CanContinue = s.pool.Deduct(hearts, now)
			result.HeartDeducted = true
		}
		user.Hearts = hearts.Hearts
		user.LastHeartRegenAt = hearts.LastRegenAnchor

		if req.IsCorrect && !alreadyCompleted && !prev.EverCorrect {
			result.XPAwarded = s.rules.XPPerExercise
			addXP(user, result.XPAwarded)
		}
		user.CumulativeStudySeconds += int64(req.TimeSpent)
		user.UpdatedAt = now

		progression.RecordExerciseResult(entry, progression.ExerciseAnswer{
			ExerciseID:   exerciseID.Hex(),
			IsCorrect:    req.IsCorrect,
			TimeSpent:    req.TimeSpent,
			ExerciseType: exerciseType,
			SubmissionID: req.SubmissionID,
		}, s.rules.PointsPerExercise, now)
		completedNow = progression.ApplyCompletion(entry, total, now)

		o := s.exerciseOutcome(user, entry, total, now)
		o.XPAwarded, o.HeartDeducted, o.CanContinue = result.XPAwarded, result.HeartDeducted, result.CanContinue
		o.TopicCompleted = completedNow
		result = o
		return &changeSet{loaded: loaded, user: user, entry: entry, entryVersion: entryVersion}, nil
	})
	if err != nil {
		return nil, err
	}
	if result.Replayed {
		return &result, nil
	}

	s.log.Info("exercise submitted",
		"user_id", userID.Hex(), "topic_id", topicID.Hex(), "exercise_id", exerciseID.Hex(),
		"correct", req.IsCorrect, "xp", result.XPAwarded, "hearts", result.HeartsRemaining)

	now := s.clock.Now()
	if result.XPAwarded > 0 {
		s.recordXP(ctx, userID, result.XPAwarded, models.XPReasonExercise, exerciseID, result.TotalXP, now)
		s.notify(userID, models.ProgressionEvent{Type: models.EventXPAwarded, Points: result.XPAwarded, TotalXP: result.TotalXP, Timestamp: now})
	}
	s.notifyLevelUp(userID, loadedLevel, result.TotalXP, now)
	if completedNow {
		s.notify(userID, models.ProgressionEvent{Type: models.EventTopicCompleted, TopicID: topicID.Hex(), Title: topic.Title, Timestamp: now})
	}
	if result.HeartDeducted && result.HeartsRemaining == 0 {
		s.notify(userID, models.ProgressionEvent{Type: models.EventHeartsDepleted, Timestamp: now})
	}
	s.remember(ctx, idemKey, result)
	return &result, nil
}

func (s *ProgressionService) exerciseOutcome(user *models.User, entry *models.ProgressEntry, total int, now time.Time) ExerciseOutcome {
	tier := progression.LevelOf(user.ExperiencePoints)
	hearts := progression.HeartState{Hearts: user.Hearts, LastRegenAnchor: user.LastHeartRegenAt}
	return ExerciseOutcome{
		CanContinue:             user.Hearts > 0,
		HeartsRemaining:         user.Hearts,
		MinutesUntilNextHeart:   s.pool.MinutesUntilNextHeart(hearts, now),
		TotalXP:                 user.ExperiencePoints,
		Level:                   tier.Level,
		LevelName:               tier.Name,
		LedgerScore:             entry.Score,
		ExercisesCompletedCount: entry.ExercisesCompletedCount,
		TotalExercises:          total,
		LedgerStatus:            entry.Status,
	}
}

// CompleteTopic handles the explicit topic completion signal. The bonus is
// awarded once per learner and topic; the next locked topic of the course
// is unlocked for the learner.
func (s *ProgressionService) CompleteTopic(ctx context.Context, userID primitive.ObjectID, req TopicCompletion) (out *TopicCompletionOutcome, err error) {
	ctx, span := s.startSpan(ctx, "CompleteTopic", userID)
	defer func() { endSpan(span, err) }()

	topicID, err := parseID("topicId", req.TopicID)
	if err != nil {
		return nil, err
	}
	courseID, err := parseID("courseId", req.CourseID)
	if err != nil {
		return nil, err
	}
	topic, err := s.content.GetTopic(ctx, topicID)
	if err != nil {
		return nil, contentErr("topic", err)
	}
	if topic.CourseID != courseID {
		return nil, apperr.NotFoundf("topic %s not found in course %s", req.TopicID, req.CourseID)
	}
	next, err := s.content.NextTopic(ctx, topic.CourseID, topic.Order)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return nil, apperr.Persistence("failed to read course topics", err)
	}

	var (
		result      TopicCompletionOutcome
		loadedLevel progression.LevelTier
		firstTime   bool
	)
	err = s.commit(ctx, "complete topic", func() (*changeSet, error) {
		now := s.clock.Now()
		user, loaded, err := s.loadUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		entry, entryVersion, err := s.loadEntry(ctx, userID, models.KindTopic, topicID, now)
		if err != nil {
			return nil, err
		}
		entry.CourseID = topic.CourseID
		loadedLevel = progression.LevelOf(loaded.ExperiencePoints)
		result = TopicCompletionOutcome{}
		firstTime = false

		if entry.CompletionBonusAwarded {
			progression.Touch(entry, now)
		} else {
			firstTime = true
			result.BonusXPAwarded = s.rules.TopicCompletionBonus
			addXP(user, result.BonusXPAwarded)
			entry.CompletionBonusAwarded = true
			progression.MarkCompleted(entry, now)
			progression.Touch(entry, now)
		}

		if next != nil && next.IsLocked && !user.HasUnlocked(next.ID) {
			user.UnlockedTopicIDs = append(user.UnlockedTopicIDs, next.ID)
			result.NextTopicUnlocked = &UnlockedTopic{ID: next.ID.Hex(), Title: next.Title}
		}
		user.UpdatedAt = now

		tier := progression.LevelOf(user.ExperiencePoints)
		result.TotalXP = user.ExperiencePoints
		result.Level, result.LevelName = tier.Level, tier.Name
		result.LedgerStatus = entry.Status
		return &changeSet{loaded: loaded, user: user, entry: entry, entryVersion: entryVersion}, nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("topic completion signalled",
		"user_id", userID.Hex(), "topic_id", topicID.Hex(), "bonus", result.BonusXPAwarded,
		"unlocked", result.NextTopicUnlocked != nil)

	now := s.clock.Now()
	if firstTime {
		s.notify(userID, models.ProgressionEvent{Type: models.EventTopicCompleted, TopicID: topicID.Hex(), Title: topic.Title, Timestamp: now})
	}
	if result.BonusXPAwarded > 0 {
		s.recordXP(ctx, userID, result.BonusXPAwarded, models.XPReasonTopicCompletion, topicID, result.TotalXP, now)
		s.notify(userID, models.ProgressionEvent{Type: models.EventXPAwarded, Points: result.BonusXPAwarded, TotalXP: result.TotalXP, Timestamp: now})
	}
	s.notifyLevelUp(userID, loadedLevel, result.TotalXP, now)
	if u := result.NextTopicUnlocked; u != nil {
		s.notify(userID, models.ProgressionEvent{Type: models.EventTopicUnlocked, TopicID: u.ID, Title: u.Title, Timestamp: now})
	}
	return &result, nil
}

// SubmitQuiz records a quiz attempt. Passing is decided by the quiz's own
// threshold; XP is paid only for a new best score.
func (s *ProgressionService) SubmitQuiz(ctx context.Context, userID primitive.ObjectID, req QuizSubmission) (out *QuizOutcome, err error) {
	ctx, span := s.startSpan(ctx, "SubmitQuiz", userID)
	defer func() { endSpan(span, err) }()

	quizID, err := parseID("quizId", req.QuizID)
	if err != nil {
		return nil, err
	}
	if req.Score < 0 || req.Score > 100 {
		return nil, apperr.Validationf("score must be between 0 and 100")
	}
	if req.TimeSpent < 0 || req.TimeSpent > maxTimeSpentSeconds {
		return nil, apperr.Validationf("timeSpent must be between 0 and %d seconds", maxTimeSpentSeconds)
	}
	correct := 0
	for i, a := range req.Answers {
		if a.ExerciseID == "" {
			return nil, apperr.Validationf("answers[%d].exerciseId is required", i)
		}
		if a.IsCorrect {
			correct++
		}
	}

	idemKey := ""
	if req.SubmissionID != "" {
		idemKey = submission.Key("quiz", userID.Hex(), req.SubmissionID)
		var cached QuizOutcome
		if s.replayed(ctx, idemKey, &cached) {
			cached.Replayed = true
			return &cached, nil
		}
	}

	quiz, err := s.content.GetQuiz(ctx, quizID)
	if err != nil {
		return nil, contentErr("quiz", err)
	}
	passed := req.Score >= quiz.PassingScore
	if passed != req.Passed {
		s.log.Warn("client pass flag disagrees with quiz threshold",
			"user_id", userID.Hex(), "quiz_id", quizID.Hex(), "score", req.Score,
			"passing_score", quiz.PassingScore, "client_passed", req.Passed)
	}

	var (
		result      QuizOutcome
		loadedLevel progression.LevelTier
	)
	err = s.commit(ctx, "submit quiz", func() (*changeSet, error) {
		now := s.clock.Now()
		user, loaded, err := s.loadUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		entry, entryVersion, err := s.loadEntry(ctx, userID, models.KindQuiz, quizID, now)
		if err != nil {
			return nil, err
		}
		entry.CourseID = quiz.CourseID

		if req.SubmissionID != "" && entry.LastSubmissionID == req.SubmissionID {
			// retry of a submission that already committed
			tier := progression.LevelOf(user.ExperiencePoints)
			result = QuizOutcome{
				BestScore: entry.BestScore,
				Passed:    entry.Passed,
				Attempts:  entry.Attempts,
				TotalXP:   user.ExperiencePoints,
				Level:     tier.Level,
				LevelName: tier.Name,
				Replayed:  true,
			}
			return &changeSet{noop: true}, nil
		}
		loadedLevel = progression.LevelOf(loaded.ExperiencePoints)

		xp := progression.RecordQuizAttempt(entry, progression.QuizAttempt{
			Score:        req.Score,
			Passed:       passed,
			TimeSpent:    req.TimeSpent,
			AnswerCount:  len(req.Answers),
			CorrectCount: correct,
			SubmissionID: req.SubmissionID,
		}, now)
		addXP(user, xp)
		user.CumulativeStudySeconds += int64(req.TimeSpent)
		user.UpdatedAt = now

		tier := progression.LevelOf(user.ExperiencePoints)
		result = QuizOutcome{
			XPAwarded: xp,
			BestScore: entry.BestScore,
			Passed:    passed,
			Attempts:  entry.Attempts,
			TotalXP:   user.ExperiencePoints,
			Level:     tier.Level,
			LevelName: tier.Name,
		}
		return &changeSet{loaded: loaded, user: user, entry: entry, entryVersion: entryVersion}, nil
	})
	if err != nil {
		return nil, err
	}
	if result.Replayed {
		return &result, nil
	}

	s.log.Info("quiz submitted",
		"user_id", userID.Hex(), "quiz_id", quizID.Hex(), "score", req.Score, "passed", passed, "xp", result.XPAwarded)

	now := s.clock.Now()
	if result.XPAwarded > 0 {
		s.recordXP(ctx, userID, result.XPAwarded, models.XPReasonQuizBest, quizID, result.TotalXP, now)
		s.notify(userID, models.ProgressionEvent{Type: models.EventXPAwarded, Points: result.XPAwarded, TotalXP: result.TotalXP, Timestamp: now})
	}
	s.notifyLevelUp(userID, loadedLevel, result.TotalXP, now)
	s.remember(ctx, idemKey, result)
	return &result, nil
}

// DailyCheckIn advances the streak once per UTC calendar day and reports the heart pool
func (s *ProgressionService) DailyCheckIn(ctx context.Context, userID primitive.ObjectID) (out *CheckInOutcome, err error) {
	ctx, span := s.startSpan(ctx, "DailyCheckIn", userID)
	defer func() { endSpan(span, err) }()

	var result CheckInOutcome
	err = s.commit(ctx, "daily check-in", func() (*changeSet, error) {
		now := s.clock.Now()
		user, loaded, err := s.loadUser(ctx, userID)
		if err != nil {
			return nil, err
		}

		hearts := s.pool.Regenerate(progression.HeartState{Hearts: user.Hearts, LastRegenAnchor: user.LastHeartRegenAt}, now)
		user.Hearts, user.LastHeartRegenAt = hearts.Hearts, hearts.LastRegenAnchor

		streak := progression.AdvanceStreak(user.LastActiveAt, user.StreakDays, now)
		if streak.IsNewDay {
			user.StreakDays = streak.Streak
			if user.StreakDays > user.LongestStreak {
				user.LongestStreak = user.StreakDays
			}
			user.LastActiveAt = now
			user.UpdatedAt = now
		}

		tier := progression.LevelOf(user.ExperiencePoints)
		result = CheckInOutcome{
			StreakDays:            user.StreakDays,
			LongestStreak:         user.LongestStreak,
			IsNewDay:              streak.IsNewDay,
			HeartsRemaining:       hearts.Hearts,
			MinutesUntilNextHeart: s.pool.MinutesUntilNextHeart(hearts, now),
			Level:                 tier.Level,
			LevelName:             tier.Name,
		}
		return &changeSet{loaded: loaded, user: user}, nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("daily check-in", "user_id", userID.Hex(), "streak", result.StreakDays, "new_day", result.IsNewDay)
	if result.IsNewDay && result.StreakDays > 1 {
		s.notify(userID, models.ProgressionEvent{Type: models.EventStreakExtended, Streak: result.StreakDays, Timestamp: s.clock.Now()})
	}
	return &result, nil
}

// GetState returns the learner's resources with pending regeneration applied.
// Nothing is written.
func (s *ProgressionService) GetState(ctx context.Context, userID primitive.ObjectID) (*LearnerState, error) {
	user, _, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	hearts := s.pool.Regenerate(progression.HeartState{Hearts: user.Hearts, LastRegenAnchor: user.LastHeartRegenAt}, now)
	tier := progression.LevelOf(user.ExperiencePoints)

	unlocked := make([]string, 0, len(user.UnlockedTopicIDs))
	for _, id := range user.UnlockedTopicIDs {
		unlocked = append(unlocked, id.Hex())
	}
	return &LearnerState{
		UserID:                 user.ID.Hex(),
		DisplayName:            user.DisplayName,
		TotalXP:                user.ExperiencePoints,
		Level:                  tier.Level,
		LevelName:              tier.Name,
		XPToNextLevel:          progression.XPToNextLevel(user.ExperiencePoints),
		Hearts:                 hearts.Hearts,
		MaxHearts:              s.pool.Max,
		MinutesUntilNextHeart:  s.pool.MinutesUntilNextHeart(hearts, now),
		StreakDays:             user.StreakDays,
		LongestStreak:          user.LongestStreak,
		LastActiveAt:           user.LastActiveAt,
		CumulativeStudySeconds: user.CumulativeStudySeconds,
		UnlockedTopicIDs:       unlocked,
	}, nil
}

// GetTopicProgress returns the learner's ledger view of one topic
func (s *ProgressionService) GetTopicProgress(ctx context.Context, userID primitive.ObjectID, topicIDHex string) (*TopicProgressView, error) {
	topicID, err := parseID("topicId", topicIDHex)
	if err != nil {
		return nil, err
	}
	topic, err := s.content.GetTopic(ctx, topicID)
	if err != nil {
		return nil, contentErr("topic", err)
	}
	total, err := s.content.CountExercises(ctx, topicID)
	if err != nil {
		return nil, apperr.Persistence("failed to read topic exercises", err)
	}
	user, _, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	entry, _, err := s.loadEntry(ctx, userID, models.KindTopic, topicID, s.clock.Now())
	if err != nil {
		return nil, err
	}
	return &TopicProgressView{
		TopicID:                 topicID.Hex(),
		Title:                   topic.Title,
		Unlocked:                !topic.IsLocked || user.HasUnlocked(topicID),
		Status:                  entry.Status,
		Score:                   entry.Score,
		ExercisesCompletedCount: entry.ExercisesCompletedCount,
		TotalExercises:          total,
		CompletedAt:             entry.CompletedAt,
		LastAccessedAt:          entry.LastAccessedAt,
		ExerciseResults:         entry.ExerciseResults,
	}, nil
}

// ListProgress returns the learner's ledger, most recently accessed first.
// kind narrows it to topic or quiz entries; empty means both.
func (s *ProgressionService) ListProgress(ctx context.Context, userID primitive.ObjectID, kind string) ([]ProgressSummary, error) {
	filter := models.ProgressKind(kind)
	switch filter {
	case "", models.KindTopic, models.KindQuiz:
	default:
		return nil, apperr.Validationf("kind must be %q or %q", models.KindTopic, models.KindQuiz)
	}
	entries, err := s.store.ListProgress(ctx, userID)
	if err != nil {
		return nil, apperr.Persistence("failed to read progress", err)
	}
	out := make([]ProgressSummary, 0, len(entries))
	for _, e := range entries {
		if filter != "" && e.Kind != filter {
			continue
		}
		out = append(out, ProgressSummary{
			Kind:                    e.Kind,
			ContentID:               e.ContentID.Hex(),
			Status:                  e.Status,
			Score:                   e.Score,
			ExercisesCompletedCount: e.ExercisesCompletedCount,
			BestScore:               e.BestScore,
			Attempts:                e.Attempts,
			Passed:                  e.Passed,
			TotalTimeSpent:          e.TotalTimeSpent,
			CompletedAt:             e.CompletedAt,
			LastAccessedAt:          e.LastAccessedAt,
		})
	}
	return out, nil
}

// AdjustXP is the administrative correction path, the only one that may lower XP.
// The result is clamped at zero and the level rederived.
func (s *ProgressionService) AdjustXP(ctx context.Context, req XPAdjustment) (out *XPAdjustmentOutcome, err error) {
	userID, err := parseID("userId", req.UserID)
	if err != nil {
		return nil, err
	}
	ctx, span := s.startSpan(ctx, "AdjustXP", userID)
	defer func() { endSpan(span, err) }()

	if req.Delta == 0 {
		return nil, apperr.Validationf("delta must not be zero")
	}

	var (
		result      XPAdjustmentOutcome
		loadedLevel progression.LevelTier
	)
	err = s.commit(ctx, "adjust xp", func() (*changeSet, error) {
		user, loaded, err := s.loadUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		loadedLevel = progression.LevelOf(loaded.ExperiencePoints)
		xp := user.ExperiencePoints + req.Delta
		if xp < 0 {
			xp = 0
		}
		user.ExperiencePoints = xp
		user.Level = progression.LevelOf(xp).Level
		user.UpdatedAt = s.clock.Now()

		tier := progression.LevelOf(xp)
		result = XPAdjustmentOutcome{
			UserID:     userID.Hex(),
			PreviousXP: loaded.ExperiencePoints,
			TotalXP:    xp,
			Level:      tier.Level,
			LevelName:  tier.Name,
		}
		return &changeSet{loaded: loaded, user: user}, nil
	})
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	applied := result.TotalXP - result.PreviousXP
	s.log.Info("xp adjusted", "user_id", userID.Hex(), "delta", applied, "reason", req.Reason)
	if applied != 0 {
		s.recordXP(ctx, userID, applied, models.XPReasonAdmin, primitive.NilObjectID, result.TotalXP, now, "reason", req.Reason)
	}
	s.notifyLevelUp(userID, loadedLevel, result.TotalXP, now)
	return &result, nil
}

// Leaderboard ranks learners by XP
func (s *ProgressionService) Leaderboard(ctx context.Context, currentUserID primitive.ObjectID, limit int) ([]LeaderboardEntry, error) {
	if limit <= 0 {
		limit = defaultLeaderboardSize
	}
	if limit > maxLeaderboardSize {
		limit = maxLeaderboardSize
	}
	users, err := s.store.TopByXP(ctx, int64(limit))
	if err != nil {
		return nil, apperr.Persistence("failed to load leaderboard", err)
	}

	entries := make([]LeaderboardEntry, 0, len(users))
	for i, u := range users {
		name := u.DisplayName
		if name == "" {
			name = identity.DisplayNameFromEmail(u.Email)
		}
		avatarURL := u.AvatarURL
		if avatarURL == "" {
			avatarURL = "https://api.dicebear.com/9.x/adventurer/svg?seed=" + name
		}
		tier := progression.LevelOf(u.ExperiencePoints)
		entries = append(entries, LeaderboardEntry{
			Rank:        i + 1,
			UserID:      u.ID.Hex(),
			Name:        name,
			AvatarURL:   avatarURL,
			TotalXP:     u.ExperiencePoints,
			Level:       tier.Level,
			LevelName:   tier.Name,
			StreakDays:  u.StreakDays,
			CurrentUser: u.ID == currentUserID,
		})
	}
	return entries, nil
}

func (s *ProgressionService) loadUser(ctx context.Context, userID primitive.ObjectID) (user, loaded *models.User, err error) {
	loaded, err = s.store.GetUser(ctx, userID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil, apperr.NotFoundf("learner %s not found", userID.Hex())
	}
	if err != nil {
		return nil, nil, apperr.Persistence("failed to load learner", err)
	}
	return loaded.Clone(), loaded, nil
}

// loadEntry returns a working copy of the ledger entry and the version it was
// loaded at; 0 means the entry does not exist yet.
func (s *ProgressionService) loadEntry(ctx context.Context, userID primitive.ObjectID, kind models.ProgressKind, contentID primitive.ObjectID, now time.Time) (*models.ProgressEntry, int64, error) {
	entry, err := s.store.GetProgress(ctx, userID, kind, contentID)
	if err != nil {
		return nil, 0, apperr.Persistence("failed to load progress", err)
	}
	if entry == nil {
		return models.NewProgressEntry(userID, kind, contentID, now), 0, nil
	}
	return entry.Clone(), entry.Version, nil
}

func addXP(user *models.User, amount int64) {
	if amount <= 0 {
		return
	}
	user.ExperiencePoints += amount
	user.Level = progression.LevelOf(user.ExperiencePoints).Level
}

func parseID(field, hex string) (primitive.ObjectID, error) {
	if hex == "" {
		return primitive.NilObjectID, apperr.Validationf("%s is required", field)
	}
	id, err := primitive.ObjectIDFromHex(hex)
	if err != nil {
		return primitive.NilObjectID, apperr.Validationf("%s %q is not a valid id", field, hex)
	}
	return id, nil
}

func contentErr(what string, err error) error {
	if errors.Is(err, db.ErrNotFound) {
		return apperr.NotFoundf("%s not found", what)
	}
	return apperr.Persistence(fmt.Sprintf("failed to load %s", what), err)
}

// replayed loads a recorded response into out. Cache failures are logged and
// treated as a miss; the ledger still catches the replay.
func (s *ProgressionService) replayed(ctx context.Context, key string, out interface{}) bool {
	if s.idem == nil || key == "" {
		return false
	}
	raw, ok, err := s.idem.Get(ctx, key)
	if err != nil {
		s.log.Warn("idempotency lookup failed", "error", err)
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		s.log.Warn("discarding unreadable idempotency record", "error", err)
		return false
	}
	return true
}

func (s *ProgressionService) remember(ctx context.Context, key string, outcome interface{}) {
	if s.idem == nil || key == "" {
		return
	}
	raw, err := json.Marshal(outcome)
	if err != nil {
		s.log.Warn("failed to encode idempotency record", "error", err)
		return
	}
	if err := s.idem.Put(ctx, key, raw, s.idemTTL); err != nil {
		s.log.Warn("failed to store idempotency record", "error", err)
	}
}

// recordXP appends to the XP audit log. Failures don't fail the request;
// the grant is already committed.
func (s *ProgressionService) recordXP(ctx context.Context, userID primitive.ObjectID, amount int64, reason string, contentID primitive.ObjectID, total int64, now time.Time, metadata ...interface{}) {
	if s.xpLog == nil {
		return
	}
	event := models.XPEvent{
		UserID:    userID,
		Amount:    amount,
		Reason:    reason,
		ContentID: contentID,
		TotalXP:   total,
		CreatedAt: now,
	}
	if len(metadata) > 0 {
		event.Metadata = map[string]interface{}{}
		for i := 0; i+1 < len(metadata); i += 2 {
			event.Metadata[fmt.Sprint(metadata[i])] = metadata[i+1]
		}
	}
	if err := s.xpLog.RecordXPEvent(context.WithoutCancel(ctx), event); err != nil {
		s.log.Error("failed to record xp event", "user_id", userID.Hex(), "reason", reason, "error", err)
	}
}

func (s *ProgressionService) notify(userID primitive.ObjectID, event models.ProgressionEvent) {
	if s.notifier == nil {
		return
	}
	event.UserID = userID.Hex()
	s.notifier.Notify(event.UserID, event)
}

func (s *ProgressionService) notifyLevelUp(userID primitive.ObjectID, before progression.LevelTier, totalXP int64, now time.Time) {
	after := progression.LevelOf(totalXP)
	if after.Level <= before.Level {
		return
	}
	s.notify(userID, models.ProgressionEvent{
		Type:      models.EventLevelUp,
		TotalXP:   totalXP,
		Level:     after.Level,
		LevelName: after.Name,
		Timestamp: now,
	})
}

func (s *ProgressionService) startSpan(ctx context.Context, op string, userID primitive.ObjectID) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "progression."+op, trace.WithAttributes(attribute.String("user.id", userID.Hex())))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperr.KindOf(err)))
	}
	span.End()
}
