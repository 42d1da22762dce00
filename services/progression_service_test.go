package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"linguahub/db"
	"linguahub/internal/apperr"
	"linguahub/internal/identity"
	"linguahub/internal/submission"
	"linguahub/models"
	"linguahub/progression"
)

var start = time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)

type fixture struct {
	svc       *ProgressionService
	store     *memStore
	content   *memContent
	clock     *fakeClock
	notifier  *recordingNotifier
	xpLog     *recordingXPLog
	userID    primitive.ObjectID
	courseID  primitive.ObjectID
	topic     models.Topic
	nextTopic models.Topic
	exercises []models.Exercise
	quiz      models.Quiz
}

type fixtureOption func(*ProgressionDeps)

func withIdempotency(store IdempotencyStore) fixtureOption {
	return func(d *ProgressionDeps) { d.Idempotency = store }
}

func withMaxAttempts(n int) fixtureOption {
	return func(d *ProgressionDeps) { d.MaxCommitAttempts = n }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	f := &fixture{
		store:    newMemStore(),
		clock:    &fakeClock{now: start},
		notifier: &recordingNotifier{},
		xpLog:    &recordingXPLog{},
		userID:   primitive.NewObjectID(),
		courseID: primitive.NewObjectID(),
	}
	f.topic = models.Topic{ID: primitive.NewObjectID(), CourseID: f.courseID, Title: "Greetings", Order: 1}
	f.nextTopic = models.Topic{ID: primitive.NewObjectID(), CourseID: f.courseID, Title: "Numbers", Order: 2, IsLocked: true}
	f.content = &memContent{
		topics:    map[primitive.ObjectID]models.Topic{f.topic.ID: f.topic, f.nextTopic.ID: f.nextTopic},
		exercises: map[primitive.ObjectID]models.Exercise{},
		quizzes:   map[primitive.ObjectID]models.Quiz{},
	}
	for i := 0; i < 3; i++ {
		ex := models.Exercise{ID: primitive.NewObjectID(), TopicID: f.topic.ID, Type: "translate"}
		f.exercises = append(f.exercises, ex)
		f.content.exercises[ex.ID] = ex
	}
	f.quiz = models.Quiz{ID: primitive.NewObjectID(), Title: "Unit 1", CourseID: f.courseID, PassingScore: 70}
	f.content.quizzes[f.quiz.ID] = f.quiz

	f.store.put(&models.User{
		ID:               f.userID,
		ExternalID:       "learner-1",
		Email:            "ana@example.com",
		DisplayName:      "Ana",
		Level:            1,
		Hearts:           5,
		LastHeartRegenAt: start,
		Version:          1,
	})

	deps := ProgressionDeps{
		Store:    f.store,
		Content:  f.content,
		XPLog:    f.xpLog,
		Notifier: f.notifier,
		Rules:    progression.DefaultConfig(),
		Clock:    f.clock,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	f.svc = NewProgressionService(deps)
	return f
}

func (f *fixture) setUser(mutate func(u *models.User)) {
	u := f.store.user(f.userID)
	mutate(u)
	f.store.put(u)
}

func (f *fixture) answer(i int, correct bool) ExerciseSubmission {
	return ExerciseSubmission{
		TopicID:    f.topic.ID.Hex(),
		ExerciseID: f.exercises[i].ID.Hex(),
		IsCorrect:  correct,
		TimeSpent:  20,
	}
}

func (f *fixture) completion() TopicCompletion {
	return TopicCompletion{TopicID: f.topic.ID.Hex(), CourseID: f.courseID.Hex()}
}

func requireKind(t *testing.T, err error, kind apperr.Kind) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, kind, apperr.KindOf(err), err.Error())
}

func TestExampleScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var out *ExerciseOutcome
	var err error
	for i := range f.exercises {
		out, err = f.svc.SubmitExercise(ctx, f.userID, f.answer(i, true))
		require.NoError(t, err)
		assert.Equal(t, int64(50), out.XPAwarded)
	}
	assert.Equal(t, int64(150), out.TotalXP)
	assert.Equal(t, 3, out.ExercisesCompletedCount)
	assert.Equal(t, 150, out.LedgerScore)
	assert.True(t, out.TopicCompleted)
	assert.Equal(t, models.StatusCompleted, out.LedgerStatus)
	assert.Equal(t, 5, out.HeartsRemaining)

	first, err := f.svc.CompleteTopic(ctx, f.userID, f.completion())
	require.NoError(t, err)
	assert.Equal(t, int64(500), first.BonusXPAwarded)
	assert.Equal(t, int64(650), first.TotalXP)
	assert.Equal(t, models.StatusCompleted, first.LedgerStatus)
	require.NotNil(t, first.NextTopicUnlocked)
	assert.Equal(t, f.nextTopic.ID.Hex(), first.NextTopicUnlocked.ID)
	assert.Equal(t, "Numbers", first.NextTopicUnlocked.Title)

	entry := f.store.entry(f.userID, models.KindTopic, f.topic.ID)
	require.NotNil(t, entry.CompletedAt)
	completedAt := *entry.CompletedAt

	f.clock.Advance(time.Hour)
	second, err := f.svc.CompleteTopic(ctx, f.userID, f.completion())
	require.NoError(t, err)
	assert.Equal(t, int64(0), second.BonusXPAwarded)
	assert.Equal(t, int64(650), second.TotalXP)
	assert.Nil(t, second.NextTopicUnlocked, "unlock is reported once")

	entry = f.store.entry(f.userID, models.KindTopic, f.topic.ID)
	assert.Equal(t, completedAt, *entry.CompletedAt)
	assert.Equal(t, start.Add(time.Hour), entry.LastAccessedAt)

	user := f.store.user(f.userID)
	assert.Equal(t, int64(650), user.ExperiencePoints)
	assert.Equal(t, []primitive.ObjectID{f.nextTopic.ID}, user.UnlockedTopicIDs)
	assert.Equal(t, int64(650), f.xpLog.total())
}

func TestCorrectResubmissionAfterCompletionEarnsNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := range f.exercises {
		_, err := f.svc.SubmitExercise(ctx, f.userID, f.answer(i, true))
		require.NoError(t, err)
	}

	out, err := f.svc.SubmitExercise(ctx, f.userID, f.answer(0, true))
	require.NoError(t, err)
	assert.Equal(t, int64(0), out.XPAwarded)
	assert.Equal(t, int64(150), out.TotalXP)
	assert.False(t, out.TopicCompleted)

	entry := f.store.entry(f.userID, models.KindTopic, f.topic.ID)
	assert.Equal(t, 2, entry.ExerciseResults[f.exercises[0].ID.Hex()].AttemptCount)
}

func TestCorrectAgainAfterWrongDoesNotPayTwice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.svc.SubmitExercise(ctx, f.userID, f.answer(0, true))
	require.NoError(t, err)
	assert.Equal(t, int64(50), out.XPAwarded)

	_, err = f.svc.SubmitExercise(ctx, f.userID, f.answer(0, false))
	require.NoError(t, err)

	out, err = f.svc.SubmitExercise(ctx, f.userID, f.answer(0, true))
	require.NoError(t, err)
	assert.Equal(t, int64(0), out.XPAwarded)
	assert.Equal(t, int64(50), out.TotalXP)
	assert.Equal(t, 50, out.LedgerScore)
}

func TestWrongAnswerDeductsUntilOutOfHearts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.setUser(func(u *models.User) { u.Hearts = 1 })

	out, err := f.svc.SubmitExercise(ctx, f.userID, f.answer(0, false))
	require.NoError(t, err)
	assert.True(t, out.HeartDeducted)
	assert.False(t, out.CanContinue)
	assert.Equal(t, 0, out.HeartsRemaining)
	assert.Equal(t, 30, out.MinutesUntilNextHeart)
	assert.Contains(t, f.notifier.types(), models.EventHeartsDepleted)

	f.clock.Advance(10 * time.Minute)
	_, err = f.svc.SubmitExercise(ctx, f.userID, f.answer(1, true))
	requireKind(t, err, apperr.KindResourceExhausted)
	e, _ := apperr.As(err)
	assert.Equal(t, 20, e.RetryAfterMinutes)

	entry := f.store.entry(f.userID, models.KindTopic, f.topic.ID)
	assert.Len(t, entry.ExerciseResults, 1, "rejected submission leaves the ledger alone")
	assert.Equal(t, int64(0), f.store.user(f.userID).ExperiencePoints)

	f.clock.Advance(20 * time.Minute)
	out, err = f.svc.SubmitExercise(ctx, f.userID, f.answer(1, true))
	require.NoError(t, err)
	assert.Equal(t, 1, out.HeartsRemaining)
	assert.Equal(t, int64(50), out.XPAwarded)
}

func TestRegenerationAppliedBeforeHeartCheck(t *testing.T) {
	f := newFixture(t)
	f.setUser(func(u *models.User) {
		u.Hearts = 0
		u.LastHeartRegenAt = start.Add(-65 * time.Minute)
	})

	out, err := f.svc.SubmitExercise(context.Background(), f.userID, f.answer(0, true))
	require.NoError(t, err)
	assert.Equal(t, 2, out.HeartsRemaining)
	assert.Equal(t, start, f.store.user(f.userID).LastHeartRegenAt)
}

func TestSubmitExerciseRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	otherTopic := primitive.NewObjectID()
	stray := models.Exercise{ID: primitive.NewObjectID(), TopicID: otherTopic}
	f.content.exercises[stray.ID] = stray

	tests := []struct {
		name string
		req  ExerciseSubmission
		kind apperr.Kind
	}{
		{"missing topic", ExerciseSubmission{ExerciseID: f.exercises[0].ID.Hex()}, apperr.KindValidation},
		{"malformed topic", ExerciseSubmission{TopicID: "nope", ExerciseID: f.exercises[0].ID.Hex()}, apperr.KindValidation},
		{"malformed exercise", ExerciseSubmission{TopicID: f.topic.ID.Hex(), ExerciseID: "123"}, apperr.KindValidation},
		{"negative time", ExerciseSubmission{TopicID: f.topic.ID.Hex(), ExerciseID: f.exercises[0].ID.Hex(), TimeSpent: -1}, apperr.KindValidation},
		{"unknown topic", ExerciseSubmission{TopicID: otherTopic.Hex(), ExerciseID: stray.ID.Hex()}, apperr.KindNotFound},
		{"unknown exercise", ExerciseSubmission{TopicID: f.topic.ID.Hex(), ExerciseID: primitive.NewObjectID().Hex()}, apperr.KindNotFound},
		{"exercise of another topic", ExerciseSubmission{TopicID: f.topic.ID.Hex(), ExerciseID: stray.ID.Hex()}, apperr.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.SubmitExercise(ctx, f.userID, tt.req)
			requireKind(t, err, tt.kind)
		})
	}
	assert.Zero(t, f.store.commitCalls)

	_, err := f.svc.SubmitExercise(ctx, primitive.NewObjectID(), f.answer(0, true))
	requireKind(t, err, apperr.KindNotFound)
}

func TestReplayedSubmissionIsNotChargedTwice(t *testing.T) {
	for _, tc := range []struct {
		name string
		opts []fixtureOption
	}{
		{"ledger only", nil},
		{"with idempotency cache", []fixtureOption{withIdempotency(submission.NewMemoryStore())}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, tc.opts...)
			ctx := context.Background()
			req := f.answer(0, false)
			req.SubmissionID = "9b2d4c1e"

			first, err := f.svc.SubmitExercise(ctx, f.userID, req)
			require.NoError(t, err)
			assert.False(t, first.Replayed)
			assert.Equal(t, 4, first.HeartsRemaining)

			again, err := f.svc.SubmitExercise(ctx, f.userID, req)
			require.NoError(t, err)
			assert.True(t, again.Replayed)
			assert.Equal(t, 4, again.HeartsRemaining)

			assert.Equal(t, 4, f.store.user(f.userID).Hearts)
			entry := f.store.entry(f.userID, models.KindTopic, f.topic.ID)
			assert.Equal(t, 1, entry.ExerciseResults[f.exercises[0].ID.Hex()].AttemptCount)

			req.SubmissionID = "a7f0e3b5"
			next, err := f.svc.SubmitExercise(ctx, f.userID, req)
			require.NoError(t, err)
			assert.False(t, next.Replayed)
			assert.Equal(t, 3, next.HeartsRemaining)
		})
	}
}

func TestCompleteTopicWithoutExercisesStillOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.svc.CompleteTopic(ctx, f.userID, f.completion())
	require.NoError(t, err)
	assert.Equal(t, int64(500), out.BonusXPAwarded)

	ex, err := f.svc.SubmitExercise(ctx, f.userID, f.answer(0, true))
	require.NoError(t, err)
	assert.Equal(t, int64(0), ex.XPAwarded, "no exercise XP once the topic is completed")
	assert.Equal(t, models.StatusCompleted, ex.LedgerStatus)
}

func TestCompleteTopicValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CompleteTopic(ctx, f.userID, TopicCompletion{TopicID: f.topic.ID.Hex(), CourseID: primitive.NewObjectID().Hex()})
	requireKind(t, err, apperr.KindNotFound)
	_, err = f.svc.CompleteTopic(ctx, f.userID, TopicCompletion{TopicID: "x", CourseID: f.courseID.Hex()})
	requireKind(t, err, apperr.KindValidation)
}

func TestLastTopicHasNothingToUnlock(t *testing.T) {
	f := newFixture(t)
	out, err := f.svc.CompleteTopic(context.Background(), f.userID,
		TopicCompletion{TopicID: f.nextTopic.ID.Hex(), CourseID: f.courseID.Hex()})
	require.NoError(t, err)
	assert.Nil(t, out.NextTopicUnlocked)
}

func TestUnlockedTopicIsNotRelocked(t *testing.T) {
	f := newFixture(t)
	f.setUser(func(u *models.User) { u.UnlockedTopicIDs = []primitive.ObjectID{f.nextTopic.ID} })

	out, err := f.svc.CompleteTopic(context.Background(), f.userID, f.completion())
	require.NoError(t, err)
	assert.Nil(t, out.NextTopicUnlocked)
	assert.Equal(t, []primitive.ObjectID{f.nextTopic.ID}, f.store.user(f.userID).UnlockedTopicIDs)
}

func TestSubmitQuizBestScoreOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	quiz := func(score int, clientPassed bool) QuizSubmission {
		return QuizSubmission{
			QuizID:    f.quiz.ID.Hex(),
			Answers:   []QuizAnswer{{ExerciseID: "q1", Answer: "hola", IsCorrect: true}},
			Score:     score,
			TimeSpent: 120,
			Passed:    clientPassed,
		}
	}

	out, err := f.svc.SubmitQuiz(ctx, f.userID, quiz(60, true))
	require.NoError(t, err)
	assert.Equal(t, int64(60), out.XPAwarded)
	assert.False(t, out.Passed, "threshold comes from the quiz, not the client")

	out, err = f.svc.SubmitQuiz(ctx, f.userID, quiz(60, false))
	require.NoError(t, err)
	assert.Equal(t, int64(0), out.XPAwarded)

	out, err = f.svc.SubmitQuiz(ctx, f.userID, quiz(85, true))
	require.NoError(t, err)
	assert.Equal(t, int64(25), out.XPAwarded)
	assert.Equal(t, 85, out.BestScore)
	assert.True(t, out.Passed)

	out, err = f.svc.SubmitQuiz(ctx, f.userID, quiz(40, false))
	require.NoError(t, err)
	assert.Equal(t, int64(0), out.XPAwarded)
	assert.Equal(t, 4, out.Attempts)
	assert.Equal(t, int64(85), out.TotalXP)

	entry := f.store.entry(f.userID, models.KindQuiz, f.quiz.ID)
	assert.True(t, entry.Passed)
	assert.Equal(t, models.StatusCompleted, entry.Status)
	assert.Equal(t, int64(480), f.store.user(f.userID).CumulativeStudySeconds)
}

func TestReplayedQuizSubmissionIsNotCountedTwice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := QuizSubmission{QuizID: f.quiz.ID.Hex(), Score: 80, TimeSpent: 90, SubmissionID: "c41f0a77"}

	first, err := f.svc.SubmitQuiz(ctx, f.userID, req)
	require.NoError(t, err)
	assert.False(t, first.Replayed)
	assert.Equal(t, int64(80), first.XPAwarded)

	again, err := f.svc.SubmitQuiz(ctx, f.userID, req)
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, 1, again.Attempts)
	assert.Equal(t, int64(80), again.TotalXP)

	entry := f.store.entry(f.userID, models.KindQuiz, f.quiz.ID)
	assert.Equal(t, 1, entry.Attempts)
	assert.Equal(t, int64(90), entry.TotalTimeSpent)
	u := f.store.user(f.userID)
	assert.Equal(t, int64(90), u.CumulativeStudySeconds)
	assert.Equal(t, int64(80), u.ExperiencePoints)

	req.SubmissionID = "d93e2b10"
	next, err := f.svc.SubmitQuiz(ctx, f.userID, req)
	require.NoError(t, err)
	assert.False(t, next.Replayed)
	assert.Equal(t, 2, next.Attempts)
}

func TestSubmitQuizValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.SubmitQuiz(ctx, f.userID, QuizSubmission{QuizID: f.quiz.ID.Hex(), Score: 101})
	requireKind(t, err, apperr.KindValidation)
	_, err = f.svc.SubmitQuiz(ctx, f.userID, QuizSubmission{QuizID: f.quiz.ID.Hex(), Answers: []QuizAnswer{{}}})
	requireKind(t, err, apperr.KindValidation)
	_, err = f.svc.SubmitQuiz(ctx, f.userID, QuizSubmission{QuizID: primitive.NewObjectID().Hex(), Score: 50})
	requireKind(t, err, apperr.KindNotFound)
}

func TestDailyCheckIn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.svc.DailyCheckIn(ctx, f.userID)
	require.NoError(t, err)
	assert.Equal(t, CheckInOutcome{StreakDays: 1, LongestStreak: 1, IsNewDay: true, HeartsRemaining: 5, Level: 1, LevelName: "beginner"}, *out)

	f.clock.Advance(3 * time.Hour)
	out, err = f.svc.DailyCheckIn(ctx, f.userID)
	require.NoError(t, err)
	assert.False(t, out.IsNewDay)
	assert.Equal(t, 1, out.StreakDays)

	f.clock.Advance(24 * time.Hour)
	out, err = f.svc.DailyCheckIn(ctx, f.userID)
	require.NoError(t, err)
	assert.True(t, out.IsNewDay)
	assert.Equal(t, 2, out.StreakDays)
	assert.Contains(t, f.notifier.types(), models.EventStreakExtended)

	f.clock.Advance(3 * 24 * time.Hour)
	out, err = f.svc.DailyCheckIn(ctx, f.userID)
	require.NoError(t, err)
	assert.True(t, out.IsNewDay)
	assert.Equal(t, 1, out.StreakDays)
	assert.Equal(t, 2, out.LongestStreak)
}

func TestCheckInTwiceSameDayWritesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.DailyCheckIn(ctx, f.userID)
	require.NoError(t, err)
	calls := f.store.commitCalls

	_, err = f.svc.DailyCheckIn(ctx, f.userID)
	require.NoError(t, err)
	assert.Equal(t, calls, f.store.commitCalls, "nothing changed, nothing written")
}

func TestVersionConflictIsRetriedWithFreshState(t *testing.T) {
	f := newFixture(t)
	interfered := false
	f.store.beforeCommit = func(s *memStore, u *models.User, _ *models.ProgressEntry) error {
		if interfered {
			return nil
		}
		interfered = true
		// a concurrent request spends a heart first
		other := s.users[u.ID].Clone()
		other.Hearts--
		other.Version++
		s.users[u.ID] = other
		return nil
	}

	out, err := f.svc.SubmitExercise(context.Background(), f.userID, f.answer(0, false))
	require.NoError(t, err)
	assert.Equal(t, 3, out.HeartsRemaining)
	assert.Equal(t, 3, f.store.user(f.userID).Hearts)
	assert.Equal(t, 2, f.store.commitCalls)
}

func TestConflictRetriesExhausted(t *testing.T) {
	f := newFixture(t, withMaxAttempts(3))
	f.store.beforeCommit = func(*memStore, *models.User, *models.ProgressEntry) error { return db.ErrVersionConflict }

	_, err := f.svc.SubmitExercise(context.Background(), f.userID, f.answer(0, true))
	requireKind(t, err, apperr.KindConflict)
	assert.True(t, apperr.IsRetryable(err))
	assert.Equal(t, 3, f.store.commitCalls)
	assert.Nil(t, f.store.entry(f.userID, models.KindTopic, f.topic.ID))
}

func TestStorageFailureWritesNothingAndIsNotRetried(t *testing.T) {
	f := newFixture(t)
	before := f.store.user(f.userID)
	f.store.beforeCommit = func(*memStore, *models.User, *models.ProgressEntry) error {
		return errors.New("write concern timeout")
	}

	_, err := f.svc.SubmitExercise(context.Background(), f.userID, f.answer(0, true))
	requireKind(t, err, apperr.KindPersistence)
	assert.True(t, apperr.IsRetryable(err))
	assert.Equal(t, 1, f.store.commitCalls)

	after := f.store.user(f.userID)
	assert.Equal(t, before.ExperiencePoints, after.ExperiencePoints)
	assert.Equal(t, before.Hearts, after.Hearts)
	assert.Equal(t, before.CumulativeStudySeconds, after.CumulativeStudySeconds)
	assert.Equal(t, before.Version, after.Version)
	assert.Nil(t, f.store.entry(f.userID, models.KindTopic, f.topic.ID))
	assert.Empty(t, f.xpLog.events)

	// the retry succeeds once storage recovers and pays exactly once
	f.store.beforeCommit = nil
	out, err := f.svc.SubmitExercise(context.Background(), f.userID, f.answer(0, true))
	require.NoError(t, err)
	assert.Equal(t, int64(50), out.TotalXP)
}

func TestLedgerConflictLeavesUserUntouched(t *testing.T) {
	f := newFixture(t)
	before := f.store.user(f.userID)
	conflicts := 1
	f.store.beforeCommit = func(s *memStore, _ *models.User, e *models.ProgressEntry) error {
		if conflicts > 0 && e != nil {
			conflicts--
			// another request created the entry first
			other := models.NewProgressEntry(e.UserID, e.Kind, e.ContentID, start)
			other.ID = primitive.NewObjectID()
			other.Version = 1
			s.progress[progressKey{e.UserID, e.Kind, e.ContentID}] = other
		}
		return nil
	}

	out, err := f.svc.SubmitExercise(context.Background(), f.userID, f.answer(1, true))
	require.NoError(t, err)
	assert.Equal(t, 2, f.store.commitCalls)
	assert.Equal(t, before.Version+1, f.store.user(f.userID).Version, "only the successful attempt wrote the user")
	assert.Equal(t, int64(50), out.TotalXP)
}

// pausingStore runs pause before its first commit, letting another request
// land between this request's reads and its write.
type pausingStore struct {
	ProgressionStore
	once  sync.Once
	pause func()
}

func (p *pausingStore) Commit(ctx context.Context, u *models.User, userVersion int64, e *models.ProgressEntry, entryVersion int64) error {
	p.once.Do(p.pause)
	return p.ProgressionStore.Commit(ctx, u, userVersion, e, entryVersion)
}

func TestInterleavedSubmissionsPayEachExerciseOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	deps := ProgressionDeps{Content: f.content, XPLog: f.xpLog, Rules: progression.DefaultConfig(), Clock: f.clock}

	deps.Store = f.store
	other := NewProgressionService(deps)

	var otherErr error
	deps.Store = &pausingStore{ProgressionStore: f.store, pause: func() {
		_, otherErr = other.SubmitExercise(ctx, f.userID, f.answer(1, true))
	}}
	paused := NewProgressionService(deps)

	out, err := paused.SubmitExercise(ctx, f.userID, f.answer(0, true))
	require.NoError(t, err)
	require.NoError(t, otherErr)
	assert.Equal(t, int64(100), out.TotalXP)

	user := f.store.user(f.userID)
	entry := f.store.entry(f.userID, models.KindTopic, f.topic.ID)
	correct := 0
	for _, r := range entry.ExerciseResults {
		if r.EverCorrect {
			correct++
		}
	}
	assert.Equal(t, 2, correct)
	assert.Equal(t, int64(correct)*50, user.ExperiencePoints, "xp matches the ledger")
	assert.Equal(t, 100, entry.Score)
	assert.Equal(t, int64(100), f.xpLog.total())
}

func TestConcurrentWrongAnswersNeverOverdraw(t *testing.T) {
	f := newFixture(t, withMaxAttempts(100))
	f.setUser(func(u *models.User) { u.Hearts = 3 })

	const callers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		exhausted int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := f.answer(i%len(f.exercises), false)
			req.SubmissionID = fmt.Sprintf("sub-%d", i)
			_, err := f.svc.SubmitExercise(context.Background(), f.userID, req)
			mu.Lock()
			defer mu.Unlock()
			switch apperr.KindOf(err) {
			case apperr.KindResourceExhausted:
				exhausted++
			default:
				assert.NoError(t, err)
				succeeded++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 3, succeeded)
	assert.Equal(t, callers-3, exhausted)
	assert.Equal(t, 0, f.store.user(f.userID).Hearts)

	entry := f.store.entry(f.userID, models.KindTopic, f.topic.ID)
	attempts := 0
	for _, r := range entry.ExerciseResults {
		attempts += r.AttemptCount
	}
	assert.Equal(t, 3, attempts)
}

func TestConcurrentCorrectAnswersPayOnce(t *testing.T) {
	f := newFixture(t, withMaxAttempts(100))

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.SubmitExercise(context.Background(), f.userID, f.answer(0, true))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), f.store.user(f.userID).ExperiencePoints)
	entry := f.store.entry(f.userID, models.KindTopic, f.topic.ID)
	assert.Equal(t, 6, entry.ExerciseResults[f.exercises[0].ID.Hex()].AttemptCount)
}

func TestLevelUpNotification(t *testing.T) {
	f := newFixture(t)
	f.setUser(func(u *models.User) { u.ExperiencePoints = 9980 })

	out, err := f.svc.SubmitExercise(context.Background(), f.userID, f.answer(0, true))
	require.NoError(t, err)
	assert.Equal(t, 2, out.Level)
	assert.Equal(t, "elementary", out.LevelName)
	assert.Equal(t, []string{models.EventXPAwarded, models.EventLevelUp}, f.notifier.types())
	assert.Equal(t, 2, f.store.user(f.userID).Level)
}

func TestAdjustXP(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.setUser(func(u *models.User) { u.ExperiencePoints = 650 })

	out, err := f.svc.AdjustXP(ctx, XPAdjustment{UserID: f.userID.Hex(), Delta: -1000, Reason: "refund abuse"})
	require.NoError(t, err)
	assert.Equal(t, XPAdjustmentOutcome{UserID: f.userID.Hex(), PreviousXP: 650, TotalXP: 0, Level: 1, LevelName: "beginner"}, *out)

	out, err = f.svc.AdjustXP(ctx, XPAdjustment{UserID: f.userID.Hex(), Delta: 25000})
	require.NoError(t, err)
	assert.Equal(t, 3, out.Level)
	assert.Equal(t, 3, f.store.user(f.userID).Level)
	require.Len(t, f.xpLog.events, 2)
	assert.Equal(t, int64(-650), f.xpLog.events[0].Amount)

	_, err = f.svc.AdjustXP(ctx, XPAdjustment{UserID: f.userID.Hex()})
	requireKind(t, err, apperr.KindValidation)
	_, err = f.svc.AdjustXP(ctx, XPAdjustment{UserID: primitive.NewObjectID().Hex(), Delta: 5})
	requireKind(t, err, apperr.KindNotFound)
}

func TestGetStateAppliesRegenerationWithoutWriting(t *testing.T) {
	f := newFixture(t)
	f.setUser(func(u *models.User) {
		u.Hearts = 1
		u.LastHeartRegenAt = start.Add(-40 * time.Minute)
		u.ExperiencePoints = 12500
	})

	state, err := f.svc.GetState(context.Background(), f.userID)
	require.NoError(t, err)
	assert.Equal(t, 2, state.Hearts)
	assert.Equal(t, 5, state.MaxHearts)
	assert.Equal(t, 30, state.MinutesUntilNextHeart)
	assert.Equal(t, 2, state.Level)
	assert.Equal(t, int64(7500), state.XPToNextLevel)
	assert.Zero(t, f.store.commitCalls)
	assert.Equal(t, 1, f.store.user(f.userID).Hearts)
}

func TestGetTopicProgress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	view, err := f.svc.GetTopicProgress(ctx, f.userID, f.nextTopic.ID.Hex())
	require.NoError(t, err)
	assert.False(t, view.Unlocked)
	assert.Equal(t, models.StatusNotStarted, view.Status)

	_, err = f.svc.SubmitExercise(ctx, f.userID, f.answer(0, true))
	require.NoError(t, err)
	view, err = f.svc.GetTopicProgress(ctx, f.userID, f.topic.ID.Hex())
	require.NoError(t, err)
	assert.True(t, view.Unlocked)
	assert.Equal(t, models.StatusInProgress, view.Status)
	assert.Equal(t, 1, view.ExercisesCompletedCount)
	assert.Equal(t, 3, view.TotalExercises)
}

func TestListProgressNewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	list, err := f.svc.ListProgress(ctx, f.userID, "")
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = f.svc.SubmitExercise(ctx, f.userID, f.answer(0, true))
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	_, err = f.svc.SubmitQuiz(ctx, f.userID, QuizSubmission{QuizID: f.quiz.ID.Hex(), Score: 80, TimeSpent: 30})
	require.NoError(t, err)

	list, err = f.svc.ListProgress(ctx, f.userID, "")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, models.KindQuiz, list[0].Kind)
	assert.Equal(t, f.quiz.ID.Hex(), list[0].ContentID)
	assert.Equal(t, 80, list[0].BestScore)
	assert.True(t, list[0].Passed)
	assert.Equal(t, models.KindTopic, list[1].Kind)
	assert.Equal(t, 1, list[1].ExercisesCompletedCount)

	topics, err := f.svc.ListProgress(ctx, f.userID, "topic")
	require.NoError(t, err)
	require.Len(t, topics, 1)
	assert.Equal(t, f.topic.ID.Hex(), topics[0].ContentID)

	_, err = f.svc.ListProgress(ctx, f.userID, "lesson")
	requireKind(t, err, apperr.KindValidation)
}

func TestResolveLearnerCreatesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := identity.Identity{Subject: "cognito-sub-2", Email: "li@example.com", DisplayName: "li"}

	first, err := f.svc.ResolveLearner(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 5, first.Hearts)
	assert.Equal(t, 1, first.Level)

	second, err := f.svc.ResolveLearner(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	_, err = f.svc.ResolveLearner(ctx, identity.Identity{})
	requireKind(t, err, apperr.KindUnauthorized)
}

func TestLeaderboard(t *testing.T) {
	f := newFixture(t)
	f.setUser(func(u *models.User) { u.ExperiencePoints = 300 })
	other := &models.User{ID: primitive.NewObjectID(), Email: "bo@example.com", ExperiencePoints: 12000, Version: 1}
	f.store.put(other)

	entries, err := f.svc.Leaderboard(context.Background(), f.userID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "bo", entries[0].Name)
	assert.Equal(t, 2, entries[0].Level)
	assert.Equal(t, 2, entries[1].Rank)
	assert.True(t, entries[1].CurrentUser)
}
