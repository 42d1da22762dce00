package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"linguahub/db"
	"linguahub/models"
)

type progressKey struct {
	userID    primitive.ObjectID
	kind      models.ProgressKind
	contentID primitive.ObjectID
}

// memStore is an in-memory ProgressionStore with the same version semantics as the mongo store
type memStore struct {
	mu       sync.Mutex
	users    map[primitive.ObjectID]*models.User
	progress map[progressKey]*models.ProgressEntry

	// beforeCommit runs under mu and may return an error to inject
	beforeCommit func(s *memStore, u *models.User, e *models.ProgressEntry) error

	commitCalls int
	userWrites  int
}

func newMemStore() *memStore {
	return &memStore{
		users:    map[primitive.ObjectID]*models.User{},
		progress: map[progressKey]*models.ProgressEntry{},
	}
}

func (s *memStore) put(u *models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u.Clone()
}

func (s *memStore) user(id primitive.ObjectID) *models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[id].Clone()
}

func (s *memStore) entry(userID primitive.ObjectID, kind models.ProgressKind, contentID primitive.ObjectID) *models.ProgressEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.progress[progressKey{userID, kind, contentID}]
	if e == nil {
		return nil
	}
	return e.Clone()
}

func (s *memStore) GetUser(_ context.Context, id primitive.ObjectID) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return u.Clone(), nil
}

func (s *memStore) EnsureUser(_ context.Context, externalID, email, displayName string, maxHearts int, now time.Time) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.ExternalID == externalID {
			return u.Clone(), nil
		}
	}
	u := &models.User{
		ID:               primitive.NewObjectID(),
		ExternalID:       externalID,
		Email:            email,
		DisplayName:      displayName,
		Level:            1,
		Hearts:           maxHearts,
		LastHeartRegenAt: now,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	s.users[u.ID] = u
	return u.Clone(), nil
}

func (s *memStore) GetProgress(_ context.Context, userID primitive.ObjectID, kind models.ProgressKind, contentID primitive.ObjectID) (*models.ProgressEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.progress[progressKey{userID, kind, contentID}]
	if !ok {
		return nil, nil
	}
	return e.Clone(), nil
}

// Commit checks both version guards before applying either write
func (s *memStore) Commit(_ context.Context, u *models.User, userVersion int64, e *models.ProgressEntry, entryVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitCalls++
	if u != nil {
		s.userWrites++
	}
	if s.beforeCommit != nil {
		if err := s.beforeCommit(s, u, e); err != nil {
			return err
		}
	}

	if u != nil {
		stored, ok := s.users[u.ID]
		if !ok || stored.Version != userVersion {
			return db.ErrVersionConflict
		}
	}
	var key progressKey
	if e != nil {
		key = progressKey{e.UserID, e.Kind, e.ContentID}
		stored, exists := s.progress[key]
		if entryVersion == 0 && exists {
			return db.ErrVersionConflict
		}
		if entryVersion != 0 && (!exists || stored.Version != entryVersion) {
			return db.ErrVersionConflict
		}
	}

	if u != nil {
		next := u.Clone()
		next.Version = userVersion + 1
		s.users[u.ID] = next
		u.Version = next.Version
	}
	if e != nil {
		if e.ID.IsZero() {
			e.ID = primitive.NewObjectID()
		}
		next := e.Clone()
		next.Version = entryVersion + 1
		s.progress[key] = next
		e.Version = next.Version
	}
	return nil
}

func (s *memStore) ListProgress(_ context.Context, userID primitive.ObjectID) ([]models.ProgressEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ProgressEntry
	for k, e := range s.progress {
		if k.userID == userID {
			out = append(out, *e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastAccessedAt.After(out[j].LastAccessedAt) })
	return out, nil
}

func (s *memStore) TopByXP(_ context.Context, limit int64) ([]models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	users := make([]models.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, *u.Clone())
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].ExperiencePoints != users[j].ExperiencePoints {
			return users[i].ExperiencePoints > users[j].ExperiencePoints
		}
		return users[i].ID.Hex() < users[j].ID.Hex()
	})
	if int64(len(users)) > limit {
		users = users[:limit]
	}
	return users, nil
}

type memContent struct {
	topics    map[primitive.ObjectID]models.Topic
	exercises map[primitive.ObjectID]models.Exercise
	quizzes   map[primitive.ObjectID]models.Quiz
}

func (c *memContent) GetTopic(_ context.Context, id primitive.ObjectID) (*models.Topic, error) {
	t, ok := c.topics[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &t, nil
}

func (c *memContent) GetExercise(_ context.Context, id primitive.ObjectID) (*models.Exercise, error) {
	e, ok := c.exercises[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &e, nil
}

func (c *memContent) CountExercises(_ context.Context, topicID primitive.ObjectID) (int, error) {
	n := 0
	for _, e := range c.exercises {
		if e.TopicID == topicID {
			n++
		}
	}
	return n, nil
}

func (c *memContent) NextTopic(_ context.Context, courseID primitive.ObjectID, afterOrder int) (*models.Topic, error) {
	var next *models.Topic
	for _, t := range c.topics {
		t := t
		if t.CourseID != courseID || t.Order <= afterOrder {
			continue
		}
		if next == nil || t.Order < next.Order {
			next = &t
		}
	}
	if next == nil {
		return nil, db.ErrNotFound
	}
	return next, nil
}

func (c *memContent) GetQuiz(_ context.Context, id primitive.ObjectID) (*models.Quiz, error) {
	q, ok := c.quizzes[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &q, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []models.ProgressionEvent
}

func (n *recordingNotifier) Notify(_ string, event models.ProgressionEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.Type)
	}
	return out
}

type recordingXPLog struct {
	mu     sync.Mutex
	events []models.XPEvent
}

func (l *recordingXPLog) RecordXPEvent(_ context.Context, event models.XPEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	return nil
}

func (l *recordingXPLog) total() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var sum int64
	for _, e := range l.events {
		sum += e.Amount
	}
	return sum
}
