package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"linguahub/models"
)

// ProgressionStore persists learner resource state and progress ledger entries.
// Every write is guarded by the document's version field.
type ProgressionStore struct {
	users    *mongo.Collection
	progress *mongo.Collection
}

func NewProgressionStore(database *mongo.Database) *ProgressionStore {
	return &ProgressionStore{
		users:    database.Collection(UsersCollection),
		progress: database.Collection(ProgressCollection),
	}
}

func (s *ProgressionStore) GetUser(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	var user models.User
	err := s.users.FindOne(ctx, bson.M{"_id": id}).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user %s: %w", id.Hex(), err)
	}
	return &user, nil
}

// EnsureUser returns the learner for an identity subject, creating it with
// default resource state the first time the subject is seen.
func (s *ProgressionStore) EnsureUser(ctx context.Context, externalID, email, displayName string, maxHearts int, now time.Time) (*models.User, error) {
	filter := bson.M{"externalId": externalID}
	update := bson.M{
		"$setOnInsert": bson.M{
			"externalId":             externalID,
			"email":                  email,
			"displayName":            displayName,
			"isAdmin":                false,
			"experiencePoints":       int64(0),
			"level":                  1,
			"hearts":                 maxHearts,
			"lastHeartRegenAt":       now,
			"streakDays":             0,
			"longestStreak":          0,
			"cumulativeStudySeconds": int64(0),
			"unlockedTopicIds":       []primitive.ObjectID{},
			"version":                int64(1),
			"createdAt":              now,
			"updatedAt":              now,
		},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var user models.User
	err := s.users.FindOneAndUpdate(ctx, filter, update, opts).Decode(&user)
	if mongo.IsDuplicateKeyError(err) {
		// lost an insert race; the winner's document is there now
		err = s.users.FindOne(ctx, filter).Decode(&user)
	}
	if err != nil {
		return nil, fmt.Errorf("ensure user %s: %w", externalID, err)
	}
	return &user, nil
}

// GetProgress returns nil, nil when the learner has no entry for the content yet
func (s *ProgressionStore) GetProgress(ctx context.Context, userID primitive.ObjectID, kind models.ProgressKind, contentID primitive.ObjectID) (*models.ProgressEntry, error) {
	var entry models.ProgressEntry
	err := s.progress.FindOne(ctx, bson.M{"userId": userID, "kind": kind, "contentId": contentID}).Decode(&entry)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find progress %s/%s: %w", kind, contentID.Hex(), err)
	}
	if entry.ExerciseResults == nil {
		entry.ExerciseResults = map[string]models.ExerciseResult{}
	}
	return &entry, nil
}

// Commit writes the learner's resource state and a ledger entry as one unit.
// Either may be nil. Each write is guarded by the version the caller loaded
// (entryVersion 0 inserts); a lost race returns ErrVersionConflict and nothing
// is written. When both are given they are written in one transaction, which
// needs a replica set. On success u.Version and e.Version hold the new versions.
func (s *ProgressionStore) Commit(ctx context.Context, u *models.User, userVersion int64, e *models.ProgressEntry, entryVersion int64) error {
	if e != nil && e.ID.IsZero() {
		e.ID = primitive.NewObjectID()
	}

	var err error
	switch {
	case u != nil && e != nil:
		err = s.commitBoth(ctx, u, userVersion, e, entryVersion)
	case u != nil:
		err = s.updateUser(ctx, u, userVersion)
	case e != nil:
		err = s.saveProgress(ctx, e, entryVersion)
	}
	if err != nil {
		return err
	}
	if u != nil {
		u.Version = userVersion + 1
	}
	if e != nil {
		e.Version = entryVersion + 1
	}
	return nil
}

func (s *ProgressionStore) commitBoth(ctx context.Context, u *models.User, userVersion int64, e *models.ProgressEntry, entryVersion int64) error {
	session, err := s.users.Database().Client().StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)

	// WithTransaction reruns the callback on transient transaction errors
	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		if err := s.updateUser(sc, u, userVersion); err != nil {
			return nil, err
		}
		return nil, s.saveProgress(sc, e, entryVersion)
	})
	return err
}

func (s *ProgressionStore) updateUser(ctx context.Context, u *models.User, expectedVersion int64) error {
	unlocked := u.UnlockedTopicIDs
	if unlocked == nil {
		unlocked = []primitive.ObjectID{}
	}
	update := bson.M{"$set": bson.M{
		"experiencePoints":       u.ExperiencePoints,
		"level":                  u.Level,
		"hearts":                 u.Hearts,
		"lastHeartRegenAt":       u.LastHeartRegenAt,
		"streakDays":             u.StreakDays,
		"longestStreak":          u.LongestStreak,
		"lastActiveAt":           u.LastActiveAt,
		"cumulativeStudySeconds": u.CumulativeStudySeconds,
		"unlockedTopicIds":       unlocked,
		"updatedAt":              u.UpdatedAt,
		"version":                expectedVersion + 1,
	}}
	res, err := s.users.UpdateOne(ctx, bson.M{"_id": u.ID, "version": expectedVersion}, update)
	if err != nil {
		return fmt.Errorf("update user %s: %w", u.ID.Hex(), err)
	}
	if res.MatchedCount == 0 {
		return ErrVersionConflict
	}
	return nil
}

func (s *ProgressionStore) saveProgress(ctx context.Context, e *models.ProgressEntry, expectedVersion int64) error {
	doc := *e
	doc.Version = expectedVersion + 1

	if expectedVersion == 0 {
		if _, err := s.progress.InsertOne(ctx, doc); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return ErrVersionConflict
			}
			return fmt.Errorf("insert progress: %w", err)
		}
		return nil
	}

	res, err := s.progress.ReplaceOne(ctx, bson.M{"_id": e.ID, "version": expectedVersion}, doc)
	if err != nil {
		return fmt.Errorf("replace progress %s: %w", e.ID.Hex(), err)
	}
	if res.MatchedCount == 0 {
		return ErrVersionConflict
	}
	return nil
}

// ListProgress returns every ledger entry of a learner, most recent first
func (s *ProgressionStore) ListProgress(ctx context.Context, userID primitive.ObjectID) ([]models.ProgressEntry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "lastAccessedAt", Value: -1}})
	cursor, err := s.progress.Find(ctx, bson.M{"userId": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}
	defer cursor.Close(ctx)

	var entries []models.ProgressEntry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("decode progress: %w", err)
	}
	return entries, nil
}

// TopByXP returns learners sorted by experience points
func (s *ProgressionStore) TopByXP(ctx context.Context, limit int64) ([]models.User, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "experiencePoints", Value: -1}, {Key: "_id", Value: 1}}).
		SetLimit(limit)
	cursor, err := s.users.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("find leaderboard: %w", err)
	}
	defer cursor.Close(ctx)

	var users []models.User
	if err := cursor.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("decode leaderboard: %w", err)
	}
	return users, nil
}

// SetAdmin grants a role to the learner with the given email
func (s *ProgressionStore) SetAdmin(ctx context.Context, email, role string) error {
	res, err := s.users.UpdateOne(ctx,
		bson.M{"email": email},
		bson.M{
			"$set": bson.M{"isAdmin": true, "role": role, "updatedAt": time.Now().UTC()},
			"$inc": bson.M{"version": 1},
		},
	)
	if err != nil {
		return fmt.Errorf("set admin %s: %w", email, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
