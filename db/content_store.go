package db

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"linguahub/models"
)

// ContentStore reads course content. The progression engine never writes it.
type ContentStore struct {
	topics    *mongo.Collection
	exercises *mongo.Collection
	quizzes   *mongo.Collection
}

func NewContentStore(database *mongo.Database) *ContentStore {
	return &ContentStore{
		topics:    database.Collection(TopicsCollection),
		exercises: database.Collection(ExercisesCollection),
		quizzes:   database.Collection(QuizzesCollection),
	}
}

func (s *ContentStore) GetTopic(ctx context.Context, id primitive.ObjectID) (*models.Topic, error) {
	var topic models.Topic
	if err := findOne(ctx, s.topics, bson.M{"_id": id}, &topic); err != nil {
		return nil, err
	}
	return &topic, nil
}

func (s *ContentStore) GetExercise(ctx context.Context, id primitive.ObjectID) (*models.Exercise, error) {
	var exercise models.Exercise
	if err := findOne(ctx, s.exercises, bson.M{"_id": id}, &exercise); err != nil {
		return nil, err
	}
	return &exercise, nil
}

func (s *ContentStore) CountExercises(ctx context.Context, topicID primitive.ObjectID) (int, error) {
	n, err := s.exercises.CountDocuments(ctx, bson.M{"topicId": topicID})
	if err != nil {
		return 0, fmt.Errorf("count exercises: %w", err)
	}
	return int(n), nil
}

// NextTopic returns the topic with the smallest order greater than afterOrder
// in the same course, or ErrNotFound if the topic is the last one.
func (s *ContentStore) NextTopic(ctx context.Context, courseID primitive.ObjectID, afterOrder int) (*models.Topic, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "order", Value: 1}})
	var topic models.Topic
	err := s.topics.FindOne(ctx, bson.M{"courseId": courseID, "order": bson.M{"$gt": afterOrder}}, opts).Decode(&topic)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find next topic: %w", err)
	}
	return &topic, nil
}

func (s *ContentStore) GetQuiz(ctx context.Context, id primitive.ObjectID) (*models.Quiz, error) {
	var quiz models.Quiz
	if err := findOne(ctx, s.quizzes, bson.M{"_id": id}, &quiz); err != nil {
		return nil, err
	}
	return &quiz, nil
}

func findOne(ctx context.Context, coll *mongo.Collection, filter bson.M, out interface{}) error {
	err := coll.FindOne(ctx, filter).Decode(out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("find in %s: %w", coll.Name(), err)
	}
	return nil
}
