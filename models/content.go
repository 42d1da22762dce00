package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Course groups ordered topics for one target language
type Course struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	Title     string             `bson:"title" json:"title"`
	Language  string             `bson:"language" json:"language"`
	CreatedAt time.Time          `bson:"createdAt" json:"createdAt"`
}

// Topic is the unit of completion and unlocking
type Topic struct {
	ID       primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	CourseID primitive.ObjectID `bson:"courseId" json:"courseId"`
	Title    string             `bson:"title" json:"title"`
	Order    int                `bson:"order" json:"order"`
	IsLocked bool               `bson:"isLocked" json:"isLocked"`
}

// Exercise belongs to exactly one topic
type Exercise struct {
	ID      primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	TopicID primitive.ObjectID `bson:"topicId" json:"topicId"`
	Type    string             `bson:"type" json:"type"` // "translate", "multiple_choice", "listening", ...
	Prompt  string             `bson:"prompt" json:"prompt"`
}

// Quiz carries its own passing threshold (percent)
type Quiz struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	Title        string             `bson:"title" json:"title"`
	CourseID     primitive.ObjectID `bson:"courseId,omitempty" json:"courseId,omitempty"`
	TopicID      primitive.ObjectID `bson:"topicId,omitempty" json:"topicId,omitempty"`
	PassingScore int                `bson:"passingScore" json:"passingScore"`
}
