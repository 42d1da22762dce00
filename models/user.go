package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// User defines a learner and the resource state the progression engine owns
type User struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	ExternalID  string             `bson:"externalId" json:"-"`
	Email       string             `bson:"email" json:"email"`
	DisplayName string             `bson:"displayName" json:"displayName"`
	AvatarURL   string             `bson:"avatarUrl,omitempty" json:"avatarUrl,omitempty"`
	IsAdmin     bool               `bson:"isAdmin" json:"isAdmin"`
	Role        string             `bson:"role,omitempty" json:"role,omitempty"` // "admin" or "moderator"

	ExperiencePoints       int64                `bson:"experiencePoints" json:"experiencePoints"`
	Level                  int                  `bson:"level" json:"level"` // always derived from experiencePoints
	Hearts                 int                  `bson:"hearts" json:"hearts"`
	LastHeartRegenAt       time.Time            `bson:"lastHeartRegenAt" json:"lastHeartRegenAt"`
	StreakDays             int                  `bson:"streakDays" json:"streakDays"`
	LongestStreak          int                  `bson:"longestStreak" json:"longestStreak"`
	LastActiveAt           time.Time            `bson:"lastActiveAt" json:"lastActiveAt"`
	CumulativeStudySeconds int64                `bson:"cumulativeStudySeconds" json:"cumulativeStudySeconds"`
	UnlockedTopicIDs       []primitive.ObjectID `bson:"unlockedTopicIds" json:"unlockedTopicIds"`

	Version   int64     `bson:"version" json:"-"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}

// Clone returns a copy that shares no slices with u
func (u *User) Clone() *User {
	c := *u
	if u.UnlockedTopicIDs != nil {
		c.UnlockedTopicIDs = append([]primitive.ObjectID(nil), u.UnlockedTopicIDs...)
	}
	return &c
}

// HasUnlocked reports whether topicID was unlocked for this user
func (u *User) HasUnlocked(topicID primitive.ObjectID) bool {
	for _, id := range u.UnlockedTopicIDs {
		if id == topicID {
			return true
		}
	}
	return false
}
