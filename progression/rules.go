// Package progression holds the pure rules of the learner progression engine:
// level tiers, daily streaks, the heart pool and the progress ledger.
// Nothing in here performs I/O; callers pass the current time in.
package progression

import "time"

const (
	defaultMaxHearts            = 5
	defaultRegenInterval        = 30 * time.Minute
	defaultXPPerExercise        = 50
	defaultPointsPerExercise    = 50
	defaultTopicCompletionBonus = 500
)

// Config holds the tunable progression parameters
type Config struct {
	MaxHearts            int           `json:"max_hearts"`
	RegenInterval        time.Duration `json:"regen_interval"`
	XPPerExercise        int64         `json:"xp_per_exercise"`
	PointsPerExercise    int           `json:"points_per_exercise"`
	TopicCompletionBonus int64         `json:"topic_completion_bonus"`
}

// DefaultConfig returns the canonical parameters
func DefaultConfig() *Config {
	return &Config{
		MaxHearts:            defaultMaxHearts,
		RegenInterval:        defaultRegenInterval,
		XPPerExercise:        defaultXPPerExercise,
		PointsPerExercise:    defaultPointsPerExercise,
		TopicCompletionBonus: defaultTopicCompletionBonus,
	}
}

// Normalize replaces non-positive values with defaults
func (c *Config) Normalize() *Config {
	d := DefaultConfig()
	if c == nil {
		return d
	}
	out := *c
	if out.MaxHearts <= 0 {
		out.MaxHearts = d.MaxHearts
	}
	if out.RegenInterval <= 0 {
		out.RegenInterval = d.RegenInterval
	}
	if out.XPPerExercise < 0 {
		out.XPPerExercise = d.XPPerExercise
	}
	if out.PointsPerExercise <= 0 {
		out.PointsPerExercise = d.PointsPerExercise
	}
	if out.TopicCompletionBonus < 0 {
		out.TopicCompletionBonus = d.TopicCompletionBonus
	}
	return &out
}

// HeartPool builds the pool described by this config
func (c *Config) HeartPool() HeartPool {
	return NewHeartPool(c.MaxHearts, c.RegenInterval)
}

// Clock supplies the current time
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
