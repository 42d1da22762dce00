package progression

import "time"

// HeartState is the bounded, time-regenerating resource pool of one learner
type HeartState struct {
	Hearts          int       `json:"hearts"`
	LastRegenAnchor time.Time `json:"lastRegenAnchor"`
}

// HeartPool applies regeneration and deduction rules
type HeartPool struct {
	Max           int
	RegenInterval time.Duration
}

// NewHeartPool falls back to 5 hearts every 30 minutes for non-positive input
func NewHeartPool(max int, interval time.Duration) HeartPool {
	if max <= 0 {
		max = defaultMaxHearts
	}
	if interval <= 0 {
		interval = defaultRegenInterval
	}
	return HeartPool{Max: max, RegenInterval: interval}
}

func (p HeartPool) clamp(s HeartState) HeartState {
	if s.Hearts < 0 {
		s.Hearts = 0
	}
	if s.Hearts > p.Max {
		s.Hearts = p.Max
	}
	return s
}

// Regenerate adds one heart per whole interval elapsed since the anchor.
// A full pool is returned untouched. Under one interval the anchor stays put
// so partial progress is kept; once a heart is added the anchor moves to now.
func (p HeartPool) Regenerate(s HeartState, now time.Time) HeartState {
	s = p.clamp(s)
	if s.Hearts >= p.Max {
		return s
	}
	elapsed := now.Sub(s.LastRegenAnchor)
	if elapsed < p.RegenInterval {
		return s
	}
	units := int(elapsed / p.RegenInterval)
	s.Hearts += units
	if s.Hearts > p.Max || s.Hearts < 0 {
		s.Hearts = p.Max
	}
	s.LastRegenAnchor = now
	return s
}

// Deduct removes one heart, floored at zero, and restarts the regen clock
func (p HeartPool) Deduct(s HeartState, now time.Time) (HeartState, bool) {
	s = p.clamp(s)
	if s.Hearts > 0 {
		s.Hearts--
	}
	s.LastRegenAnchor = now
	return s, s.Hearts > 0
}

// MinutesUntilNextHeart rounds the wait up to whole minutes; zero when full
func (p HeartPool) MinutesUntilNextHeart(s HeartState, now time.Time) int {
	s = p.clamp(s)
	if s.Hearts >= p.Max {
		return 0
	}
	remaining := p.RegenInterval - now.Sub(s.LastRegenAnchor)
	if remaining <= 0 {
		return 0
	}
	return int((remaining + time.Minute - 1) / time.Minute)
}
