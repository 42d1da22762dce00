package progression

import "time"

// StreakResult is the outcome of a daily check-in
type StreakResult struct {
	Streak   int  `json:"streak"`
	IsNewDay bool `json:"isNewDay"`
}

// AdvanceStreak compares UTC calendar days of lastActiveAt and now.
// Same day keeps the streak, the next day extends it, any longer gap resets it to 1.
// A zero lastActiveAt is a first check-in.
func AdvanceStreak(lastActiveAt time.Time, current int, now time.Time) StreakResult {
	if current < 0 {
		current = 0
	}
	if lastActiveAt.IsZero() {
		return StreakResult{Streak: 1, IsNewDay: true}
	}

	switch days := CalendarDaysBetween(lastActiveAt, now); {
	case days <= 0:
		// now on or before the last active day (clock skew counts as same day)
		return StreakResult{Streak: current, IsNewDay: false}
	case days == 1:
		return StreakResult{Streak: current + 1, IsNewDay: true}
	default:
		return StreakResult{Streak: 1, IsNewDay: true}
	}
}

// CalendarDaysBetween counts UTC midnights crossed going from -> to
func CalendarDaysBetween(from, to time.Time) int {
	return int(utcDay(to).Sub(utcDay(from)) / (24 * time.Hour))
}

func utcDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
