package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"linguahub/db"
	"linguahub/internal/apperr"
	"linguahub/models"
)

// changeSet is what one attempt of an operation wants written.
// loaded is the user as read; user is the mutated copy.
type changeSet struct {
	loaded       *models.User
	user         *models.User
	entry        *models.ProgressEntry
	entryVersion int64
	// nothing to write, e.g. a replayed submission
	noop bool
}

// commit runs attempt until its changes persist without a version conflict.
// Every attempt must reload state; attempt returns an error to abort.
func (s *ProgressionService) commit(ctx context.Context, op string, attempt func() (*changeSet, error)) error {
	for i := 1; i <= s.maxAttempts; i++ {
		cs, err := attempt()
		if err != nil {
			return err
		}
		if cs.noop {
			return nil
		}
		err = s.persist(ctx, cs)
		if err == nil {
			return nil
		}
		if !errors.Is(err, db.ErrVersionConflict) {
			return err
		}
		s.log.Debug("version conflict, reloading", "operation", op, "attempt", i)
		if err := backoff(ctx, i); err != nil {
			return apperr.Persistence("request cancelled", err)
		}
	}
	return apperr.Conflict(fmt.Sprintf("%s: too many concurrent updates, retry", op), db.ErrVersionConflict)
}

func backoff(ctx context.Context, attempt int) error {
	t := time.NewTimer(time.Duration(attempt) * 2 * time.Millisecond)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// persist writes the user and the ledger entry in one store commit. The user
// is left out when its resource state did not change.
func (s *ProgressionService) persist(ctx context.Context, cs *changeSet) error {
	var user *models.User
	if !sameResourceState(cs.loaded, cs.user) {
		user = cs.user
	}
	if user == nil && cs.entry == nil {
		return nil
	}
	err := s.store.Commit(ctx, user, cs.loaded.Version, cs.entry, cs.entryVersion)
	if err == nil || errors.Is(err, db.ErrVersionConflict) {
		return err
	}
	return apperr.Persistence("failed to save progress", err)
}

func sameResourceState(a, b *models.User) bool {
	if a.ExperiencePoints != b.ExperiencePoints ||
		a.Level != b.Level ||
		a.Hearts != b.Hearts ||
		!a.LastHeartRegenAt.Equal(b.LastHeartRegenAt) ||
		a.StreakDays != b.StreakDays ||
		a.LongestStreak != b.LongestStreak ||
		!a.LastActiveAt.Equal(b.LastActiveAt) ||
		a.CumulativeStudySeconds != b.CumulativeStudySeconds ||
		len(a.UnlockedTopicIDs) != len(b.UnlockedTopicIDs) {
		return false
	}
	for i := range a.UnlockedTopicIDs {
		if a.UnlockedTopicIDs[i] != b.UnlockedTopicIDs[i] {
			return false
		}
	}
	return true
}
