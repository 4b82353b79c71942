package chat

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"gorm.io/gorm"

	"github.com/suPer8Hu/chat-agents/internal/metrics"
	"github.com/suPer8Hu/chat-agents/internal/progress"
)

const DefaultIntimacyLevel = 1

// ErrProgressConflict is returned when an update kept losing the version race.
var ErrProgressConflict = errors.New("intimacy progress: too many concurrent updates")

// ProgressStore is the only writer of intimacy_progress. Every write is a
// read-modify-write guarded by the row's version column.
type ProgressStore struct {
	db          *gorm.DB
	maxAttempts int
	now         func() time.Time
}

func NewProgressStore(db *gorm.DB) *ProgressStore {
	return &ProgressStore{db: db, maxAttempts: 10, now: time.Now}
}

// WithMaxAttempts overrides the retry bound.
func (s *ProgressStore) WithMaxAttempts(n int) *ProgressStore {
	if n > 0 {
		s.maxAttempts = n
	}
	return s
}

func (s *ProgressStore) Get(ctx context.Context, roomID string) (*IntimacyProgress, error) {
	var p IntimacyProgress
	if err := s.db.WithContext(ctx).Where("chatroom_id = ?", roomID).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// Level returns the room's current intimacy level, DefaultIntimacyLevel when
// there is no progress row or it cannot be read.
func (s *ProgressStore) Level(ctx context.Context, roomID string) int {
	p, err := s.Get(ctx, roomID)
	if err != nil || p.IntimacyLevel < 1 {
		return DefaultIntimacyLevel
	}
	return p.IntimacyLevel
}

// Update applies fn to the room's progress row, creating it when absent.
// fn may run more than once and must only mutate the row it is given.
func (s *ProgressStore) Update(ctx context.Context, roomID string, userID uint64, fn func(p *IntimacyProgress) error) (*IntimacyProgress, error) {
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		if attempt > 0 {
			if err := s.pause(ctx, attempt); err != nil {
				return nil, err
			}
		}

		cur, err := s.Get(ctx, roomID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			p := &IntimacyProgress{
				ChatroomID:    roomID,
				UserID:        userID,
				IntimacyLevel: DefaultIntimacyLevel,
			}
			p.SetDoc(progress.New())
			if err := fn(p); err != nil {
				return nil, err
			}
			p.LastUpdated = s.now()
			p.Version = 0
			err := s.db.WithContext(ctx).Create(p).Error
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				// another writer created it first
				metrics.ProgressConflicts.Inc()
				continue
			}
			if err != nil {
				return nil, err
			}
			return p, nil
		}
		if err != nil {
			return nil, err
		}

		next := *cur
		if err := fn(&next); err != nil {
			return nil, err
		}
		next.LastUpdated = s.now()
		next.Version = cur.Version + 1

		res := s.db.WithContext(ctx).Model(&IntimacyProgress{}).
			Where("id = ? AND version = ?", cur.ID, cur.Version).
			Updates(map[string]any{
				"intimacy_level":    next.IntimacyLevel,
				"total_corrections": next.TotalCorrections,
				"last_feedback":     next.LastFeedback,
				"last_updated":      next.LastUpdated,
				"progress_data":     next.ProgressData,
				"version":           next.Version,
			})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 1 {
			return &next, nil
		}
		metrics.ProgressConflicts.Inc()
	}
	return nil, fmt.Errorf("room %s: %w", roomID, ErrProgressConflict)
}

func (s *ProgressStore) pause(ctx context.Context, attempt int) error {
	d := time.Duration(attempt)*5*time.Millisecond + time.Duration(rand.IntN(5))*time.Millisecond
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
