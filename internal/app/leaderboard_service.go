package app

import (
	"context"
	"sync"
	"time"

	"quiz-attempt-service/internal/domain"
)

// DefaultLeaderboardLimit caps how many entries a leaderboard query returns.
const DefaultLeaderboardLimit = 50

// LeaderboardService serves ranked best-attempt-per-user standings and fans
// out refreshed snapshots to watchers when attempts finish.
type LeaderboardService struct {
	source LeaderboardSource
	now    func() time.Time

	mu       sync.Mutex
	watchers map[int64]map[chan domain.Leaderboard]struct{}
}

func NewLeaderboardService(source LeaderboardSource) *LeaderboardService {
	return &LeaderboardService{
		source:   source,
		now:      time.Now,
		watchers: make(map[int64]map[chan domain.Leaderboard]struct{}),
	}
}

// NewLeaderboardServiceWithClock is test-only for deterministic timestamps.
func NewLeaderboardServiceWithClock(source LeaderboardSource, now func() time.Time) *LeaderboardService {
	s := NewLeaderboardService(source)
	s.now = now
	return s
}

// GetLeaderboard returns the standings for a quiz, truncated to limit.
// A non-positive or oversized limit falls back to DefaultLeaderboardLimit.
func (s *LeaderboardService) GetLeaderboard(ctx context.Context, quizID int64, limit int) (domain.Leaderboard, error) {
	if limit <= 0 || limit > DefaultLeaderboardLimit {
		limit = DefaultLeaderboardLimit
	}
	entries, err := s.source.TopFinished(ctx, quizID, limit)
	if err != nil {
		return domain.Leaderboard{}, err
	}
	return domain.Leaderboard{QuizID: quizID, Entries: entries, UpdatedAt: s.now()}, nil
}

// Watch returns a channel receiving leaderboard snapshots for a quiz,
// primed with the current standings. The caller must invoke cancel to avoid
// leaks.
func (s *LeaderboardService) Watch(ctx context.Context, quizID int64) (<-chan domain.Leaderboard, func(), error) {
	initial, err := s.GetLeaderboard(ctx, quizID, DefaultLeaderboardLimit)
	if err != nil {
		return nil, nil, err
	}

	ch := make(chan domain.Leaderboard, 8)
	s.mu.Lock()
	if s.watchers[quizID] == nil {
		s.watchers[quizID] = make(map[chan domain.Leaderboard]struct{})
	}
	s.watchers[quizID][ch] = struct{}{}
	s.mu.Unlock()

	ch <- initial

	cancel := func() {
		s.mu.Lock()
		if set, ok := s.watchers[quizID]; ok {
			if _, ok := set[ch]; ok {
				delete(set, ch)
				close(ch)
			}
			if len(set) == 0 {
				delete(s.watchers, quizID)
			}
		}
		s.mu.Unlock()
	}
	return ch, cancel, nil
}

// Publish drops any cached standings for the quiz, recomputes them, and
// fans the snapshot out to watchers. Slow watchers lose stale snapshots
// rather than blocking the finish path.
func (s *LeaderboardService) Publish(ctx context.Context, quizID int64) error {
	if inv, ok := s.source.(LeaderboardInvalidator); ok {
		if err := inv.Invalidate(ctx, quizID); err != nil {
			return err
		}
	}

	s.mu.Lock()
	hasWatchers := len(s.watchers[quizID]) > 0
	s.mu.Unlock()
	if !hasWatchers {
		return nil
	}

	lb, err := s.GetLeaderboard(ctx, quizID, DefaultLeaderboardLimit)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.watchers[quizID] {
		select {
		case ch <- lb:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- lb
		}
	}
	return nil
}
