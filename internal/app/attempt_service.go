package app

import (
	"context"
	"log"
	"math"
	"time"

	"quiz-attempt-service/internal/domain"
)

// AttemptService manages the attempt lifecycle: starting, reading, and
// finishing attempts with score aggregation.
type AttemptService struct {
	store       Store
	leaderboard *LeaderboardService // optional; notified on finish
	now         func() time.Time
}

func NewAttemptService(store Store, leaderboard *LeaderboardService) *AttemptService {
	return &AttemptService{store: store, leaderboard: leaderboard, now: time.Now}
}

// NewAttemptServiceWithClock is test-only for deterministic timestamps.
func NewAttemptServiceWithClock(store Store, leaderboard *LeaderboardService, now func() time.Time) *AttemptService {
	return &AttemptService{store: store, leaderboard: leaderboard, now: now}
}

// StartAttempt begins a new attempt for the principal, or returns the
// existing unfinished one unchanged. Attempt numbers grow by one per
// (user, quiz); the storage unique constraint is the authority, so a losing
// concurrent writer surfaces Conflict and is retried once.
func (s *AttemptService) StartAttempt(ctx context.Context, quizID int64, principal domain.Principal) (*domain.QuizAttempt, error) {
	if _, err := s.store.Quizzes().GetByID(ctx, quizID); err != nil {
		return nil, err
	}

	existing, err := s.store.Attempts().GetUnfinished(ctx, principal.ID, quizID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	attempt, err := s.createAttempt(ctx, quizID, principal.ID)
	if domain.KindOf(err) == domain.KindConflict {
		// A concurrent start won the race. If it produced an unfinished
		// attempt, adopt it; otherwise retry the numbering once.
		existing, lookupErr := s.store.Attempts().GetUnfinished(ctx, principal.ID, quizID)
		if lookupErr != nil {
			return nil, lookupErr
		}
		if existing != nil {
			return existing, nil
		}
		return s.createAttempt(ctx, quizID, principal.ID)
	}
	return attempt, err
}

func (s *AttemptService) createAttempt(ctx context.Context, quizID, userID int64) (*domain.QuizAttempt, error) {
	var attempt *domain.QuizAttempt
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx Store) error {
		maxNo, err := tx.Attempts().MaxAttemptNo(ctx, userID, quizID)
		if err != nil {
			return err
		}
		attempt = &domain.QuizAttempt{
			QuizID:    quizID,
			UserID:    userID,
			AttemptNo: maxNo + 1,
			StartedAt: s.now(),
		}
		return tx.Attempts().Create(ctx, attempt)
	})
	if err != nil {
		return nil, err
	}
	return attempt, nil
}

// GetAttempt returns an attempt snapshot by ID.
func (s *AttemptService) GetAttempt(ctx context.Context, attemptID int64) (*domain.QuizAttempt, error) {
	return s.store.Attempts().GetByID(ctx, attemptID)
}

// ListUserAttempts returns the principal's attempts for a quiz ordered by
// attempt number ascending.
func (s *AttemptService) ListUserAttempts(ctx context.Context, quizID int64, principal domain.Principal) ([]domain.QuizAttempt, error) {
	return s.store.Attempts().ListForUserQuiz(ctx, principal.ID, quizID)
}

// FinishAttempt closes an attempt exactly once and aggregates its score.
// Earned points come from answers graded correct; the percentage denominator
// is the full quiz point total regardless of what was answered.
func (s *AttemptService) FinishAttempt(ctx context.Context, attemptID int64, principal domain.Principal) (*domain.QuizResult, error) {
	var result *domain.QuizResult
	var quizID int64

	err := s.store.RunInTx(ctx, func(ctx context.Context, tx Store) error {
		attempt, err := tx.Attempts().GetByID(ctx, attemptID)
		if err != nil {
			return err
		}
		if attempt.UserID != principal.ID {
			return domain.E(domain.KindForbidden, "attempt %d belongs to another user", attemptID)
		}
		if attempt.Finished() {
			return domain.E(domain.KindAlreadyFinished, "attempt %d has already been submitted", attemptID)
		}

		questions, err := tx.Questions().ListByQuiz(ctx, attempt.QuizID)
		if err != nil {
			return err
		}
		answers, err := tx.Answers().ListByAttempt(ctx, attemptID)
		if err != nil {
			return err
		}

		pointsByQuestion := make(map[int64]int, len(questions))
		totalPoints := 0
		for _, q := range questions {
			pointsByQuestion[q.ID] = q.Points
			totalPoints += q.Points
		}

		correct := 0
		earned := 0
		for _, a := range answers {
			if a.IsCorrect != nil && *a.IsCorrect {
				correct++
				earned += pointsByQuestion[a.QuestionID]
			}
		}

		finishedAt := s.now()
		ok, err := tx.Attempts().Finish(ctx, attemptID, earned, finishedAt)
		if err != nil {
			return err
		}
		if !ok {
			return domain.E(domain.KindAlreadyFinished, "attempt %d has already been submitted", attemptID)
		}

		quizID = attempt.QuizID
		result = &domain.QuizResult{
			AttemptID:       attempt.ID,
			QuizID:          attempt.QuizID,
			UserID:          attempt.UserID,
			AttemptNo:       attempt.AttemptNo,
			TotalQuestions:  len(questions),
			CorrectAnswers:  correct,
			TotalPoints:     earned,
			ScorePercentage: percentage(earned, totalPoints),
			Answers:         answers,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.leaderboard != nil {
		if err := s.leaderboard.Publish(ctx, quizID); err != nil {
			log.Printf("leaderboard refresh for quiz %d failed: %v", quizID, err)
		}
	}
	return result, nil
}

// percentage returns earned/total as a percent rounded to two decimals, or
// 0.0 for an empty quiz.
func percentage(earned, total int) float64 {
	if total <= 0 {
		return 0.0
	}
	return math.Round(float64(earned)/float64(total)*100*100) / 100
}
