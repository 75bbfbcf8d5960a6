package app

import (
	"context"
	"strings"
	"time"

	"quiz-attempt-service/internal/domain"
)

// AnswerService validates and grades submissions against question types and
// upserts one answer per (attempt, question).
type AnswerService struct {
	store Store
	now   func() time.Time
}

func NewAnswerService(store Store) *AnswerService {
	return &AnswerService{store: store, now: time.Now}
}

// NewAnswerServiceWithClock is test-only for deterministic timestamps.
func NewAnswerServiceWithClock(store Store, now func() time.Time) *AnswerService {
	return &AnswerService{store: store, now: now}
}

// SubmitAnswers grades and stores a batch of answers for an attempt. Items
// are processed independently but committed as one transaction: the first
// failure aborts the batch with no partial writes. Re-submitting a question
// overwrites the earlier answer in place.
func (s *AnswerService) SubmitAnswers(ctx context.Context, attemptID int64, principal domain.Principal, submissions []domain.AnswerSubmission) ([]domain.Answer, error) {
	if len(submissions) == 0 {
		return nil, domain.E(domain.KindInvalidInput, "no answers submitted")
	}

	var saved []domain.Answer
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

		saved = make([]domain.Answer, 0, len(submissions))
		for _, sub := range submissions {
			question, err := tx.Questions().GetByID(ctx, sub.QuestionID)
			if err != nil {
				return err
			}
			if question.QuizID != attempt.QuizID {
				return domain.E(domain.KindNotFound, "question %d not found in quiz %d", sub.QuestionID, attempt.QuizID)
			}

			isCorrect, err := grade(question, sub)
			if err != nil {
				return err
			}

			answer := domain.Answer{
				AttemptID:         attemptID,
				QuestionID:        sub.QuestionID,
				SelectedOptionIDs: sub.SelectedOptionIDs,
				TextAnswer:        sub.TextAnswer,
				IsCorrect:         isCorrect,
				SubmittedAt:       s.now(),
			}
			if err := tx.Answers().Upsert(ctx, &answer); err != nil {
				return err
			}
			saved = append(saved, answer)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// grade evaluates one submission against the question's type. Text answers
// stay ungraded (nil) so a later manual pass can distinguish them from
// wrong answers.
func grade(question *domain.Question, sub domain.AnswerSubmission) (*bool, error) {
	switch question.Type {
	case domain.QuestionSingle, domain.QuestionMultiple:
		if len(sub.SelectedOptionIDs) == 0 {
			return nil, domain.E(domain.KindInvalidInput, "selected options required for question %d", question.ID)
		}

		correct := make(map[int64]struct{})
		for _, opt := range question.Options {
			if opt.IsCorrect {
				correct[opt.ID] = struct{}{}
			}
		}
		selected := make(map[int64]struct{}, len(sub.SelectedOptionIDs))
		for _, id := range sub.SelectedOptionIDs {
			selected[id] = struct{}{}
		}

		match := sameSet(selected, correct)
		if question.Type == domain.QuestionSingle {
			match = match && len(selected) == 1
		}
		return &match, nil

	case domain.QuestionText:
		if strings.TrimSpace(sub.TextAnswer) == "" {
			return nil, domain.E(domain.KindInvalidInput, "text answer required for question %d", question.ID)
		}
		return nil, nil

	default:
		return nil, domain.E(domain.KindInvalidInput, "question %d has unsupported type %q", question.ID, question.Type)
	}
}

func sameSet(a, b map[int64]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for id := range a {
		if _, ok := b[id]; !ok {
			return false
		}
	}
	return true
}
