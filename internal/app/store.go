package app

import (
	"context"
	"time"

	"quiz-attempt-service/internal/domain"
)

// Store aggregates the entity repositories and provides transactional
// grouping. RunInTx hands the callback a Store whose repositories share one
// transaction; returning an error rolls every write back.
type Store interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error

	Users() UserRepository
	Quizzes() QuizRepository
	Questions() QuestionRepository
	Tags() TagRepository
	Attempts() AttemptRepository
	Answers() AnswerRepository
}

// UserRepository reads and writes accounts.
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id int64) (*domain.User, error)
}

// QuizRepository owns quiz rows and their tag links. All reads exclude
// soft-deleted rows.
type QuizRepository interface {
	Create(ctx context.Context, quiz *domain.Quiz, tagIDs []int64) error
	GetByID(ctx context.Context, id int64) (*domain.Quiz, error)
	ListPublic(ctx context.Context, skip, limit int) ([]domain.Quiz, error)
	ListByCreator(ctx context.Context, creatorID int64, skip, limit int) ([]domain.Quiz, error)
	SearchByTag(ctx context.Context, tag string, skip, limit int) ([]domain.Quiz, error)
	Update(ctx context.Context, quiz *domain.Quiz) error
	SoftDelete(ctx context.Context, id int64) error
}

// QuestionRepository owns questions and their options.
type QuestionRepository interface {
	Create(ctx context.Context, question *domain.Question) error
	GetByID(ctx context.Context, id int64) (*domain.Question, error)
	ListByQuiz(ctx context.Context, quizID int64) ([]domain.Question, error)
	Update(ctx context.Context, question *domain.Question) error
	SoftDelete(ctx context.Context, id int64) error
}

// TagRepository manages the unique tag namespace.
type TagRepository interface {
	GetOrCreate(ctx context.Context, name string) (*domain.Tag, error)
	List(ctx context.Context) ([]domain.Tag, error)
}

// AttemptRepository owns quiz_attempts rows. Create surfaces a Conflict
// error when a concurrent writer wins the (quiz, user, attempt_no) or
// single-unfinished uniqueness race.
type AttemptRepository interface {
	Create(ctx context.Context, attempt *domain.QuizAttempt) error
	GetByID(ctx context.Context, id int64) (*domain.QuizAttempt, error)
	ListForUserQuiz(ctx context.Context, userID, quizID int64) ([]domain.QuizAttempt, error)
	// GetUnfinished returns the most recently started unfinished attempt,
	// or (nil, nil) when none exists.
	GetUnfinished(ctx context.Context, userID, quizID int64) (*domain.QuizAttempt, error)
	MaxAttemptNo(ctx context.Context, userID, quizID int64) (int, error)
	// Finish sets finished_at and score if and only if the attempt is still
	// open. It reports false when the row was already finished, so a losing
	// concurrent finisher can never double-score.
	Finish(ctx context.Context, attemptID int64, score int, finishedAt time.Time) (bool, error)
}

// AnswerRepository owns answers. Upsert keeps at most one row per
// (attempt, question), overwriting selections, text, correctness, and the
// submission timestamp in place.
type AnswerRepository interface {
	Upsert(ctx context.Context, answer *domain.Answer) error
	ListByAttempt(ctx context.Context, attemptID int64) ([]domain.Answer, error)
}

// LeaderboardSource produces the ranked best-finished-attempt-per-user view
// for a quiz. Implementations exist over Postgres and the in-memory store;
// the Redis cache decorates either one.
type LeaderboardSource interface {
	TopFinished(ctx context.Context, quizID int64, limit int) ([]domain.LeaderboardEntry, error)
}

// LeaderboardInvalidator is implemented by caching sources that need to be
// told when a finish changes the standings.
type LeaderboardInvalidator interface {
	Invalidate(ctx context.Context, quizID int64) error
}

// QuizGenerator is the external text-generation collaborator. The returned
// skeleton gets no special trust and flows through normal authoring
// validation.
type QuizGenerator interface {
	Generate(ctx context.Context, prompt string, numQuestions int) (domain.GeneratedQuiz, error)
}
