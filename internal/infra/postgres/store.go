package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/domain"
)

// pgUniqueViolation is the SQLSTATE code for unique-constraint violations.
const pgUniqueViolation = "23505"

// Store implements app.Store over Postgres via bun. The same repositories
// run against the root DB or a transaction, depending on how the Store was
// obtained.
type Store struct {
	db bun.IDB
}

func NewStore(db *bun.DB) *Store {
	// m2m join model must be registered before querying Quiz.Tags.
	db.RegisterModel((*domain.QuizTag)(nil))
	return &Store{db: db}
}

// RunInTx executes fn inside a database transaction. Calling it on a Store
// that already wraps a transaction reuses that transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx app.Store) error) error {
	db, ok := s.db.(*bun.DB)
	if !ok {
		return fn(ctx, s)
	}
	return db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, &Store{db: tx})
	})
}

func (s *Store) Users() app.UserRepository         { return userRepo{s.db} }
func (s *Store) Quizzes() app.QuizRepository       { return quizRepo{s.db} }
func (s *Store) Questions() app.QuestionRepository { return questionRepo{s.db} }
func (s *Store) Tags() app.TagRepository           { return tagRepo{s.db} }
func (s *Store) Attempts() app.AttemptRepository   { return attemptRepo{s.db} }
func (s *Store) Answers() app.AnswerRepository     { return answerRepo{s.db} }

// translate maps storage failures onto the typed taxonomy at the
// data-access boundary so no driver error leaks to callers: absent rows
// become NotFound, unique-constraint races become Conflict, everything else
// is Internal.
func translate(err error, kind domain.Kind, format string, args ...any) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Wrap(err, kind, format, args...)
	}
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) && pgErr.Field('C') == pgUniqueViolation {
		return domain.Wrap(err, domain.KindConflict, format, args...)
	}
	return domain.Wrap(err, domain.KindInternal, format, args...)
}

type userRepo struct{ db bun.IDB }

func (r userRepo) Create(ctx context.Context, user *domain.User) error {
	if user.Role == "" {
		user.Role = domain.RoleStudent
	}
	_, err := r.db.NewInsert().Model(user).Returning("id, created_at").Exec(ctx)
	return translate(err, domain.KindInternal, "create user")
}

func (r userRepo) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	user := new(domain.User)
	err := r.db.NewSelect().Model(user).Where("u.id = ?", id).Scan(ctx)
	if err != nil {
		return nil, translate(err, domain.KindNotFound, "user %d not found", id)
	}
	return user, nil
}

type quizRepo struct{ db bun.IDB }

func (r quizRepo) Create(ctx context.Context, quiz *domain.Quiz, tagIDs []int64) error {
	if _, err := r.db.NewInsert().Model(quiz).Returning("id, created_at").Exec(ctx); err != nil {
		return translate(err, domain.KindInternal, "create quiz")
	}
	if len(tagIDs) == 0 {
		return nil
	}
	links := make([]domain.QuizTag, 0, len(tagIDs))
	for _, tagID := range tagIDs {
		links = append(links, domain.QuizTag{QuizID: quiz.ID, TagID: tagID})
	}
	_, err := r.db.NewInsert().Model(&links).On("CONFLICT DO NOTHING").Exec(ctx)
	return translate(err, domain.KindInternal, "link quiz %d tags", quiz.ID)
}

func (r quizRepo) GetByID(ctx context.Context, id int64) (*domain.Quiz, error) {
	quiz := new(domain.Quiz)
	err := r.db.NewSelect().Model(quiz).Relation("Tags").Where("quiz.id = ?", id).Scan(ctx)
	if err != nil {
		return nil, translate(err, domain.KindNotFound, "quiz %d not found", id)
	}
	return quiz, nil
}

func (r quizRepo) ListPublic(ctx context.Context, skip, limit int) ([]domain.Quiz, error) {
	var quizzes []domain.Quiz
	err := r.db.NewSelect().Model(&quizzes).Relation("Tags").
		Where("quiz.is_public").
		Order("quiz.id").Offset(skip).Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, translate(err, domain.KindInternal, "list public quizzes")
	}
	return quizzes, nil
}

func (r quizRepo) ListByCreator(ctx context.Context, creatorID int64, skip, limit int) ([]domain.Quiz, error) {
	var quizzes []domain.Quiz
	err := r.db.NewSelect().Model(&quizzes).Relation("Tags").
		Where("quiz.creator_id = ?", creatorID).
		Order("quiz.id").Offset(skip).Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, translate(err, domain.KindInternal, "list quizzes for creator %d", creatorID)
	}
	return quizzes, nil
}

func (r quizRepo) SearchByTag(ctx context.Context, tag string, skip, limit int) ([]domain.Quiz, error) {
	var quizzes []domain.Quiz
	err := r.db.NewSelect().Model(&quizzes).Relation("Tags").
		Join("JOIN quiz_tags AS link ON link.quiz_id = quiz.id").
		Join("JOIN tags AS t ON t.id = link.tag_id").
		Where("t.name ILIKE ?", "%"+tag+"%").
		Where("quiz.is_public").
		Distinct().
		Order("quiz.id").Offset(skip).Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, translate(err, domain.KindInternal, "search quizzes by tag %q", tag)
	}
	return quizzes, nil
}

func (r quizRepo) Update(ctx context.Context, quiz *domain.Quiz) error {
	res, err := r.db.NewUpdate().Model(quiz).
		Column("title", "description", "is_public").
		WherePK().
		Exec(ctx)
	if err != nil {
		return translate(err, domain.KindInternal, "update quiz %d", quiz.ID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.E(domain.KindNotFound, "quiz %d not found", quiz.ID)
	}
	return nil
}

func (r quizRepo) SoftDelete(ctx context.Context, id int64) error {
	// bun turns this into UPDATE ... SET deleted_at for soft-delete models.
	res, err := r.db.NewDelete().Model((*domain.Quiz)(nil)).Where("quiz.id = ?", id).Exec(ctx)
	if err != nil {
		return translate(err, domain.KindInternal, "delete quiz %d", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.E(domain.KindNotFound, "quiz %d not found", id)
	}
	return nil
}

type questionRepo struct{ db bun.IDB }

func (r questionRepo) Create(ctx context.Context, question *domain.Question) error {
	if _, err := r.db.NewInsert().Model(question).Returning("id, created_at").Exec(ctx); err != nil {
		return translate(err, domain.KindInternal, "create question")
	}
	if len(question.Options) == 0 {
		return nil
	}
	for i := range question.Options {
		question.Options[i].QuestionID = question.ID
	}
	_, err := r.db.NewInsert().Model(&question.Options).Returning("id").Exec(ctx)
	return translate(err, domain.KindInternal, "create options for question %d", question.ID)
}

func (r questionRepo) GetByID(ctx context.Context, id int64) (*domain.Question, error) {
	question := new(domain.Question)
	err := r.db.NewSelect().Model(question).Relation("Options").Where("question.id = ?", id).Scan(ctx)
	if err != nil {
		return nil, translate(err, domain.KindNotFound, "question %d not found", id)
	}
	return question, nil
}

func (r questionRepo) ListByQuiz(ctx context.Context, quizID int64) ([]domain.Question, error) {
	var questions []domain.Question
	err := r.db.NewSelect().Model(&questions).Relation("Options").
		Where("question.quiz_id = ?", quizID).
		Order("question.id").
		Scan(ctx)
	if err != nil {
		return nil, translate(err, domain.KindInternal, "list questions for quiz %d", quizID)
	}
	return questions, nil
}

func (r questionRepo) Update(ctx context.Context, question *domain.Question) error {
	res, err := r.db.NewUpdate().Model(question).
		Column("question_text", "question_type", "points").
		WherePK().
		Exec(ctx)
	if err != nil {
		return translate(err, domain.KindInternal, "update question %d", question.ID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.E(domain.KindNotFound, "question %d not found", question.ID)
	}
	return nil
}

func (r questionRepo) SoftDelete(ctx context.Context, id int64) error {
	res, err := r.db.NewDelete().Model((*domain.Question)(nil)).Where("question.id = ?", id).Exec(ctx)
	if err != nil {
		return translate(err, domain.KindInternal, "delete question %d", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.E(domain.KindNotFound, "question %d not found", id)
	}
	return nil
}

type tagRepo struct{ db bun.IDB }

func (r tagRepo) GetOrCreate(ctx context.Context, name string) (*domain.Tag, error) {
	tag := &domain.Tag{Name: name}
	_, err := r.db.NewInsert().Model(tag).
		On("CONFLICT (name) DO UPDATE").
		Set("name = EXCLUDED.name").
		Returning("id").
		Exec(ctx)
	if err != nil {
		return nil, translate(err, domain.KindInternal, "get or create tag %q", name)
	}
	return tag, nil
}

func (r tagRepo) List(ctx context.Context) ([]domain.Tag, error) {
	var tags []domain.Tag
	err := r.db.NewSelect().Model(&tags).Order("tag.name").Scan(ctx)
	if err != nil {
		return nil, translate(err, domain.KindInternal, "list tags")
	}
	return tags, nil
}

type attemptRepo struct{ db bun.IDB }

func (r attemptRepo) Create(ctx context.Context, attempt *domain.QuizAttempt) error {
	// The (quiz_id, user_id, attempt_no) unique constraint and the partial
	// unfinished index are the authority here; a losing writer gets Conflict.
	_, err := r.db.NewInsert().Model(attempt).Returning("id").Exec(ctx)
	return translate(err, domain.KindInternal, "create attempt for quiz %d user %d", attempt.QuizID, attempt.UserID)
}

func (r attemptRepo) GetByID(ctx context.Context, id int64) (*domain.QuizAttempt, error) {
	attempt := new(domain.QuizAttempt)
	err := r.db.NewSelect().Model(attempt).Where("attempt.id = ?", id).Scan(ctx)
	if err != nil {
		return nil, translate(err, domain.KindNotFound, "attempt %d not found", id)
	}
	return attempt, nil
}

func (r attemptRepo) ListForUserQuiz(ctx context.Context, userID, quizID int64) ([]domain.QuizAttempt, error) {
	var attempts []domain.QuizAttempt
	err := r.db.NewSelect().Model(&attempts).
		Where("attempt.user_id = ? AND attempt.quiz_id = ?", userID, quizID).
		Order("attempt.attempt_no").
		Scan(ctx)
	if err != nil {
		return nil, translate(err, domain.KindInternal, "list attempts for user %d quiz %d", userID, quizID)
	}
	return attempts, nil
}

func (r attemptRepo) GetUnfinished(ctx context.Context, userID, quizID int64) (*domain.QuizAttempt, error) {
	attempt := new(domain.QuizAttempt)
	err := r.db.NewSelect().Model(attempt).
		Where("attempt.user_id = ? AND attempt.quiz_id = ?", userID, quizID).
		Where("attempt.finished_at IS NULL").
		Order("attempt.started_at DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, translate(err, domain.KindInternal, "find unfinished attempt for user %d quiz %d", userID, quizID)
	}
	return attempt, nil
}

func (r attemptRepo) MaxAttemptNo(ctx context.Context, userID, quizID int64) (int, error) {
	var maxNo int
	err := r.db.NewSelect().Model((*domain.QuizAttempt)(nil)).
		ColumnExpr("COALESCE(MAX(attempt.attempt_no), 0)").
		Where("attempt.user_id = ? AND attempt.quiz_id = ?", userID, quizID).
		Scan(ctx, &maxNo)
	if err != nil {
		return 0, translate(err, domain.KindInternal, "max attempt number for user %d quiz %d", userID, quizID)
	}
	return maxNo, nil
}

func (r attemptRepo) Finish(ctx context.Context, attemptID int64, score int, finishedAt time.Time) (bool, error) {
	// Conditional on finished_at IS NULL so concurrent finishers serialize:
	// exactly one observes the open row and transitions it.
	res, err := r.db.NewUpdate().Model((*domain.QuizAttempt)(nil)).
		Set("finished_at = ?", finishedAt).
		Set("score = ?", score).
		Where("attempt.id = ? AND attempt.finished_at IS NULL", attemptID).
		Exec(ctx)
	if err != nil {
		return false, translate(err, domain.KindInternal, "finish attempt %d", attemptID)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

type answerRepo struct{ db bun.IDB }

func (r answerRepo) Upsert(ctx context.Context, answer *domain.Answer) error {
	_, err := r.db.NewInsert().Model(answer).
		On("CONFLICT (attempt_id, question_id) DO UPDATE").
		Set("selected_option_ids = EXCLUDED.selected_option_ids").
		Set("text_answer = EXCLUDED.text_answer").
		Set("is_correct = EXCLUDED.is_correct").
		Set("submitted_at = EXCLUDED.submitted_at").
		Returning("id").
		Exec(ctx)
	return translate(err, domain.KindInternal, "upsert answer for attempt %d question %d", answer.AttemptID, answer.QuestionID)
}

func (r answerRepo) ListByAttempt(ctx context.Context, attemptID int64) ([]domain.Answer, error) {
	var answers []domain.Answer
	err := r.db.NewSelect().Model(&answers).
		Where("answer.attempt_id = ?", attemptID).
		Order("answer.id").
		Scan(ctx)
	if err != nil {
		return nil, translate(err, domain.KindInternal, "list answers for attempt %d", attemptID)
	}
	return answers, nil
}
