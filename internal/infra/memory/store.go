package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/domain"
)

// Store is an in-memory implementation of app.Store, used by unit tests and
// the no-Postgres demo mode. It enforces the same uniqueness rules as the
// SQL schema so services observe identical Conflict behavior, and emulates
// transactions by snapshotting state under the store lock.
type Store struct {
	mu   sync.Mutex
	d    *data
	inTx bool
}

type data struct {
	seq      int64
	users    map[int64]domain.User
	quizzes  map[int64]domain.Quiz
	quizTags map[int64][]int64 // quiz id -> tag ids
	question map[int64]domain.Question
	tags     map[int64]domain.Tag
	attempts map[int64]domain.QuizAttempt
	answers  map[int64]domain.Answer
}

func NewStore() *Store {
	return &Store{d: newData()}
}

func newData() *data {
	return &data{
		users:    make(map[int64]domain.User),
		quizzes:  make(map[int64]domain.Quiz),
		quizTags: make(map[int64][]int64),
		question: make(map[int64]domain.Question),
		tags:     make(map[int64]domain.Tag),
		attempts: make(map[int64]domain.QuizAttempt),
		answers:  make(map[int64]domain.Answer),
	}
}

func (d *data) nextID() int64 {
	d.seq++
	return d.seq
}

func (d *data) clone() *data {
	c := newData()
	c.seq = d.seq
	for k, v := range d.users {
		c.users[k] = v
	}
	for k, v := range d.quizzes {
		c.quizzes[k] = v
	}
	for k, v := range d.quizTags {
		c.quizTags[k] = append([]int64(nil), v...)
	}
	for k, v := range d.question {
		v.Options = append([]domain.Option(nil), v.Options...)
		c.question[k] = v
	}
	for k, v := range d.tags {
		c.tags[k] = v
	}
	for k, v := range d.attempts {
		c.attempts[k] = v
	}
	for k, v := range d.answers {
		v.SelectedOptionIDs = append([]int64(nil), v.SelectedOptionIDs...)
		c.answers[k] = v
	}
	return c
}

// RunInTx serializes the callback under the store lock and restores the
// pre-transaction snapshot when it fails, so a batch never commits
// partially.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx app.Store) error) error {
	if s.inTx {
		return fn(ctx, s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.d.clone()
	tx := &Store{d: s.d, inTx: true}
	if err := fn(ctx, tx); err != nil {
		s.d = snapshot
		return err
	}
	return nil
}

func (s *Store) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) Users() app.UserRepository         { return userRepo{s} }
func (s *Store) Quizzes() app.QuizRepository       { return quizRepo{s} }
func (s *Store) Questions() app.QuestionRepository { return questionRepo{s} }
func (s *Store) Tags() app.TagRepository           { return tagRepo{s} }
func (s *Store) Attempts() app.AttemptRepository   { return attemptRepo{s} }
func (s *Store) Answers() app.AnswerRepository     { return answerRepo{s} }

type userRepo struct{ s *Store }

func (r userRepo) Create(_ context.Context, user *domain.User) error {
	defer r.s.lock()()
	user.ID = r.s.d.nextID()
	if user.Role == "" {
		user.Role = domain.RoleStudent
	}
	user.CreatedAt = time.Now()
	r.s.d.users[user.ID] = *user
	return nil
}

func (r userRepo) GetByID(_ context.Context, id int64) (*domain.User, error) {
	defer r.s.lock()()
	user, ok := r.s.d.users[id]
	if !ok || user.DeletedAt != nil {
		return nil, domain.E(domain.KindNotFound, "user %d not found", id)
	}
	return &user, nil
}

type quizRepo struct{ s *Store }

func (r quizRepo) Create(_ context.Context, quiz *domain.Quiz, tagIDs []int64) error {
	defer r.s.lock()()
	quiz.ID = r.s.d.nextID()
	quiz.CreatedAt = time.Now()
	stored := *quiz
	stored.Tags = nil
	stored.Questions = nil
	r.s.d.quizzes[quiz.ID] = stored
	r.s.d.quizTags[quiz.ID] = append([]int64(nil), tagIDs...)
	return nil
}

func (r quizRepo) GetByID(_ context.Context, id int64) (*domain.Quiz, error) {
	defer r.s.lock()()
	quiz, ok := r.s.d.quizzes[id]
	if !ok || quiz.DeletedAt != nil {
		return nil, domain.E(domain.KindNotFound, "quiz %d not found", id)
	}
	quiz.Tags = r.tagsFor(id)
	return &quiz, nil
}

func (r quizRepo) tagsFor(quizID int64) []domain.Tag {
	var tags []domain.Tag
	for _, tagID := range r.s.d.quizTags[quizID] {
		if tag, ok := r.s.d.tags[tagID]; ok && tag.DeletedAt == nil {
			tags = append(tags, tag)
		}
	}
	return tags
}

func (r quizRepo) list(filter func(domain.Quiz) bool, skip, limit int) []domain.Quiz {
	var all []domain.Quiz
	for _, quiz := range r.s.d.quizzes {
		if quiz.DeletedAt == nil && filter(quiz) {
			quiz.Tags = r.tagsFor(quiz.ID)
			all = append(all, quiz)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	if skip >= len(all) {
		return nil
	}
	all = all[skip:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all
}

func (r quizRepo) ListPublic(_ context.Context, skip, limit int) ([]domain.Quiz, error) {
	defer r.s.lock()()
	return r.list(func(q domain.Quiz) bool { return q.IsPublic }, skip, limit), nil
}

func (r quizRepo) ListByCreator(_ context.Context, creatorID int64, skip, limit int) ([]domain.Quiz, error) {
	defer r.s.lock()()
	return r.list(func(q domain.Quiz) bool { return q.CreatorID == creatorID }, skip, limit), nil
}

func (r quizRepo) SearchByTag(_ context.Context, tag string, skip, limit int) ([]domain.Quiz, error) {
	defer r.s.lock()()
	needle := strings.ToLower(tag)
	return r.list(func(q domain.Quiz) bool {
		if !q.IsPublic {
			return false
		}
		for _, t := range r.tagsFor(q.ID) {
			if strings.Contains(strings.ToLower(t.Name), needle) {
				return true
			}
		}
		return false
	}, skip, limit), nil
}

func (r quizRepo) Update(_ context.Context, quiz *domain.Quiz) error {
	defer r.s.lock()()
	stored, ok := r.s.d.quizzes[quiz.ID]
	if !ok || stored.DeletedAt != nil {
		return domain.E(domain.KindNotFound, "quiz %d not found", quiz.ID)
	}
	stored.Title = quiz.Title
	stored.Description = quiz.Description
	stored.IsPublic = quiz.IsPublic
	r.s.d.quizzes[quiz.ID] = stored
	return nil
}

func (r quizRepo) SoftDelete(_ context.Context, id int64) error {
	defer r.s.lock()()
	stored, ok := r.s.d.quizzes[id]
	if !ok || stored.DeletedAt != nil {
		return domain.E(domain.KindNotFound, "quiz %d not found", id)
	}
	now := time.Now()
	stored.DeletedAt = &now
	r.s.d.quizzes[id] = stored
	return nil
}

type questionRepo struct{ s *Store }

func (r questionRepo) Create(_ context.Context, question *domain.Question) error {
	defer r.s.lock()()
	question.ID = r.s.d.nextID()
	question.CreatedAt = time.Now()
	for i := range question.Options {
		question.Options[i].ID = r.s.d.nextID()
		question.Options[i].QuestionID = question.ID
	}
	stored := *question
	stored.Options = append([]domain.Option(nil), question.Options...)
	r.s.d.question[question.ID] = stored
	return nil
}

func (r questionRepo) GetByID(_ context.Context, id int64) (*domain.Question, error) {
	defer r.s.lock()()
	question, ok := r.s.d.question[id]
	if !ok || question.DeletedAt != nil {
		return nil, domain.E(domain.KindNotFound, "question %d not found", id)
	}
	question.Options = append([]domain.Option(nil), question.Options...)
	return &question, nil
}

func (r questionRepo) ListByQuiz(_ context.Context, quizID int64) ([]domain.Question, error) {
	defer r.s.lock()()
	var questions []domain.Question
	for _, q := range r.s.d.question {
		if q.QuizID == quizID && q.DeletedAt == nil {
			q.Options = append([]domain.Option(nil), q.Options...)
			questions = append(questions, q)
		}
	}
	sort.Slice(questions, func(i, j int) bool { return questions[i].ID < questions[j].ID })
	return questions, nil
}

func (r questionRepo) Update(_ context.Context, question *domain.Question) error {
	defer r.s.lock()()
	stored, ok := r.s.d.question[question.ID]
	if !ok || stored.DeletedAt != nil {
		return domain.E(domain.KindNotFound, "question %d not found", question.ID)
	}
	stored.Text = question.Text
	stored.Type = question.Type
	stored.Points = question.Points
	r.s.d.question[question.ID] = stored
	return nil
}

func (r questionRepo) SoftDelete(_ context.Context, id int64) error {
	defer r.s.lock()()
	stored, ok := r.s.d.question[id]
	if !ok || stored.DeletedAt != nil {
		return domain.E(domain.KindNotFound, "question %d not found", id)
	}
	now := time.Now()
	stored.DeletedAt = &now
	r.s.d.question[id] = stored
	return nil
}

type tagRepo struct{ s *Store }

func (r tagRepo) GetOrCreate(_ context.Context, name string) (*domain.Tag, error) {
	defer r.s.lock()()
	for _, tag := range r.s.d.tags {
		if tag.Name == name && tag.DeletedAt == nil {
			return &tag, nil
		}
	}
	tag := domain.Tag{ID: r.s.d.nextID(), Name: name}
	r.s.d.tags[tag.ID] = tag
	return &tag, nil
}

func (r tagRepo) List(_ context.Context) ([]domain.Tag, error) {
	defer r.s.lock()()
	var tags []domain.Tag
	for _, tag := range r.s.d.tags {
		if tag.DeletedAt == nil {
			tags = append(tags, tag)
		}
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].Name < tags[j].Name })
	return tags, nil
}

type attemptRepo struct{ s *Store }

func (r attemptRepo) Create(_ context.Context, attempt *domain.QuizAttempt) error {
	defer r.s.lock()()
	for _, a := range r.s.d.attempts {
		if a.QuizID != attempt.QuizID || a.UserID != attempt.UserID {
			continue
		}
		if a.AttemptNo == attempt.AttemptNo {
			return domain.E(domain.KindConflict, "attempt number %d already taken for quiz %d", attempt.AttemptNo, attempt.QuizID)
		}
		if a.FinishedAt == nil {
			return domain.E(domain.KindConflict, "user %d already has an open attempt for quiz %d", attempt.UserID, attempt.QuizID)
		}
	}
	attempt.ID = r.s.d.nextID()
	r.s.d.attempts[attempt.ID] = *attempt
	return nil
}

func (r attemptRepo) GetByID(_ context.Context, id int64) (*domain.QuizAttempt, error) {
	defer r.s.lock()()
	attempt, ok := r.s.d.attempts[id]
	if !ok {
		return nil, domain.E(domain.KindNotFound, "attempt %d not found", id)
	}
	return &attempt, nil
}

func (r attemptRepo) ListForUserQuiz(_ context.Context, userID, quizID int64) ([]domain.QuizAttempt, error) {
	defer r.s.lock()()
	var attempts []domain.QuizAttempt
	for _, a := range r.s.d.attempts {
		if a.UserID == userID && a.QuizID == quizID {
			attempts = append(attempts, a)
		}
	}
	sort.Slice(attempts, func(i, j int) bool { return attempts[i].AttemptNo < attempts[j].AttemptNo })
	return attempts, nil
}

func (r attemptRepo) GetUnfinished(_ context.Context, userID, quizID int64) (*domain.QuizAttempt, error) {
	defer r.s.lock()()
	var latest *domain.QuizAttempt
	for _, a := range r.s.d.attempts {
		if a.UserID != userID || a.QuizID != quizID || a.FinishedAt != nil {
			continue
		}
		a := a
		if latest == nil || a.StartedAt.After(latest.StartedAt) {
			latest = &a
		}
	}
	return latest, nil
}

func (r attemptRepo) MaxAttemptNo(_ context.Context, userID, quizID int64) (int, error) {
	defer r.s.lock()()
	maxNo := 0
	for _, a := range r.s.d.attempts {
		if a.UserID == userID && a.QuizID == quizID && a.AttemptNo > maxNo {
			maxNo = a.AttemptNo
		}
	}
	return maxNo, nil
}

func (r attemptRepo) Finish(_ context.Context, attemptID int64, score int, finishedAt time.Time) (bool, error) {
	defer r.s.lock()()
	attempt, ok := r.s.d.attempts[attemptID]
	if !ok {
		return false, domain.E(domain.KindNotFound, "attempt %d not found", attemptID)
	}
	if attempt.FinishedAt != nil {
		return false, nil
	}
	attempt.FinishedAt = &finishedAt
	attempt.Score = score
	r.s.d.attempts[attemptID] = attempt
	return true, nil
}

type answerRepo struct{ s *Store }

func (r answerRepo) Upsert(_ context.Context, answer *domain.Answer) error {
	defer r.s.lock()()
	for id, a := range r.s.d.answers {
		if a.AttemptID == answer.AttemptID && a.QuestionID == answer.QuestionID {
			answer.ID = id
			r.s.d.answers[id] = *answer
			return nil
		}
	}
	answer.ID = r.s.d.nextID()
	r.s.d.answers[answer.ID] = *answer
	return nil
}

func (r answerRepo) ListByAttempt(_ context.Context, attemptID int64) ([]domain.Answer, error) {
	defer r.s.lock()()
	var answers []domain.Answer
	for _, a := range r.s.d.answers {
		if a.AttemptID == attemptID {
			a.SelectedOptionIDs = append([]int64(nil), a.SelectedOptionIDs...)
			answers = append(answers, a)
		}
	}
	sort.Slice(answers, func(i, j int) bool { return answers[i].ID < answers[j].ID })
	return answers, nil
}

// TopFinished implements app.LeaderboardSource over the in-memory data:
// best finished attempt per user (score desc, earliest finish breaking
// ties), then the final ordering over users.
func (s *Store) TopFinished(_ context.Context, quizID int64, limit int) ([]domain.LeaderboardEntry, error) {
	defer s.lock()()

	best := make(map[int64]domain.QuizAttempt)
	for _, a := range s.d.attempts {
		if a.QuizID != quizID || a.FinishedAt == nil {
			continue
		}
		cur, ok := best[a.UserID]
		if !ok || a.Score > cur.Score || (a.Score == cur.Score && a.FinishedAt.Before(*cur.FinishedAt)) {
			best[a.UserID] = a
		}
	}

	entries := make([]domain.LeaderboardEntry, 0, len(best))
	for userID, a := range best {
		username := ""
		if user, ok := s.d.users[userID]; ok {
			username = user.Username
		}
		entries = append(entries, domain.LeaderboardEntry{
			UserID:     userID,
			Username:   username,
			Score:      a.Score,
			AttemptNo:  a.AttemptNo,
			FinishedAt: *a.FinishedAt,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		if !entries[i].FinishedAt.Equal(entries[j].FinishedAt) {
			return entries[i].FinishedAt.Before(entries[j].FinishedAt)
		}
		return entries[i].UserID < entries[j].UserID
	})

	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}
