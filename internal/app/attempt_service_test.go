package app_test

import (
	"context"
	"testing"
	"time"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/domain"
	"quiz-attempt-service/internal/infra/memory"
)

// fixture wires the core services over an in-memory store with one seeded
// quiz: a 2-point single question, a 3-point multiple question, and a
// 1-point text question (6 points total).
type fixture struct {
	store       *memory.Store
	content     *app.ContentService
	attempts    *app.AttemptService
	answers     *app.AnswerService
	leaderboard *app.LeaderboardService

	admin domain.Principal
	alice domain.Principal
	bob   domain.Principal

	quiz   *domain.Quiz
	single domain.Question
	multi  domain.Question
	text   domain.Question
}

// testClock hands out strictly increasing timestamps so finish ordering is
// deterministic.
type testClock struct{ t time.Time }

func newTestClock() *testClock {
	return &testClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()

	f := &fixture{store: store}

	users := []struct {
		name string
		role domain.Role
		dst  *domain.Principal
	}{
		{"admin", domain.RoleAdmin, &f.admin},
		{"alice", domain.RoleStudent, &f.alice},
		{"bob", domain.RoleStudent, &f.bob},
	}
	for _, u := range users {
		user := &domain.User{Username: u.name, Email: u.name + "@example.com", Password: "x", Role: u.role}
		if err := store.Users().Create(ctx, user); err != nil {
			t.Fatalf("create user %s: %v", u.name, err)
		}
		*u.dst = domain.Principal{ID: user.ID, Role: u.role}
	}

	clock := newTestClock()
	f.leaderboard = app.NewLeaderboardServiceWithClock(store, clock.Now)
	f.content = app.NewContentService(store, nil)
	f.attempts = app.NewAttemptServiceWithClock(store, f.leaderboard, clock.Now)
	f.answers = app.NewAnswerServiceWithClock(store, clock.Now)

	quiz, err := f.content.CreateQuiz(ctx, f.admin, app.QuizInput{
		Title:    "Fundamentals",
		IsPublic: true,
		Tags:     []string{"demo"},
		Questions: []app.QuestionInput{
			{
				Text: "Pick the right one", Type: domain.QuestionSingle, Points: 2,
				Options: []app.OptionInput{
					{Text: "X", IsCorrect: true}, {Text: "Y"}, {Text: "Z"},
				},
			},
			{
				Text: "Pick all that apply", Type: domain.QuestionMultiple, Points: 3,
				Options: []app.OptionInput{
					{Text: "A", IsCorrect: true}, {Text: "B"}, {Text: "C", IsCorrect: true},
				},
			},
			{
				Text: "Explain briefly", Type: domain.QuestionText, Points: 1,
			},
		},
	})
	if err != nil {
		t.Fatalf("create quiz: %v", err)
	}
	f.quiz = quiz
	f.single = quiz.Questions[0]
	f.multi = quiz.Questions[1]
	f.text = quiz.Questions[2]
	return f
}

// option finds an option ID by text.
func (f *fixture) option(t *testing.T, q domain.Question, text string) int64 {
	t.Helper()
	for _, opt := range q.Options {
		if opt.Text == text {
			return opt.ID
		}
	}
	t.Fatalf("option %q not found on question %d", text, q.ID)
	return 0
}

func TestStartAttemptNumbersSequentially(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, err := f.attempts.StartAttempt(ctx, f.quiz.ID, f.alice)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if first.AttemptNo != 1 {
		t.Fatalf("expected attempt_no 1, got %d", first.AttemptNo)
	}
	if first.Finished() {
		t.Fatalf("new attempt should be unfinished")
	}
	if first.Score != 0 {
		t.Fatalf("new attempt should start at score 0, got %d", first.Score)
	}

	if _, err := f.attempts.FinishAttempt(ctx, first.ID, f.alice); err != nil {
		t.Fatalf("finish: %v", err)
	}

	second, err := f.attempts.StartAttempt(ctx, f.quiz.ID, f.alice)
	if err != nil {
		t.Fatalf("start second: %v", err)
	}
	if second.AttemptNo != 2 {
		t.Fatalf("expected attempt_no 2, got %d", second.AttemptNo)
	}
}

func TestStartAttemptIdempotentWhileUnfinished(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, err := f.attempts.StartAttempt(ctx, f.quiz.ID, f.alice)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	again, err := f.attempts.StartAttempt(ctx, f.quiz.ID, f.alice)
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if again.ID != first.ID || again.AttemptNo != first.AttemptNo {
		t.Fatalf("expected same attempt back, got %+v vs %+v", again, first)
	}

	attempts, err := f.attempts.ListUserAttempts(ctx, f.quiz.ID, f.alice)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(attempts) != 1 {
		t.Fatalf("expected 1 attempt row, got %d", len(attempts))
	}
}

func TestStartAttemptUnknownQuiz(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.attempts.StartAttempt(ctx, 9999, f.alice)
	if domain.KindOf(err) != domain.KindNotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestFinishAttemptScoresWrongAnswer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	attempt, _ := f.attempts.StartAttempt(ctx, f.quiz.ID, f.alice)
	_, err := f.answers.SubmitAnswers(ctx, attempt.ID, f.alice, []domain.AnswerSubmission{
		{QuestionID: f.single.ID, SelectedOptionIDs: []int64{f.option(t, f.single, "Y")}},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	result, err := f.attempts.FinishAttempt(ctx, attempt.ID, f.alice)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if result.CorrectAnswers != 0 || result.TotalPoints != 0 || result.ScorePercentage != 0.0 {
		t.Fatalf("expected zero score, got %+v", result)
	}
	if result.TotalQuestions != 3 {
		t.Fatalf("expected 3 questions, got %d", result.TotalQuestions)
	}
}

func TestFinishAttemptScoresCorrectAnswer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	attempt, _ := f.attempts.StartAttempt(ctx, f.quiz.ID, f.alice)
	_, err := f.answers.SubmitAnswers(ctx, attempt.ID, f.alice, []domain.AnswerSubmission{
		{QuestionID: f.single.ID, SelectedOptionIDs: []int64{f.option(t, f.single, "X")}},
		{QuestionID: f.multi.ID, SelectedOptionIDs: []int64{f.option(t, f.multi, "A"), f.option(t, f.multi, "C")}},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	result, err := f.attempts.FinishAttempt(ctx, attempt.ID, f.alice)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if result.CorrectAnswers != 2 {
		t.Fatalf("expected 2 correct, got %d", result.CorrectAnswers)
	}
	if result.TotalPoints != 5 {
		t.Fatalf("expected 5 earned points, got %d", result.TotalPoints)
	}
	// 5 of 6 points = 83.33 after rounding to two decimals.
	if result.ScorePercentage != 83.33 {
		t.Fatalf("expected 83.33%%, got %v", result.ScorePercentage)
	}

	stored, err := f.attempts.GetAttempt(ctx, attempt.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Score != 5 || !stored.Finished() {
		t.Fatalf("expected persisted score 5 on finished attempt, got %+v", stored)
	}
}

func TestFinishAttemptFullScore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	attempt, _ := f.attempts.StartAttempt(ctx, f.quiz.ID, f.bob)
	_, err := f.answers.SubmitAnswers(ctx, attempt.ID, f.bob, []domain.AnswerSubmission{
		{QuestionID: f.single.ID, SelectedOptionIDs: []int64{f.option(t, f.single, "X")}},
		{QuestionID: f.multi.ID, SelectedOptionIDs: []int64{f.option(t, f.multi, "A"), f.option(t, f.multi, "C")}},
		{QuestionID: f.text.ID, TextAnswer: "a free-form response"},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	result, err := f.attempts.FinishAttempt(ctx, attempt.ID, f.bob)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	// The text answer stays ungraded and contributes nothing.
	if result.CorrectAnswers != 2 || result.TotalPoints != 5 {
		t.Fatalf("expected 2 correct worth 5 points, got %+v", result)
	}
	if len(result.Answers) != 3 {
		t.Fatalf("expected all 3 answers in result, got %d", len(result.Answers))
	}
}

func TestFinishAttemptGuards(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if _, err := f.attempts.FinishAttempt(ctx, 4242, f.alice); domain.KindOf(err) != domain.KindNotFound {
		t.Fatalf("expected NotFound for missing attempt, got %v", err)
	}

	attempt, _ := f.attempts.StartAttempt(ctx, f.quiz.ID, f.alice)
	if _, err := f.attempts.FinishAttempt(ctx, attempt.ID, f.bob); domain.KindOf(err) != domain.KindForbidden {
		t.Fatalf("expected Forbidden for other user's attempt, got %v", err)
	}

	first, err := f.attempts.FinishAttempt(ctx, attempt.ID, f.alice)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if _, err := f.attempts.FinishAttempt(ctx, attempt.ID, f.alice); domain.KindOf(err) != domain.KindAlreadyFinished {
		t.Fatalf("expected AlreadyFinished, got %v", err)
	}

	// The losing call must not have touched score or finished_at.
	stored, _ := f.attempts.GetAttempt(ctx, attempt.ID)
	if stored.Score != first.TotalPoints || stored.FinishedAt == nil {
		t.Fatalf("re-finish altered the attempt: %+v", stored)
	}
}

func TestPercentageZeroPointQuiz(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	empty, err := f.content.CreateQuiz(ctx, f.admin, app.QuizInput{Title: "Empty", IsPublic: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	attempt, err := f.attempts.StartAttempt(ctx, empty.ID, f.alice)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	result, err := f.attempts.FinishAttempt(ctx, attempt.ID, f.alice)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if result.ScorePercentage != 0.0 || result.TotalQuestions != 0 {
		t.Fatalf("expected empty result, got %+v", result)
	}
}
