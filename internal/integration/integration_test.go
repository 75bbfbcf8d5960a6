package integration

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/domain"
	"quiz-attempt-service/internal/infra/postgres"
	pgmigrations "quiz-attempt-service/internal/infra/postgres/migrations"
	infraredis "quiz-attempt-service/internal/infra/redis"
)

func TestAttemptLifecycleEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(pgURL)))
	bundb := bun.NewDB(sqldb, pgdialect.New())
	defer bundb.Close()

	migrator := migrate.NewMigrator(bundb, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	store := postgres.NewStore(bundb)
	source := infraredis.NewLeaderboardCache(redisClient, postgres.NewLeaderboardSource(pool), 5*time.Minute)

	leaderboard := app.NewLeaderboardService(source)
	content := app.NewContentService(store, nil)
	attempts := app.NewAttemptService(store, leaderboard)
	answers := app.NewAnswerService(store)

	admin := &domain.User{Username: "admin", Email: "admin@example.com", Password: "x", Role: domain.RoleAdmin}
	if err := store.Users().Create(ctx, admin); err != nil {
		t.Fatalf("create admin: %v", err)
	}
	alice := &domain.User{Username: "alice", Email: "alice@example.com", Password: "x", Role: domain.RoleStudent}
	if err := store.Users().Create(ctx, alice); err != nil {
		t.Fatalf("create alice: %v", err)
	}
	bob := &domain.User{Username: "bob", Email: "bob@example.com", Password: "x", Role: domain.RoleStudent}
	if err := store.Users().Create(ctx, bob); err != nil {
		t.Fatalf("create bob: %v", err)
	}
	adminP := domain.Principal{ID: admin.ID, Role: domain.RoleAdmin}
	aliceP := domain.Principal{ID: alice.ID, Role: domain.RoleStudent}
	bobP := domain.Principal{ID: bob.ID, Role: domain.RoleStudent}

	quiz, err := content.CreateQuiz(ctx, adminP, app.QuizInput{
		Title:    "Arithmetic",
		IsPublic: true,
		Tags:     []string{"math"},
		Questions: []app.QuestionInput{
			{
				Text: "What is 2 + 2?", Type: domain.QuestionSingle, Points: 2,
				Options: []app.OptionInput{{Text: "3"}, {Text: "4", IsCorrect: true}, {Text: "5"}},
			},
			{
				Text: "Select every even number.", Type: domain.QuestionMultiple, Points: 3,
				Options: []app.OptionInput{{Text: "1"}, {Text: "2", IsCorrect: true}, {Text: "3"}, {Text: "4", IsCorrect: true}},
			},
		},
	})
	if err != nil {
		t.Fatalf("create quiz: %v", err)
	}

	single := quiz.Questions[0]
	multi := quiz.Questions[1]
	optionID := func(q domain.Question, text string) int64 {
		for _, o := range q.Options {
			if o.Text == text {
				return o.ID
			}
		}
		t.Fatalf("option %q missing", text)
		return 0
	}

	// alice goes perfect.
	aliceAttempt, err := attempts.StartAttempt(ctx, quiz.ID, aliceP)
	if err != nil {
		t.Fatalf("start alice: %v", err)
	}
	if aliceAttempt.AttemptNo != 1 {
		t.Fatalf("expected attempt 1, got %d", aliceAttempt.AttemptNo)
	}

	// Restarting before finishing hands the same attempt back.
	again, err := attempts.StartAttempt(ctx, quiz.ID, aliceP)
	if err != nil || again.ID != aliceAttempt.ID {
		t.Fatalf("expected idempotent restart, got %+v err=%v", again, err)
	}

	if _, err := answers.SubmitAnswers(ctx, aliceAttempt.ID, aliceP, []domain.AnswerSubmission{
		{QuestionID: single.ID, SelectedOptionIDs: []int64{optionID(single, "4")}},
		{QuestionID: multi.ID, SelectedOptionIDs: []int64{optionID(multi, "2"), optionID(multi, "4")}},
	}); err != nil {
		t.Fatalf("alice submit: %v", err)
	}

	result, err := attempts.FinishAttempt(ctx, aliceAttempt.ID, aliceP)
	if err != nil {
		t.Fatalf("alice finish: %v", err)
	}
	if result.TotalPoints != 5 || result.ScorePercentage != 100.0 {
		t.Fatalf("unexpected result: %+v", result)
	}

	// bob corrects a wrong answer in place before finishing.
	bobAttempt, err := attempts.StartAttempt(ctx, quiz.ID, bobP)
	if err != nil {
		t.Fatalf("start bob: %v", err)
	}
	if _, err := answers.SubmitAnswers(ctx, bobAttempt.ID, bobP, []domain.AnswerSubmission{
		{QuestionID: single.ID, SelectedOptionIDs: []int64{optionID(single, "3")}},
	}); err != nil {
		t.Fatalf("bob submit: %v", err)
	}
	if _, err := answers.SubmitAnswers(ctx, bobAttempt.ID, bobP, []domain.AnswerSubmission{
		{QuestionID: single.ID, SelectedOptionIDs: []int64{optionID(single, "4")}},
	}); err != nil {
		t.Fatalf("bob resubmit: %v", err)
	}
	bobResult, err := attempts.FinishAttempt(ctx, bobAttempt.ID, bobP)
	if err != nil {
		t.Fatalf("bob finish: %v", err)
	}
	if bobResult.TotalPoints != 2 {
		t.Fatalf("expected bob at 2 points, got %+v", bobResult)
	}
	if len(bobResult.Answers) != 1 {
		t.Fatalf("resubmit should leave one answer row, got %d", len(bobResult.Answers))
	}

	if _, err := attempts.FinishAttempt(ctx, bobAttempt.ID, bobP); domain.KindOf(err) != domain.KindAlreadyFinished {
		t.Fatalf("expected AlreadyFinished, got %v", err)
	}

	// The cached leaderboard must reflect both finishes because each one
	// invalidated the quiz's keys.
	lb, err := leaderboard.GetLeaderboard(ctx, quiz.ID, 10)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(lb.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %+v", lb.Entries)
	}
	if lb.Entries[0].Username != "alice" || lb.Entries[0].Score != 5 {
		t.Fatalf("expected alice leading with 5, got %+v", lb.Entries[0])
	}
	if lb.Entries[1].Username != "bob" || lb.Entries[1].Score != 2 {
		t.Fatalf("expected bob second with 2, got %+v", lb.Entries[1])
	}

	// Second serving comes from the cache and matches.
	cached, err := leaderboard.GetLeaderboard(ctx, quiz.ID, 10)
	if err != nil {
		t.Fatalf("cached leaderboard: %v", err)
	}
	if len(cached.Entries) != 2 || cached.Entries[0].UserID != lb.Entries[0].UserID {
		t.Fatalf("cache disagreed with source: %+v", cached.Entries)
	}

	// alice's second run scores lower and must not displace her best.
	second, err := attempts.StartAttempt(ctx, quiz.ID, aliceP)
	if err != nil {
		t.Fatalf("start second: %v", err)
	}
	if second.AttemptNo != 2 {
		t.Fatalf("expected attempt 2, got %d", second.AttemptNo)
	}
	if _, err := attempts.FinishAttempt(ctx, second.ID, aliceP); err != nil {
		t.Fatalf("finish second: %v", err)
	}
	lb, err = leaderboard.GetLeaderboard(ctx, quiz.ID, 10)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if lb.Entries[0].Username != "alice" || lb.Entries[0].Score != 5 || lb.Entries[0].AttemptNo != 1 {
		t.Fatalf("best attempt should stay on the board, got %+v", lb.Entries[0])
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://quiz:quizpass@%s:%s/quizdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
