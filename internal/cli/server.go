package cli

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/config"
	"quiz-attempt-service/internal/domain"
	"quiz-attempt-service/internal/infra/gemini"
	"quiz-attempt-service/internal/infra/memory"
	"quiz-attempt-service/internal/infra/postgres"
	redisinfra "quiz-attempt-service/internal/infra/redis"
	transport "quiz-attempt-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz attempt server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var store app.Store
	var leaderboardSource app.LeaderboardSource

	if cfg.Postgres.URL != "" {
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.Postgres.URL)))
		bundb := bun.NewDB(sqldb, pgdialect.New())
		defer bundb.Close()

		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()

		store = postgres.NewStore(bundb)
		leaderboardSource = postgres.NewLeaderboardSource(pool)
	} else {
		memStore := memory.NewStore()
		store = memStore
		leaderboardSource = memStore
	}

	if cfg.Redis.Addr != "" {
		redisClient := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ttl := config.TTLDuration(cfg.Leaderboard.TTL, time.Minute)
		leaderboardSource = redisinfra.NewLeaderboardCache(redisClient, leaderboardSource, ttl)
	}

	var generator app.QuizGenerator
	if cfg.Gemini.APIKey != "" {
		generator = gemini.NewClient(cfg.Gemini.APIKey, cfg.Gemini.Model)
	}

	leaderboard := app.NewLeaderboardService(leaderboardSource)
	content := app.NewContentService(store, generator)
	attempts := app.NewAttemptService(store, leaderboard)
	answers := app.NewAnswerService(store)

	if cfg.Postgres.URL == "" {
		if err := seedDemoData(ctx, store, content); err != nil {
			return err
		}
		log.Printf("no postgres configured; running on in-memory store with demo data")
	}

	handler := transport.NewHandler(content, attempts, answers, leaderboard)
	watch := transport.NewWatchHandler(leaderboard)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	handler.Register(mux)
	mux.HandleFunc("GET /api/v1/quizzes/{id}/leaderboard/watch", watch.ServeWatch)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting quiz attempt service on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// seedDemoData creates a couple of accounts and a sample quiz so the demo
// mode is usable out of the box.
func seedDemoData(ctx context.Context, store app.Store, content *app.ContentService) error {
	admin := &domain.User{Username: "admin", Email: "admin@example.com", Password: "demo", Role: domain.RoleAdmin}
	if err := store.Users().Create(ctx, admin); err != nil {
		return err
	}
	for _, name := range []string{"alice", "bob"} {
		user := &domain.User{Username: name, Email: name + "@example.com", Password: "demo", Role: domain.RoleStudent}
		if err := store.Users().Create(ctx, user); err != nil {
			return err
		}
	}

	_, err := content.CreateQuiz(ctx, domain.Principal{ID: admin.ID, Role: domain.RoleAdmin}, app.QuizInput{
		Title:       "Arithmetic warm-up",
		Description: "A short demo quiz",
		IsPublic:    true,
		Tags:        []string{"math", "demo"},
		Questions: []app.QuestionInput{
			{
				Text: "What is 2 + 2?", Type: domain.QuestionSingle, Points: 1,
				Options: []app.OptionInput{
					{Text: "3"}, {Text: "4", IsCorrect: true}, {Text: "5"},
				},
			},
			{
				Text: "Select every even number.", Type: domain.QuestionMultiple, Points: 2,
				Options: []app.OptionInput{
					{Text: "1"}, {Text: "2", IsCorrect: true}, {Text: "3"}, {Text: "4", IsCorrect: true},
				},
			},
			{
				Text: "Describe the commutative property in one sentence.", Type: domain.QuestionText, Points: 1,
			},
		},
	})
	return err
}
