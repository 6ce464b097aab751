package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"

	"quiz-room-service/internal/app"
	"quiz-room-service/internal/auth"
	"quiz-room-service/internal/config"
	"quiz-room-service/internal/domain"
	"quiz-room-service/internal/infra/memory"
	mongoloader "quiz-room-service/internal/infra/mongo"
	pgloader "quiz-room-service/internal/infra/postgres"
	redisstore "quiz-room-service/internal/infra/redis"
	"quiz-room-service/internal/logger"
	"quiz-room-service/internal/telemetry"
	transport "quiz-room-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz room server",
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
	log := logger.Setup(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, log); err != nil {
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

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}

	loader, cleanup, err := buildQuizLoader(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	var quizRepo app.QuizRepository
	if redisClient != nil {
		quizRepo = redisstore.NewQuizRepository(redisClient, loader, quizTTL)
	} else {
		quizRepo = memory.NewQuizRepository(loader, quizTTL)
	}

	var store app.RoomStore
	if redisClient != nil {
		instance := uuid.NewString()
		if host, err := os.Hostname(); err == nil {
			instance = host + "-" + instance
		}
		store = redisstore.NewRoomStore(redisClient, instance, config.TTLDuration(cfg.Redis.TTL, 10*time.Minute))
	} else {
		store = memory.NewRoomStore()
	}

	var verifier auth.Verifier
	if cfg.Auth.JWTSecret != "" {
		verifier = auth.NewJWTVerifier(cfg.Auth.JWTSecret)
	} else {
		log.Warn().Msg("auth.jwtSecret not set, every connection is a student")
	}
	classifier := auth.NewClassifier(verifier, config.TTLDuration(cfg.Auth.VerifyTimeout, 2*time.Second), logger.Component(log, "auth"))

	registry := app.NewRegistry(store, app.RegistryConfig{
		GracePeriod:   config.TTLDuration(cfg.Rooms.GracePeriod, 60*time.Second),
		IdleTimeout:   config.TTLDuration(cfg.Rooms.IdleTimeout, 2*time.Hour),
		SweepInterval: config.TTLDuration(cfg.Rooms.SweepInterval, 30*time.Second),
	}, logger.Component(log, "rooms"))

	coordinator := app.NewCoordinator(registry, quizRepo, classifier, telemetry.NewSampler(), app.CoordinatorConfig{
		JoinTimeout:       config.TTLDuration(cfg.Rooms.JoinTimeout, 5*time.Second),
		AllowAnswerChange: cfg.Rooms.AllowAnswerChange,
	}, logger.Component(log, "coordinator"))

	wsLog := logger.Component(log, "ws")
	wsHandler := transport.NewWSHandler(coordinator, transport.Options{
		PingInterval:   config.TTLDuration(cfg.WebSocket.PingInterval, 0),
		PongWait:       config.TTLDuration(cfg.WebSocket.PongWait, 0),
		WriteWait:      config.TTLDuration(cfg.WebSocket.WriteWait, 0),
		SendBuffer:     cfg.WebSocket.SendBuffer,
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
		AllowedOrigins: cfg.WebSocket.AllowedOrigins,
	}, wsLog)

	server := &http.Server{
		Addr:              ":" + finalPort,
		Handler:           transport.NewRouter(wsHandler, coordinator, wsLog),
		ReadHeaderTimeout: 15 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("starting quiz room service")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return registry.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down server...")
		registry.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// buildQuizLoader chains every configured quiz source; the built-in sample quiz is the last resort.
func buildQuizLoader(ctx context.Context, cfg config.Config, log zerolog.Logger) (memory.QuizLoader, func(), error) {
	var chain memory.ChainLoader
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.Quiz.File != "" {
		quizzes, err := memory.LoadQuizFile(cfg.Quiz.File)
		if err != nil {
			return nil, cleanup, err
		}
		log.Info().Str("path", cfg.Quiz.File).Int("quizzes", len(quizzes)).Msg("loaded quiz file")
		chain = append(chain, memory.NewStaticQuizLoader(quizzes))
	}

	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			cleanup()
			return nil, func() {}, err
		}
		closers = append(closers, pool.Close)
		chain = append(chain, pgloader.NewQuizLoader(pool))
	}

	if cfg.Mongo.URI != "" {
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Mongo.URI))
		if err != nil {
			cleanup()
			return nil, func() {}, err
		}
		closers = append(closers, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = client.Disconnect(ctx)
		})
		database := cfg.Mongo.Database
		if database == "" {
			database = "quizzes"
		}
		chain = append(chain, mongoloader.NewQuizLoader(client, database))
	}

	chain = append(chain, memory.NewStaticQuizLoader(sampleQuizzes()))
	return chain, cleanup, nil
}

// sampleQuizzes provides a minimal quiz so a bare deployment can run a room end to end.
func sampleQuizzes() map[string]domain.Quiz {
	yes := true
	return map[string]domain.Quiz{
		"quiz-1": {
			ID:    "quiz-1",
			Title: "Warm-up",
			Questions: []domain.Question{
				{
					ID:   "q1",
					Kind: domain.KindMultipleChoice,
					Stem: "What is 2 + 2?",
					Options: []domain.Option{
						{ID: "o1", Text: "3"},
						{ID: "o2", Text: "4", Correct: true},
						{ID: "o3", Text: "5"},
					},
					Points: 1,
				},
				{
					ID:            "q2",
					Kind:          domain.KindTrueFalse,
					Stem:          "Go has goroutines.",
					CorrectAnswer: &domain.AnswerKey{Bool: &yes},
					Points:        1,
				},
			},
		},
	}
}
