package cli

import (
	"context"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"quiz-room-service/internal/config"
	"quiz-room-service/internal/domain"
	"quiz-room-service/internal/infra/memory"
	mongoloader "quiz-room-service/internal/infra/mongo"
	pgloader "quiz-room-service/internal/infra/postgres"
	redisstore "quiz-room-service/internal/infra/redis"
	"quiz-room-service/internal/logger"
)

type quizSaver interface {
	SaveQuiz(ctx context.Context, quiz domain.Quiz) error
}

type quizInvalidator interface {
	Invalidate(ctx context.Context, quizID string) error
}

// NewImportCmd copies quizzes from a YAML file into the configured stores.
func NewImportCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file-or-dir>",
		Short: "Import quizzes from YAML into Postgres and/or MongoDB",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			log := logger.Setup(cfg.Log.Level, cfg.Log.Format)
			return runImport(cmd.Context(), cfg, args[0], log)
		},
	}
}

func runImport(ctx context.Context, cfg config.Config, path string, log zerolog.Logger) error {
	quizzes, err := memory.LoadQuizFile(path)
	if err != nil {
		return err
	}

	savers := map[string]quizSaver{}
	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, log); err != nil {
			return err
		}
		db := openBun(cfg.Postgres.URL)
		defer db.Close()
		savers["postgres"] = pgloader.NewQuizWriter(db)
	}
	if cfg.Mongo.URI != "" {
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Mongo.URI))
		if err != nil {
			return err
		}
		defer func() { _ = client.Disconnect(context.Background()) }()
		database := cfg.Mongo.Database
		if database == "" {
			database = "quizzes"
		}
		savers["mongo"] = mongoloader.NewQuizLoader(client, database)
	}
	if len(savers) == 0 {
		return fmt.Errorf("neither postgres.url nor mongo.uri is configured")
	}

	var cache quizInvalidator
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		cache = redisstore.NewQuizRepository(client, nil, 0)
	}
	return importQuizzes(ctx, quizzes, savers, cache, log)
}

// importQuizzes writes every quiz to each store, then drops cached copies so
// running servers pick up the new content on their next load.
func importQuizzes(ctx context.Context, quizzes map[string]domain.Quiz, savers map[string]quizSaver, cache quizInvalidator, log zerolog.Logger) error {
	ids := make([]string, 0, len(quizzes))
	for id := range quizzes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for store, saver := range savers {
		for _, id := range ids {
			if err := saver.SaveQuiz(ctx, quizzes[id]); err != nil {
				return fmt.Errorf("%s: %w", store, err)
			}
		}
		log.Info().Str("store", store).Int("quizzes", len(ids)).Msg("quizzes imported")
	}

	if cache == nil {
		return nil
	}
	for _, id := range ids {
		if err := cache.Invalidate(ctx, id); err != nil {
			log.Warn().Err(err).Str("quiz_id", id).Msg("cached quiz not invalidated")
		}
	}
	return nil
}
