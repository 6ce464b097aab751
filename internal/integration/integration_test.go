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
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"quiz-room-service/internal/app"
	"quiz-room-service/internal/app/apptest"
	"quiz-room-service/internal/auth"
	"quiz-room-service/internal/domain"
	pgloader "quiz-room-service/internal/infra/postgres"
	pgmigrations "quiz-room-service/internal/infra/postgres/migrations"
	infraredis "quiz-room-service/internal/infra/redis"
)

const secret = "integration-secret"

func TestRoomSessionEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	seedQuiz(t, ctx, pgURL, sampleQuiz())

	pool, err := pgxpool.Connect(ctx, pgURL)
	require.NoError(t, err)
	defer pool.Close()

	redisClient, err := redisClientFromURL(redisURL)
	require.NoError(t, err)
	defer redisClient.Close()

	log := zerolog.Nop()
	quizRepo := infraredis.NewQuizRepository(redisClient, pgloader.NewQuizLoader(pool), 5*time.Minute)
	store := infraredis.NewRoomStore(redisClient, "instance-a", 5*time.Minute)
	registry := app.NewRegistry(store, app.RegistryConfig{GracePeriod: time.Minute}, log)
	classifier := auth.NewClassifier(auth.NewJWTVerifier(secret), time.Second, log)
	coordinator := app.NewCoordinator(registry, quizRepo, classifier, nil, app.CoordinatorConfig{JoinTimeout: 2 * time.Second}, log)

	token, err := auth.NewIssuer(secret, time.Hour).Issue("t-1", domain.RoleTeacher)
	require.NoError(t, err)
	teacherConn := apptest.NewConn("c-teacher")
	teacher := coordinator.Connect(teacherConn, token)
	snap, err := coordinator.CreateRoom(ctx, teacher, app.CreateRoomRequest{RoomID: "INTEG1", QuizID: "quiz-1", Name: "Ms Smith"})
	require.NoError(t, err)
	assert.Equal(t, 1, snap.QuestionCount)

	owner, err := redisClient.Get(ctx, "quiz:room:INTEG1").Result()
	require.NoError(t, err)
	assert.Equal(t, "instance-a", owner)

	other := app.NewRegistry(infraredis.NewRoomStore(redisClient, "instance-b", 5*time.Minute), app.RegistryConfig{}, log)
	_, err = other.CreateRoom(ctx, app.RoomSpec{ID: "INTEG1", Quiz: sampleQuiz(), Owner: "x"})
	assert.ErrorIs(t, err, domain.ErrRoomExists)

	aliceConn, bobConn := apptest.NewConn("c-alice"), apptest.NewConn("c-bob")
	alice := coordinator.Connect(aliceConn, "")
	bob := coordinator.Connect(bobConn, "")
	_, err = coordinator.Join(ctx, alice, "INTEG1", "alice", "")
	require.NoError(t, err)
	_, err = coordinator.Join(ctx, bob, "INTEG1", "bob", "")
	require.NoError(t, err)

	require.NoError(t, coordinator.Start(teacher))
	_, err = coordinator.Submit(alice, "q1", domain.TextValue("o2"))
	require.NoError(t, err)
	_, err = coordinator.Submit(bob, "q1", domain.TextValue("o1"))
	require.NoError(t, err)
	require.NoError(t, coordinator.Reveal(teacher))

	results, err := coordinator.Results(teacher)
	require.NoError(t, err)
	assert.Equal(t, 50.0, results.ClassAverage)

	require.NoError(t, coordinator.Next(teacher))
	closed, ok := bobConn.Last(domain.EventQuizClosed)
	require.True(t, ok)
	assert.Equal(t, domain.CloseFinished, closed.Payload.(domain.QuizClosed).Reason)

	exists, err := redisClient.Exists(ctx, "quiz:room:INTEG1").Result()
	require.NoError(t, err)
	assert.Zero(t, exists)
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

func seedQuiz(t *testing.T, ctx context.Context, dsn string, quiz domain.Quiz) {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	require.NoError(t, pgloader.NewQuizWriter(db).SaveQuiz(ctx, quiz))
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID: "quiz-1",
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
		},
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
