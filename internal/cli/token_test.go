package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quiz-room-service/internal/auth"
	"quiz-room-service/internal/config"
	"quiz-room-service/internal/domain"
)

func TestTokenCommand(t *testing.T) {
	t.Setenv("JWT_SECRET", "cli-secret")

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"token", "--config", filepath.Join(t.TempDir(), "none.yaml"), "--subject", "ops", "--role", "admin"})
	require.NoError(t, cmd.Execute())

	claims, err := auth.NewJWTVerifier("cli-secret").Verify(context.Background(), strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
	assert.Contains(t, claims.Roles, "admin")
}

func TestTokenCommandRejectsUnknownRole(t *testing.T) {
	t.Setenv("JWT_SECRET", "cli-secret")

	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"token", "--config", filepath.Join(t.TempDir(), "none.yaml"), "--role", "janitor"})
	assert.Error(t, cmd.Execute())
}

func TestBuildQuizLoaderChainsFileAndSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quizzes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
id: file-quiz
questions:
  - id: q1
    kind: true_false
    stem: The sky is blue.
    correctAnswer:
      bool: true
`), 0o600))

	var cfg config.Config
	cfg.Quiz.File = path
	loader, cleanup, err := buildQuizLoader(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer cleanup()

	quiz, err := loader.LoadQuiz(context.Background(), "file-quiz")
	require.NoError(t, err)
	assert.Len(t, quiz.Questions, 1)

	sample, err := loader.LoadQuiz(context.Background(), "quiz-1")
	require.NoError(t, err)
	assert.Equal(t, "Warm-up", sample.Title)

	_, err = loader.LoadQuiz(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrQuizNotFound)
}
