package memory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"quiz-room-service/internal/domain"
)

// StaticQuizLoader serves quizzes from a map (demos and tests).
type StaticQuizLoader struct {
	quizzes map[string]domain.Quiz
}

func NewStaticQuizLoader(quizzes map[string]domain.Quiz) *StaticQuizLoader {
	return &StaticQuizLoader{quizzes: quizzes}
}

func (l *StaticQuizLoader) LoadQuiz(_ context.Context, quizID string) (domain.Quiz, error) {
	if quiz, ok := l.quizzes[quizID]; ok {
		return quiz, nil
	}
	return domain.Quiz{}, domain.ErrQuizNotFound
}

// quizFile is the YAML layout: either a single quiz or a list under "quizzes".
type quizFile struct {
	domain.Quiz `yaml:",inline"`
	Quizzes     []domain.Quiz `yaml:"quizzes"`
}

// LoadQuizFile reads every quiz from a YAML file or from each *.yaml/*.yml file in a directory.
func LoadQuizFile(path string) (map[string]domain.Quiz, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	files := []string{path}
	if info.IsDir() {
		files = files[:0]
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			ext := strings.ToLower(filepath.Ext(e.Name()))
			if !e.IsDir() && (ext == ".yaml" || ext == ".yml") {
				files = append(files, filepath.Join(path, e.Name()))
			}
		}
	}

	quizzes := make(map[string]domain.Quiz)
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, err
		}
		var parsed quizFile
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return nil, fmt.Errorf("parse %s: %w", f, err)
		}
		all := parsed.Quizzes
		if parsed.ID != "" {
			all = append(all, parsed.Quiz)
		}
		for _, q := range all {
			if q.ID == "" {
				return nil, fmt.Errorf("parse %s: quiz without id", f)
			}
			quizzes[q.ID] = q
		}
	}
	return quizzes, nil
}

// ChainLoader asks each loader in turn, moving on only when a quiz is not found there.
type ChainLoader []QuizLoader

func (c ChainLoader) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	for _, l := range c {
		quiz, err := l.LoadQuiz(ctx, quizID)
		if err == nil {
			return quiz, nil
		}
		if !errors.Is(err, domain.ErrQuizNotFound) {
			return domain.Quiz{}, err
		}
	}
	return domain.Quiz{}, domain.ErrQuizNotFound
}
