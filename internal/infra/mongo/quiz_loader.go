package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"quiz-room-service/internal/domain"
)

type optionDocument struct {
	ID        string `bson:"id,omitempty"`
	Text      string `bson:"text"`
	IsCorrect bool   `bson:"isCorrect,omitempty"`
	Feedback  string `bson:"feedback,omitempty"`
}

type answerKeyDocument struct {
	Bool   *bool    `bson:"bool,omitempty"`
	Texts  []string `bson:"texts,omitempty"`
	Number *float64 `bson:"number,omitempty"`
	Margin float64  `bson:"margin,omitempty"`
	Min    *float64 `bson:"min,omitempty"`
	Max    *float64 `bson:"max,omitempty"`
}

type questionDocument struct {
	ID              string             `bson:"id"`
	Kind            string             `bson:"kind"`
	Stem            string             `bson:"stem"`
	Options         []optionDocument   `bson:"options,omitempty"`
	CorrectAnswer   *answerKeyDocument `bson:"correctAnswer,omitempty"`
	Explanation     string             `bson:"explanation,omitempty"`
	Hints           []string           `bson:"hints,omitempty"`
	Feedback        string             `bson:"feedback,omitempty"`
	Points          int                `bson:"points,omitempty"`
	GradingMetadata bson.M             `bson:"gradingMetadata,omitempty"`
}

type quizDocument struct {
	ID        string             `bson:"_id"`
	Title     string             `bson:"title,omitempty"`
	Questions []questionDocument `bson:"questions"`
}

// QuizLoader reads quizzes from the "quizzes" collection.
type QuizLoader struct {
	collection *mongo.Collection
}

func NewQuizLoader(client *mongo.Client, database string) *QuizLoader {
	return &QuizLoader{collection: client.Database(database).Collection("quizzes")}
}

func (l *QuizLoader) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	var doc quizDocument
	err := l.collection.FindOne(ctx, bson.M{"_id": quizID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("load quiz: %w", err)
	}
	return doc.toDomain(), nil
}

// SaveQuiz replaces or inserts quiz; used by the import command.
func (l *QuizLoader) SaveQuiz(ctx context.Context, quiz domain.Quiz) error {
	doc := fromDomain(quiz)
	_, err := l.collection.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save quiz %s: %w", quiz.ID, err)
	}
	return nil
}

func (d quizDocument) toDomain() domain.Quiz {
	quiz := domain.Quiz{ID: d.ID, Title: d.Title, Questions: make([]domain.Question, len(d.Questions))}
	for i, q := range d.Questions {
		out := domain.Question{
			ID:          q.ID,
			Kind:        domain.QuestionKind(q.Kind),
			Stem:        q.Stem,
			Explanation: q.Explanation,
			Hints:       q.Hints,
			Feedback:    q.Feedback,
			Points:      q.Points,
		}
		if len(q.GradingMetadata) > 0 {
			out.GradingMetadata = map[string]any(q.GradingMetadata)
		}
		for _, o := range q.Options {
			out.Options = append(out.Options, domain.Option{ID: o.ID, Text: o.Text, Correct: o.IsCorrect, Feedback: o.Feedback})
		}
		if k := q.CorrectAnswer; k != nil {
			out.CorrectAnswer = &domain.AnswerKey{Bool: k.Bool, Texts: k.Texts, Number: k.Number, Margin: k.Margin, Min: k.Min, Max: k.Max}
		}
		quiz.Questions[i] = out
	}
	return quiz
}

func fromDomain(quiz domain.Quiz) quizDocument {
	doc := quizDocument{ID: quiz.ID, Title: quiz.Title, Questions: make([]questionDocument, len(quiz.Questions))}
	for i, q := range quiz.Questions {
		out := questionDocument{
			ID:          q.ID,
			Kind:        string(q.Kind),
			Stem:        q.Stem,
			Explanation: q.Explanation,
			Hints:       q.Hints,
			Feedback:    q.Feedback,
			Points:      q.Points,
		}
		if len(q.GradingMetadata) > 0 {
			out.GradingMetadata = bson.M(q.GradingMetadata)
		}
		for _, o := range q.Options {
			out.Options = append(out.Options, optionDocument{ID: o.ID, Text: o.Text, IsCorrect: o.Correct, Feedback: o.Feedback})
		}
		if k := q.CorrectAnswer; k != nil {
			out.CorrectAnswer = &answerKeyDocument{Bool: k.Bool, Texts: k.Texts, Number: k.Number, Margin: k.Margin, Min: k.Min, Max: k.Max}
		}
		doc.Questions[i] = out
	}
	return doc
}
