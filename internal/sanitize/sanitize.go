// Package sanitize removes instructor-only fields from question payloads.
package sanitize

import (
	"github.com/rs/zerolog"

	"quiz-room-service/internal/domain"
)

// Payload is the set of shapes ForRole accepts. The output has the same shape as the input.
type Payload interface {
	domain.Question | []domain.Question
}

// ForRole returns v filtered for role. Teachers and admins get v unchanged;
// students and unknown roles get a stripped copy. The input is never modified.
func ForRole[T Payload](v T, role domain.Role, log zerolog.Logger) T {
	switch role {
	case domain.RoleTeacher, domain.RoleAdmin:
		return v
	case domain.RoleStudent:
	default:
		log.Warn().Str("role", string(role)).Msg("unknown role, filtering as student")
	}

	switch x := any(v).(type) {
	case domain.Question:
		return any(Question(x)).(T)
	case []domain.Question:
		if x == nil {
			return v
		}
		out := make([]domain.Question, len(x))
		for i := range x {
			out[i] = Question(x[i])
		}
		return any(out).(T)
	}
	return v
}

// Question returns the student view of q.
func Question(q domain.Question) domain.Question {
	out := domain.Question{
		ID:     q.ID,
		Kind:   q.Kind,
		Stem:   q.Stem,
		Points: q.Points,
	}
	if q.Options != nil {
		out.Options = make([]domain.Option, len(q.Options))
		for i, opt := range q.Options {
			out.Options[i] = domain.Option{ID: opt.ID, Text: opt.Text}
		}
	}
	return out
}
