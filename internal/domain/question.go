package domain

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// QuestionKind selects how a submitted value is checked.
type QuestionKind string

const (
	KindTrueFalse      QuestionKind = "true_false"
	KindMultipleChoice QuestionKind = "multiple_choice"
	KindMultipleAnswer QuestionKind = "multiple_answer"
	KindShortAnswer    QuestionKind = "short_answer"
	KindNumerical      QuestionKind = "numerical"
)

// Option is one visible choice of a choice-based question.
type Option struct {
	ID       string `json:"id,omitempty" yaml:"id,omitempty"`
	Text     string `json:"text" yaml:"text"`
	Correct  bool   `json:"isCorrect,omitempty" yaml:"isCorrect,omitempty"`
	Feedback string `json:"feedback,omitempty" yaml:"feedback,omitempty"`
}

// AnswerKey holds the solution for kinds that are not graded through option flags.
type AnswerKey struct {
	Bool   *bool    `json:"bool,omitempty" yaml:"bool,omitempty"`
	Texts  []string `json:"texts,omitempty" yaml:"texts,omitempty"`
	Number *float64 `json:"number,omitempty" yaml:"number,omitempty"`
	Margin float64  `json:"margin,omitempty" yaml:"margin,omitempty"`
	Min    *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max    *float64 `json:"max,omitempty" yaml:"max,omitempty"`
}

// Question is an immutable snapshot of a parsed quiz question.
type Question struct {
	ID              string         `json:"id" yaml:"id"`
	Kind            QuestionKind   `json:"kind" yaml:"kind"`
	Stem            string         `json:"stem" yaml:"stem"`
	Options         []Option       `json:"options,omitempty" yaml:"options,omitempty"`
	CorrectAnswer   *AnswerKey     `json:"correctAnswer,omitempty" yaml:"correctAnswer,omitempty"`
	Explanation     string         `json:"explanation,omitempty" yaml:"explanation,omitempty"`
	Hints           []string       `json:"hints,omitempty" yaml:"hints,omitempty"`
	Feedback        string         `json:"feedback,omitempty" yaml:"feedback,omitempty"`
	Points          int            `json:"points,omitempty" yaml:"points,omitempty"`
	GradingMetadata map[string]any `json:"gradingMetadata,omitempty" yaml:"gradingMetadata,omitempty"`
}

// Quiz is an ordered collection of questions.
type Quiz struct {
	ID        string     `json:"id" yaml:"id"`
	Title     string     `json:"title,omitempty" yaml:"title,omitempty"`
	Questions []Question `json:"questions" yaml:"questions"`
}

// Check reports whether value answers the question correctly.
// Unknown kinds and values of the wrong shape are never correct.
func (q Question) Check(value AnswerValue) bool {
	switch q.Kind {
	case KindTrueFalse:
		if value.Bool == nil || q.CorrectAnswer == nil || q.CorrectAnswer.Bool == nil {
			return false
		}
		return *value.Bool == *q.CorrectAnswer.Bool
	case KindMultipleChoice:
		choice, ok := value.single()
		if !ok {
			return false
		}
		idx := q.optionIndex(choice)
		if idx >= 0 {
			return q.Options[idx].Correct
		}
		return q.keyTextMatches(choice, false)
	case KindMultipleAnswer:
		if value.Choices == nil {
			return false
		}
		want := map[int]struct{}{}
		for i, opt := range q.Options {
			if opt.Correct {
				want[i] = struct{}{}
			}
		}
		if len(want) == 0 {
			return false
		}
		got := map[int]struct{}{}
		for _, c := range value.Choices {
			idx := q.optionIndex(c)
			if idx < 0 {
				return false
			}
			got[idx] = struct{}{}
		}
		if len(got) != len(want) {
			return false
		}
		for idx := range want {
			if _, ok := got[idx]; !ok {
				return false
			}
		}
		return true
	case KindShortAnswer:
		text, ok := value.single()
		if !ok {
			return false
		}
		if q.keyTextMatches(text, true) {
			return true
		}
		for _, opt := range q.Options {
			if opt.Correct && strings.EqualFold(strings.TrimSpace(opt.Text), strings.TrimSpace(text)) {
				return true
			}
		}
		return false
	case KindNumerical:
		n, ok := value.number()
		if !ok || q.CorrectAnswer == nil {
			return false
		}
		key := q.CorrectAnswer
		if key.Min != nil || key.Max != nil {
			if key.Min != nil && n < *key.Min {
				return false
			}
			if key.Max != nil && n > *key.Max {
				return false
			}
			return true
		}
		if key.Number == nil {
			return false
		}
		return math.Abs(n-*key.Number) <= math.Abs(key.Margin)
	default:
		return false
	}
}

func (q Question) optionIndex(choice string) int {
	for i, opt := range q.Options {
		if opt.ID != "" && opt.ID == choice {
			return i
		}
	}
	for i, opt := range q.Options {
		if opt.Text == choice {
			return i
		}
	}
	return -1
}

func (q Question) keyTextMatches(text string, fold bool) bool {
	if q.CorrectAnswer == nil {
		return false
	}
	text = strings.TrimSpace(text)
	for _, accepted := range q.CorrectAnswer.Texts {
		accepted = strings.TrimSpace(accepted)
		if accepted == text || (fold && strings.EqualFold(accepted, text)) {
			return true
		}
	}
	return false
}

// AnswerValue is a submitted value: exactly one of the fields is set.
// On the wire it is a bare JSON boolean, string, number, or array of strings.
type AnswerValue struct {
	Bool    *bool
	Text    *string
	Number  *float64
	Choices []string
}

func BoolValue(b bool) AnswerValue { return AnswerValue{Bool: &b} }
func TextValue(s string) AnswerValue { return AnswerValue{Text: &s} }
func NumberValue(n float64) AnswerValue { return AnswerValue{Number: &n} }
func ChoicesValue(c ...string) AnswerValue { return AnswerValue{Choices: append([]string{}, c...)} }

// IsZero reports whether no value was submitted.
func (v AnswerValue) IsZero() bool {
	return v.Bool == nil && v.Text == nil && v.Number == nil && v.Choices == nil
}

func (v AnswerValue) single() (string, bool) {
	switch {
	case v.Text != nil:
		return *v.Text, true
	case len(v.Choices) == 1:
		return v.Choices[0], true
	default:
		return "", false
	}
}

func (v AnswerValue) number() (float64, bool) {
	switch {
	case v.Number != nil:
		return *v.Number, true
	case v.Text != nil:
		n, err := strconv.ParseFloat(strings.TrimSpace(*v.Text), 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func (v AnswerValue) MarshalJSON() ([]byte, error) {
	switch {
	case v.Bool != nil:
		return json.Marshal(*v.Bool)
	case v.Text != nil:
		return json.Marshal(*v.Text)
	case v.Number != nil:
		return json.Marshal(*v.Number)
	case v.Choices != nil:
		return json.Marshal(v.Choices)
	default:
		return []byte("null"), nil
	}
}

func (v *AnswerValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*v = AnswerValue{}
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return ErrInvalidAnswer
	}
	switch data[0] {
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return ErrInvalidAnswer
		}
		v.Bool = &b
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return ErrInvalidAnswer
		}
		v.Text = &s
	case '[':
		var c []string
		if err := json.Unmarshal(data, &c); err != nil {
			return ErrInvalidAnswer
		}
		if c == nil {
			c = []string{}
		}
		v.Choices = c
	default:
		var n float64
		if err := json.Unmarshal(data, &n); err != nil {
			return ErrInvalidAnswer
		}
		v.Number = &n
	}
	return nil
}
