package app

import "quiz-room-service/internal/domain"

// GradePolicy selects the denominator used for grades and correct rates.
type GradePolicy int

const (
	// PolicyAllQuestions divides by every question released so far; an unanswered
	// question counts as wrong.
	PolicyAllQuestions GradePolicy = iota
	// PolicyAttempted divides only by the questions a student actually answered.
	PolicyAttempted
)

// DefaultGradePolicy is the policy rooms use unless configured otherwise.
const DefaultGradePolicy = PolicyAllQuestions

func (p GradePolicy) String() string {
	if p == PolicyAttempted {
		return "attempted"
	}
	return "all"
}

// gradeInput is the read-only view of a room that results are computed from.
type gradeInput struct {
	roomID    string
	questions []domain.Question
	released  int // questions shown so far
	revealed  int // questions whose correctness is visible
	members   []*member
	policy    GradePolicy
}

// computeResults aggregates student answers. Teachers and admins are not graded.
// withParticipants adds the per-student breakdown, live correctness included;
// without it, correctness of a question still live is left out of every figure.
func computeResults(in gradeInput, withParticipants bool) domain.Results {
	graded := in.released
	if !withParticipants {
		graded = in.revealed
	}

	res := domain.Results{
		RoomID:        in.roomID,
		QuestionIndex: in.released - 1,
		QuestionCount: len(in.questions),
		Questions:     make([]domain.QuestionStats, in.released),
	}
	for i := 0; i < in.released; i++ {
		res.Questions[i] = domain.QuestionStats{Index: i, QuestionID: in.questions[i].ID}
	}

	var gradeSum float64
	for _, m := range in.members {
		if m.Role != domain.RoleStudent {
			continue
		}
		res.Students++

		answered, attempted, correct := 0, 0, 0
		for i := 0; i < in.released && i < len(m.Answers); i++ {
			a := m.Answers[i]
			if a == nil {
				continue
			}
			answered++
			res.Questions[i].Answered++
			if i >= graded {
				continue
			}
			attempted++
			if a.Correct {
				correct++
				res.Questions[i].Correct++
			}
		}

		grade := percent(correct, graded)
		if in.policy == PolicyAttempted {
			grade = percent(correct, attempted)
		}
		gradeSum += grade

		if withParticipants {
			res.Participants = append(res.Participants, domain.ParticipantResult{
				Name:      m.ID,
				Connected: m.Connected,
				Answered:  answered,
				Correct:   correct,
				Grade:     grade,
				Answers:   answerViews(m.Answers, graded),
			})
		}
	}

	if res.Students > 0 {
		res.ClassAverage = gradeSum / float64(res.Students)
	}
	for i := range res.Questions {
		qs := &res.Questions[i]
		if i >= graded {
			continue
		}
		if in.policy == PolicyAttempted {
			qs.CorrectRate = percent(qs.Correct, qs.Answered)
		} else {
			qs.CorrectRate = percent(qs.Correct, res.Students)
		}
	}
	if in.released > 0 {
		current := res.Questions[in.released-1]
		res.Current = &current
	}
	return res
}

// answerViews lists submitted answers; correctness is only included for the
// first visible questions.
func answerViews(answers []*domain.Answer, visible int) []domain.AnswerView {
	views := make([]domain.AnswerView, 0, len(answers))
	for i, a := range answers {
		if a == nil {
			continue
		}
		v := domain.AnswerView{
			Index:       i,
			QuestionID:  a.QuestionID,
			Value:       a.Value,
			SubmittedAt: a.SubmittedAt,
		}
		if i < visible {
			correct := a.Correct
			v.Correct = &correct
		}
		views = append(views, v)
	}
	return views
}

func percent(n, d int) float64 {
	if d <= 0 {
		return 0
	}
	return float64(n) * 100 / float64(d)
}
