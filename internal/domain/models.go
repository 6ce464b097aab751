package domain

import "time"

// Role is attached to a connection once, at admission.
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
	RoleAdmin   Role = "admin"
)

// Known reports whether r is one of the defined roles.
func (r Role) Known() bool {
	switch r {
	case RoleStudent, RoleTeacher, RoleAdmin:
		return true
	}
	return false
}

// Privileged reports whether r may see instructor-only data and own rooms.
func (r Role) Privileged() bool {
	return r == RoleTeacher || r == RoleAdmin
}

// Mode decides who paces the quiz.
type Mode string

const (
	ModeTeacherPaced Mode = "teacher"
	ModeStudentPaced Mode = "student"
)

// ParseMode returns the mode named by s, defaulting to teacher-paced.
func ParseMode(s string) (Mode, bool) {
	switch Mode(s) {
	case "", ModeTeacherPaced:
		return ModeTeacherPaced, true
	case ModeStudentPaced:
		return ModeStudentPaced, true
	}
	return "", false
}

// RoomState is the lifecycle state of a room.
type RoomState string

const (
	StateLobby     RoomState = "lobby"
	StateActive    RoomState = "active"
	StateReviewing RoomState = "reviewing"
	StateClosed    RoomState = "closed"
)

// Answer is one participant's submission for one question.
type Answer struct {
	QuestionID  string      `json:"questionId"`
	Value       AnswerValue `json:"value"`
	Correct     bool        `json:"correct"`
	SubmittedAt time.Time   `json:"submittedAt"`
}

// Participant is tracked independently of its current connection.
type Participant struct {
	ID        string
	Role      Role
	Answers   []*Answer // one slot per question, nil until answered
	Connected bool
	JoinedAt  time.Time
}

// AnswerView is an answer as replayed to a client. Correct is set once the
// question has been revealed; the teacher results breakdown also carries it for
// the live question.
type AnswerView struct {
	Index       int         `json:"index"`
	QuestionID  string      `json:"questionId"`
	Value       AnswerValue `json:"value"`
	Correct     *bool       `json:"correct,omitempty"`
	SubmittedAt time.Time   `json:"submittedAt"`
}

// ParticipantSummary lists a room member for privileged viewers.
type ParticipantSummary struct {
	Name      string `json:"name"`
	Role      Role   `json:"role"`
	Connected bool   `json:"connected"`
	Answered  int    `json:"answered"`
}

// RoomSnapshot is replayed to a participant on join and reconnect.
type RoomSnapshot struct {
	RoomID        string               `json:"roomId"`
	QuizID        string               `json:"quizId"`
	State         RoomState            `json:"state"`
	Mode          Mode                 `json:"mode"`
	QuestionIndex int                  `json:"questionIndex"`
	QuestionCount int                  `json:"questionCount"`
	Question      *Question            `json:"question,omitempty"`
	Name          string               `json:"name"`
	Role          Role                 `json:"role"`
	Owner         bool                 `json:"owner"`
	Reconnected   bool                 `json:"reconnected"`
	Answers       []AnswerView         `json:"answers"`
	Participants  []ParticipantSummary `json:"participants,omitempty"`
	CreatedAt     time.Time            `json:"createdAt"`
}

// QuestionStats aggregates the answers to one question.
type QuestionStats struct {
	Index       int     `json:"index"`
	QuestionID  string  `json:"questionId"`
	Answered    int     `json:"answered"`
	Correct     int     `json:"correct"`
	CorrectRate float64 `json:"correctRate"`
}

// ParticipantResult is a per-student breakdown, only sent to privileged viewers.
type ParticipantResult struct {
	Name      string       `json:"name"`
	Connected bool         `json:"connected"`
	Answered  int          `json:"answered"`
	Correct   int          `json:"correct"`
	Grade     float64      `json:"grade"`
	Answers   []AnswerView `json:"answers,omitempty"`
}

// Results is the live-results payload. Percentages are in the 0..100 range.
type Results struct {
	RoomID        string              `json:"roomId"`
	QuestionIndex int                 `json:"questionIndex"`
	QuestionCount int                 `json:"questionCount"`
	Students      int                 `json:"students"`
	ClassAverage  float64             `json:"classAverage"`
	Current       *QuestionStats      `json:"current,omitempty"`
	Questions     []QuestionStats     `json:"questions"`
	Participants  []ParticipantResult `json:"participants,omitempty"`
}
