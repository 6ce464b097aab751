package domain

import "time"

// EventType names a message on the real-time transport.
type EventType string

// Client -> server.
const (
	EventCreateRoom    EventType = "create-room"
	EventJoinRoom      EventType = "join-room"
	EventLeaveRoom     EventType = "leave-room"
	EventStartQuiz     EventType = "start-quiz"
	EventSubmitAnswer  EventType = "submit-answer"
	EventRevealResults EventType = "reveal-results"
	EventNextQuestion  EventType = "next-question"
	EventCloseRoom     EventType = "close-room"
	EventGetUsage      EventType = "get-usage"
	EventPing          EventType = "ping"
)

// Server -> client.
const (
	EventRoomCreated       EventType = "room-created"
	EventJoinSuccess       EventType = "join-success"
	EventJoinError         EventType = "join-error"
	EventLeft              EventType = "left"
	EventQuestion          EventType = "question-broadcast"
	EventAnswerAck         EventType = "answer-ack"
	EventAnswerError       EventType = "answer-error"
	EventAnswerResult      EventType = "answer-result"
	EventLiveResults       EventType = "live-results"
	EventQuizClosed        EventType = "quiz-closed"
	EventParticipantJoined EventType = "participant-joined"
	EventParticipantLeft   EventType = "participant-left"
	EventUsageData         EventType = "usage-data"
	EventPong              EventType = "pong"
	EventError             EventType = "error"
)

// Event is the transport envelope.
type Event struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload,omitempty"`
}

// QuestionBroadcast carries the live question, already filtered for the recipient's role.
type QuestionBroadcast struct {
	Index    int      `json:"index"`
	Total    int      `json:"total"`
	Question Question `json:"question"`
}

// AnswerAck confirms an accepted submission without revealing correctness.
type AnswerAck struct {
	QuestionID string `json:"questionId"`
	Index      int    `json:"index"`
	Replaced   bool   `json:"replaced"`
}

// AnswerResult tells one student how their answer to the revealed question was graded.
type AnswerResult struct {
	QuestionID string `json:"questionId"`
	Index      int    `json:"index"`
	Answered   bool   `json:"answered"`
	Correct    bool   `json:"correct"`
}

// ParticipantNotice informs privileged members about joins and disconnects.
type ParticipantNotice struct {
	Name      string `json:"name"`
	Role      Role   `json:"role"`
	Connected bool   `json:"connected"`
}

// QuizClosed is sent once to every connected participant when a room closes.
type QuizClosed struct {
	RoomID  string   `json:"roomId"`
	Reason  string   `json:"reason"`
	Results *Results `json:"results,omitempty"`
}

// ErrorPayload is the body of every error event.
type ErrorPayload struct {
	Event     EventType `json:"event,omitempty"`
	Reason    string    `json:"reason"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
}

// NewErrorEvent builds the typed error event for a failed request.
func NewErrorEvent(typ, request EventType, err error) Event {
	return Event{Type: typ, Payload: ErrorPayload{
		Event:     request,
		Reason:    Reason(err),
		Message:   err.Error(),
		Retryable: Retryable(err),
	}}
}

// Close reasons.
const (
	CloseFinished     = "finished"
	CloseByOwner      = "closed_by_owner"
	CloseOwnerTimeout = "owner_timeout"
	CloseIdle         = "idle"
	CloseShutdown     = "shutdown"
)

// Usage is the operational telemetry returned by get-usage and /usage.
type Usage struct {
	ProcessRSS       uint64    `json:"processRss"`
	ProcessCPU       float64   `json:"processCpuPercent"`
	HeapAlloc        uint64    `json:"heapAlloc"`
	SystemMemoryUsed uint64    `json:"systemMemoryUsed"`
	SystemMemoryPct  float64   `json:"systemMemoryPercent"`
	SystemCPU        float64   `json:"systemCpuPercent"`
	Goroutines       int       `json:"goroutines"`
	Rooms            int       `json:"rooms"`
	Connections      int64     `json:"connections"`
	SampledAt        time.Time `json:"sampledAt"`
}
