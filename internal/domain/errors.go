package domain

import "errors"

// Error kinds. Every error returned by rooms and the registry wraps exactly one of these.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidState = errors.New("invalid state")
	ErrTimeout      = errors.New("timeout")
	ErrBadRequest   = errors.New("bad request")
)

var (
	// ErrRoomNotFound is returned when a room does not exist or has already closed.
	ErrRoomNotFound = newError(ErrNotFound, "room not found")
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = newError(ErrNotFound, "quiz not found")
	// ErrQuestionNotFound indicates a submitted question ID is not part of the quiz.
	ErrQuestionNotFound = newError(ErrNotFound, "question not found")
	// ErrParticipantNotFound is returned when a name has not joined the room.
	ErrParticipantNotFound = newError(ErrNotFound, "participant not found in room")

	// ErrRoomExists is returned when an active room already uses the identifier.
	ErrRoomExists = newError(ErrConflict, "room already exists")
	// ErrNameTaken is returned when a connected participant already uses the name.
	ErrNameTaken = newError(ErrConflict, "name taken")
	// ErrAlreadyAnswered is returned for a second submission when answer changes are disabled.
	ErrAlreadyAnswered = newError(ErrConflict, "question already answered")

	// ErrNotOwner is returned when someone other than the room owner attempts an owner-only transition.
	ErrNotOwner = newError(ErrUnauthorized, "only the room owner can do this")
	// ErrPrivilegedOnly is returned when a student attempts a teacher or admin action.
	ErrPrivilegedOnly = newError(ErrUnauthorized, "teacher or admin role required")
	// ErrStudentsOnly is returned when a teacher or admin submits an answer.
	ErrStudentsOnly = newError(ErrUnauthorized, "only students submit answers")
	// ErrOwnerOnline is returned when a privileged user tries to take over a room whose owner is connected.
	ErrOwnerOnline = newError(ErrConflict, "room owner is already connected")

	ErrQuizNotStarted  = newError(ErrInvalidState, "quiz has not started")
	ErrAlreadyStarted  = newError(ErrInvalidState, "quiz already started")
	ErrNoQuestions     = newError(ErrInvalidState, "quiz has no questions")
	ErrQuestionNotLive = newError(ErrInvalidState, "question is not open for answers")
	ErrNotReviewing    = newError(ErrInvalidState, "results have not been revealed")
	ErrRoomClosed      = newError(ErrInvalidState, "room is closed")
	ErrNotInRoom       = newError(ErrInvalidState, "connection has not joined a room")

	// ErrJoinTimeout is returned when admission (credential verification or quiz load) exceeds its bound.
	ErrJoinTimeout = newError(ErrTimeout, "join timed out, retry")

	ErrInvalidAnswer  = newError(ErrBadRequest, "invalid answer value")
	ErrInvalidPayload = newError(ErrBadRequest, "invalid payload")
)

type kindError struct {
	kind error
	msg  string
}

func newError(kind error, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Unwrap() error { return e.kind }

// Reason maps an error to the short code sent to clients.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrBadRequest):
		return "bad_request"
	default:
		return "internal"
	}
}

// Retryable reports whether the client may retry the same request unchanged.
func Retryable(err error) bool {
	return errors.Is(err, ErrTimeout)
}
