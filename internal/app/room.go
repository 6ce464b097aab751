package app

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"quiz-room-service/internal/domain"
	"quiz-room-service/internal/sanitize"
)

// RoomSpec describes a room to create.
type RoomSpec struct {
	ID                string
	Quiz              domain.Quiz
	Owner             string // participant name that controls the room
	Mode              domain.Mode
	AllowAnswerChange bool
	GradePolicy       GradePolicy
	GracePeriod       time.Duration // owner reconnect window; <= 0 closes on owner disconnect

	// awaitOwner keeps the owner name reserved for joinOwner until the creator is in.
	awaitOwner bool
}

type member struct {
	domain.Participant
	conn Conn
}

// Room is one live quiz session. All state transitions hold mu for their whole
// duration, including the fan-out they trigger, so every connection observes
// a room's events in the order they were processed.
type Room struct {
	id          string
	quizID      string
	owner       string
	mode        domain.Mode
	allowChange bool
	policy      GradePolicy
	grace       time.Duration
	questions   []domain.Question
	createdAt   time.Time
	now         func() time.Time
	log         zerolog.Logger
	onClose     func(*Room)

	mu           sync.Mutex
	state        domain.RoomState
	index        int
	members      map[string]*member
	order        []*member
	lastActivity time.Time
	ownerGoneAt  time.Time
	ownerPending bool
	graceTimer   *time.Timer
	graceGen     uint64
	closeReason  string
}

// NewRoom builds a standalone room in the lobby state.
func NewRoom(spec RoomSpec, log zerolog.Logger) *Room {
	return newRoomWithClock(spec, time.Now, log, nil)
}

func newRoomWithClock(spec RoomSpec, now func() time.Time, log zerolog.Logger, onClose func(*Room)) *Room {
	mode := spec.Mode
	if mode == "" {
		mode = domain.ModeTeacherPaced
	}
	created := now()
	return &Room{
		id:           spec.ID,
		quizID:       spec.Quiz.ID,
		owner:        spec.Owner,
		mode:         mode,
		allowChange:  spec.AllowAnswerChange,
		policy:       spec.GradePolicy,
		grace:        spec.GracePeriod,
		questions:    append([]domain.Question(nil), spec.Quiz.Questions...),
		createdAt:    created,
		now:          now,
		log:          log.With().Str("room_id", spec.ID).Logger(),
		onClose:      onClose,
		state:        domain.StateLobby,
		index:        -1,
		members:      make(map[string]*member),
		lastActivity: created,
		ownerPending: spec.awaitOwner,
	}
}

func (r *Room) ID() string { return r.id }
func (r *Room) QuizID() string { return r.quizID }
func (r *Room) Owner() string { return r.owner }
func (r *Room) Mode() domain.Mode { return r.mode }

// State returns the current lifecycle state.
func (r *Room) State() domain.RoomState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Index returns the current question index, -1 before the quiz starts.
func (r *Room) Index() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.index
}

func (r *Room) Closed() bool {
	return r.State() == domain.StateClosed
}

// CloseReason is empty until the room closes.
func (r *Room) CloseReason() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeReason
}

// Counts returns the number of participants and how many are connected.
func (r *Room) Counts() (total, connected int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.order {
		total++
		if m.Connected {
			connected++
		}
	}
	return total, connected
}

// transition runs fn under the room lock. If fn closed the room, the close
// hook runs after the lock is released.
func (r *Room) transition(fn func(now time.Time) error) error {
	r.mu.Lock()
	wasOpen := r.state != domain.StateClosed
	err := fn(r.now())
	closedNow := wasOpen && r.state == domain.StateClosed
	r.mu.Unlock()

	if closedNow && r.onClose != nil {
		r.onClose(r)
	}
	return err
}

// Join admits name with role over conn and replays the room state to it.
// A known but disconnected name is a reconnect: answers survive, and the owner
// regains control if it comes back with a privileged role.
func (r *Room) Join(name string, role domain.Role, conn Conn) (domain.RoomSnapshot, error) {
	return r.join(name, role, conn, false)
}

// joinOwner admits the room's creator under the reserved owner name.
func (r *Room) joinOwner(role domain.Role, conn Conn) (domain.RoomSnapshot, error) {
	return r.join(r.owner, role, conn, true)
}

func (r *Room) join(name string, role domain.Role, conn Conn, creator bool) (domain.RoomSnapshot, error) {
	if name == "" || conn == nil {
		return domain.RoomSnapshot{}, domain.ErrInvalidPayload
	}

	var snap domain.RoomSnapshot
	err := r.transition(func(now time.Time) error {
		if r.state == domain.StateClosed {
			return domain.ErrRoomNotFound
		}
		isOwner := name == r.owner
		if isOwner && (!role.Privileged() || (r.ownerPending && !creator)) {
			return domain.ErrNameTaken
		}

		m, exists := r.members[name]
		if exists && m.Connected {
			if isOwner {
				return domain.ErrOwnerOnline
			}
			return domain.ErrNameTaken
		}
		if exists {
			m.Role = role
			m.Connected = true
			m.conn = conn
		} else {
			m = &member{
				Participant: domain.Participant{
					ID:        name,
					Role:      role,
					Answers:   make([]*domain.Answer, len(r.questions)),
					Connected: true,
					JoinedAt:  now,
				},
				conn: conn,
			}
			r.members[name] = m
			r.order = append(r.order, m)
		}
		r.lastActivity = now

		if isOwner {
			r.ownerPending = false
			if !r.ownerGoneAt.IsZero() {
				r.log.Info().Dur("away", now.Sub(r.ownerGoneAt)).Msg("owner reconnected")
			}
			r.ownerGoneAt = time.Time{}
			r.cancelGraceLocked()
		}

		snap = r.snapshotLocked(m, exists)
		if err := conn.Send(domain.Event{Type: domain.EventJoinSuccess, Payload: snap}); err != nil {
			r.log.Debug().Err(err).Str("participant", name).Msg("join-success not delivered")
		}
		r.notifyPrivilegedLocked(domain.EventParticipantJoined, m)

		r.log.Info().Str("participant", name).Str("role", string(role)).Bool("reconnect", exists).Msg("participant joined")
		return nil
	})
	return snap, err
}

// Leave marks name disconnected. The participant and its answers stay in the room.
// When conn is given and no longer matches the participant's connection
// (it already reconnected elsewhere), Leave is a no-op.
func (r *Room) Leave(name string, conn Conn) error {
	return r.transition(func(now time.Time) error {
		if r.state == domain.StateClosed {
			return domain.ErrRoomClosed
		}
		m, ok := r.members[name]
		if !ok {
			return domain.ErrParticipantNotFound
		}
		if !m.Connected || (conn != nil && m.conn != nil && m.conn.ID() != conn.ID()) {
			return nil
		}

		m.Connected = false
		m.conn = nil
		r.lastActivity = now
		r.notifyPrivilegedLocked(domain.EventParticipantLeft, m)
		r.log.Info().Str("participant", name).Msg("participant disconnected")

		if name == r.owner {
			r.ownerGoneAt = now
			if r.grace <= 0 {
				r.closeLocked(domain.CloseOwnerTimeout)
				return nil
			}
			r.startGraceLocked()
			r.log.Info().Dur("grace", r.grace).Msg("owner disconnected, waiting for reconnect")
			return nil
		}
		if r.mode == domain.ModeStudentPaced {
			r.maybeAutoRevealLocked()
		}
		return nil
	})
}

// Start moves the lobby to the first question.
func (r *Room) Start(by string) error {
	return r.transition(func(now time.Time) error {
		if r.state == domain.StateClosed {
			return domain.ErrRoomClosed
		}
		if err := r.authorizeLocked(by); err != nil {
			return err
		}
		if r.state != domain.StateLobby {
			return domain.ErrAlreadyStarted
		}
		if len(r.questions) == 0 {
			return domain.ErrNoQuestions
		}
		r.index = 0
		r.state = domain.StateActive
		r.lastActivity = now
		r.broadcastQuestionLocked()
		r.log.Info().Int("questions", len(r.questions)).Msg("quiz started")
		return nil
	})
}

// Submit records name's answer to the live question. Correctness is computed here,
// never taken from the client.
func (r *Room) Submit(name, questionID string, value domain.AnswerValue) (domain.AnswerAck, error) {
	var ack domain.AnswerAck
	err := r.transition(func(now time.Time) error {
		switch r.state {
		case domain.StateClosed:
			return domain.ErrRoomClosed
		case domain.StateLobby:
			return domain.ErrQuizNotStarted
		case domain.StateReviewing:
			return domain.ErrQuestionNotLive
		}
		m, ok := r.members[name]
		if !ok || !m.Connected {
			return domain.ErrParticipantNotFound
		}
		if m.Role != domain.RoleStudent {
			return domain.ErrStudentsOnly
		}
		if value.IsZero() {
			return domain.ErrInvalidAnswer
		}

		q := r.questions[r.index]
		if questionID != q.ID {
			for _, other := range r.questions {
				if other.ID == questionID {
					return domain.ErrQuestionNotLive
				}
			}
			return domain.ErrQuestionNotFound
		}

		prev := m.Answers[r.index]
		if prev != nil && !r.allowChange {
			return domain.ErrAlreadyAnswered
		}
		m.Answers[r.index] = &domain.Answer{
			QuestionID:  q.ID,
			Value:       value,
			Correct:     q.Check(value),
			SubmittedAt: now,
		}
		r.lastActivity = now

		ack = domain.AnswerAck{QuestionID: q.ID, Index: r.index, Replaced: prev != nil}
		if err := m.conn.Send(domain.Event{Type: domain.EventAnswerAck, Payload: ack}); err != nil {
			r.log.Debug().Err(err).Str("participant", name).Msg("answer-ack not delivered")
		}

		if r.mode == domain.ModeStudentPaced {
			r.maybeAutoRevealLocked()
		}
		return nil
	})
	return ack, err
}

// Reveal closes the live question and publishes its results.
func (r *Room) Reveal(by string) error {
	return r.transition(func(now time.Time) error {
		if r.state == domain.StateClosed {
			return domain.ErrRoomClosed
		}
		if err := r.authorizeLocked(by); err != nil {
			return err
		}
		switch r.state {
		case domain.StateLobby:
			return domain.ErrQuizNotStarted
		case domain.StateReviewing:
			return domain.ErrQuestionNotLive
		}
		r.lastActivity = now
		r.revealLocked()
		return nil
	})
}

// Next advances from review to the following question, or closes the room after the last one.
func (r *Room) Next(by string) error {
	return r.transition(func(now time.Time) error {
		if r.state == domain.StateClosed {
			return domain.ErrRoomClosed
		}
		if err := r.authorizeLocked(by); err != nil {
			return err
		}
		if r.state != domain.StateReviewing {
			return domain.ErrNotReviewing
		}
		r.lastActivity = now
		r.index++
		if r.index >= len(r.questions) {
			r.closeLocked(domain.CloseFinished)
			return nil
		}
		r.state = domain.StateActive
		r.broadcastQuestionLocked()
		return nil
	})
}

// Close ends the room on the owner's request.
func (r *Room) Close(by string) error {
	return r.transition(func(time.Time) error {
		if r.state == domain.StateClosed {
			return domain.ErrRoomClosed
		}
		if err := r.authorizeLocked(by); err != nil {
			return err
		}
		r.closeLocked(domain.CloseByOwner)
		return nil
	})
}

// terminate closes the room without an owner check; used by the registry.
func (r *Room) terminate(reason string) error {
	return r.transition(func(time.Time) error {
		if r.state == domain.StateClosed {
			return domain.ErrRoomClosed
		}
		r.closeLocked(reason)
		return nil
	})
}

// Broadcast sends typ to every connected participant, building the payload once per role.
func (r *Room) Broadcast(typ domain.EventType, build PayloadBuilder) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == domain.StateClosed {
		return 0
	}
	return fanOut(typ, r.recipientsLocked(nil), build, r.log)
}

// SendTo delivers one event to one connected participant.
func (r *Room) SendTo(name string, typ domain.EventType, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == domain.StateClosed {
		return domain.ErrRoomNotFound
	}
	m, ok := r.members[name]
	if !ok || m.conn == nil {
		return domain.ErrParticipantNotFound
	}
	return m.conn.Send(domain.Event{Type: typ, Payload: payload})
}

// Results returns the current aggregate; the per-student breakdown is only included for privileged roles.
func (r *Room) Results(role domain.Role) domain.Results {
	r.mu.Lock()
	defer r.mu.Unlock()
	return computeResults(r.gradeInputLocked(), role.Privileged())
}

// Snapshot returns what name would see on reconnect.
func (r *Room) Snapshot(name string) (domain.RoomSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[name]
	if !ok {
		return domain.RoomSnapshot{}, domain.ErrParticipantNotFound
	}
	return r.snapshotLocked(m, false), nil
}

// activity is read by the registry sweeper.
func (r *Room) activity() (last, ownerGone time.Time, closed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastActivity, r.ownerGoneAt, r.state == domain.StateClosed
}

func (r *Room) authorizeLocked(by string) error {
	if by == "" || by != r.owner {
		return domain.ErrNotOwner
	}
	if m, ok := r.members[by]; !ok || !m.Connected {
		return domain.ErrNotOwner
	}
	return nil
}

func (r *Room) maybeAutoRevealLocked() {
	if r.state != domain.StateActive {
		return
	}
	students := 0
	for _, m := range r.order {
		if m.Role != domain.RoleStudent || !m.Connected {
			continue
		}
		if m.Answers[r.index] == nil {
			return
		}
		students++
	}
	if students == 0 {
		return
	}
	r.log.Debug().Int("index", r.index).Msg("all connected students answered, revealing")
	r.revealLocked()
}

func (r *Room) revealLocked() {
	r.state = domain.StateReviewing

	full := computeResults(r.gradeInputLocked(), true)
	aggregate := full
	aggregate.Participants = nil
	fanOut(domain.EventLiveResults, r.recipientsLocked(nil), func(role domain.Role) any {
		if role.Privileged() {
			return full
		}
		return aggregate
	}, r.log)

	q := r.questions[r.index]
	for _, m := range r.order {
		if m.Role != domain.RoleStudent || m.conn == nil {
			continue
		}
		res := domain.AnswerResult{QuestionID: q.ID, Index: r.index}
		if a := m.Answers[r.index]; a != nil {
			res.Answered = true
			res.Correct = a.Correct
		}
		if err := m.conn.Send(domain.Event{Type: domain.EventAnswerResult, Payload: res}); err != nil {
			r.log.Debug().Err(err).Str("participant", m.ID).Msg("answer-result not delivered")
		}
	}
}

// closeLocked notifies everyone still connected, then drops all participants.
func (r *Room) closeLocked(reason string) {
	r.cancelGraceLocked()
	r.state = domain.StateClosed
	r.closeReason = reason

	full := computeResults(r.gradeInputLocked(), true)
	aggregate := full
	aggregate.Participants = nil
	fanOut(domain.EventQuizClosed, r.recipientsLocked(nil), func(role domain.Role) any {
		res := aggregate
		if role.Privileged() {
			res = full
		}
		return domain.QuizClosed{RoomID: r.id, Reason: reason, Results: &res}
	}, r.log)

	r.members = make(map[string]*member)
	r.order = nil
	r.log.Info().Str("reason", reason).Msg("room closed")
}

func (r *Room) broadcastQuestionLocked() {
	q := r.questions[r.index]
	idx, total := r.index, len(r.questions)
	fanOut(domain.EventQuestion, r.recipientsLocked(nil), func(role domain.Role) any {
		return domain.QuestionBroadcast{Index: idx, Total: total, Question: sanitize.ForRole(q, role, r.log)}
	}, r.log)
}

func (r *Room) notifyPrivilegedLocked(typ domain.EventType, about *member) {
	notice := domain.ParticipantNotice{Name: about.ID, Role: about.Role, Connected: about.Connected}
	fanOut(typ, r.recipientsLocked(func(m *member) bool {
		return m != about && m.Role.Privileged()
	}), Static(notice), r.log)
}

func (r *Room) recipientsLocked(keep func(*member) bool) []recipient {
	out := make([]recipient, 0, len(r.order))
	for _, m := range r.order {
		if m.conn == nil || (keep != nil && !keep(m)) {
			continue
		}
		out = append(out, recipient{name: m.ID, role: m.Role, conn: m.conn})
	}
	return out
}

func (r *Room) gradeInputLocked() gradeInput {
	in := gradeInput{
		roomID:    r.id,
		questions: r.questions,
		members:   r.order,
		policy:    r.policy,
	}
	switch r.state {
	case domain.StateActive:
		in.released = r.index + 1
		in.revealed = r.index
	case domain.StateReviewing:
		in.released = r.index + 1
		in.revealed = r.index + 1
	case domain.StateClosed:
		in.released = min(r.index+1, len(r.questions))
		in.revealed = in.released
	}
	return in
}

func (r *Room) snapshotLocked(m *member, reconnected bool) domain.RoomSnapshot {
	in := r.gradeInputLocked()
	snap := domain.RoomSnapshot{
		RoomID:        r.id,
		QuizID:        r.quizID,
		State:         r.state,
		Mode:          r.mode,
		QuestionIndex: r.index,
		QuestionCount: len(r.questions),
		Name:          m.ID,
		Role:          m.Role,
		Owner:         m.ID == r.owner,
		Reconnected:   reconnected,
		Answers:       answerViews(m.Answers, in.revealed),
		CreatedAt:     r.createdAt,
	}
	if r.state == domain.StateActive || r.state == domain.StateReviewing {
		q := sanitize.ForRole(r.questions[r.index], m.Role, r.log)
		snap.Question = &q
	}
	if m.Role.Privileged() {
		for _, other := range r.order {
			answered := 0
			for _, a := range other.Answers {
				if a != nil {
					answered++
				}
			}
			snap.Participants = append(snap.Participants, domain.ParticipantSummary{
				Name:      other.ID,
				Role:      other.Role,
				Connected: other.Connected,
				Answered:  answered,
			})
		}
	}
	return snap
}

// startGraceLocked arms the owner reconnect timer. The generation check makes
// a timer that fired concurrently with a reconnect a no-op.
func (r *Room) startGraceLocked() {
	if r.graceTimer != nil {
		r.graceTimer.Stop()
	}
	r.graceGen++
	gen := r.graceGen
	r.graceTimer = time.AfterFunc(r.grace, func() { r.expireGrace(gen) })
}

func (r *Room) cancelGraceLocked() {
	r.graceGen++
	if r.graceTimer != nil {
		r.graceTimer.Stop()
		r.graceTimer = nil
	}
}

func (r *Room) expireGrace(gen uint64) {
	_ = r.transition(func(time.Time) error {
		if gen != r.graceGen || r.state == domain.StateClosed {
			return nil
		}
		if m, ok := r.members[r.owner]; ok && m.Connected {
			return nil
		}
		r.log.Warn().Dur("grace", r.grace).Msg("owner did not reconnect in time")
		r.closeLocked(domain.CloseOwnerTimeout)
		return nil
	})
}
