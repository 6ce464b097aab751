package app_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quiz-room-service/internal/app"
	"quiz-room-service/internal/app/apptest"
	"quiz-room-service/internal/auth"
	"quiz-room-service/internal/domain"
	"quiz-room-service/internal/infra/memory"
)

const secret = "test-secret"

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID:    "quiz-1",
		Title: "Arithmetic",
		Questions: []domain.Question{
			{
				ID:   "q1",
				Kind: domain.KindMultipleChoice,
				Stem: "What is 2 + 2?",
				Options: []domain.Option{
					{ID: "o1", Text: "3"},
					{ID: "o2", Text: "4", Correct: true},
				},
			},
			{
				ID:   "q2",
				Kind: domain.KindMultipleChoice,
				Stem: "What is 3 + 3?",
				Options: []domain.Option{
					{ID: "o1", Text: "6", Correct: true},
					{ID: "o2", Text: "7"},
				},
			},
		},
	}
}

type harness struct {
	registry    *app.Registry
	coordinator *app.Coordinator
	issuer      *auth.Issuer
}

func newHarness(t *testing.T, verifier auth.Verifier, joinTimeout time.Duration) *harness {
	t.Helper()
	if verifier == nil {
		verifier = auth.NewJWTVerifier(secret)
	}
	log := zerolog.Nop()
	registry := app.NewRegistry(memory.NewRoomStore(), app.RegistryConfig{GracePeriod: time.Minute}, log)
	quizzes := memory.NewQuizRepository(memory.NewStaticQuizLoader(map[string]domain.Quiz{"quiz-1": sampleQuiz()}), time.Minute)
	classifier := auth.NewClassifier(verifier, time.Second, log)
	return &harness{
		registry:    registry,
		coordinator: app.NewCoordinator(registry, quizzes, classifier, nil, app.CoordinatorConfig{JoinTimeout: joinTimeout}, log),
		issuer:      auth.NewIssuer(secret, time.Hour),
	}
}

func (h *harness) token(t *testing.T, subject string, roles ...domain.Role) string {
	t.Helper()
	tok, err := h.issuer.Issue(subject, roles...)
	require.NoError(t, err)
	return tok
}

func (h *harness) teacherRoom(t *testing.T) (*app.Peer, *apptest.Conn, string) {
	t.Helper()
	conn := apptest.NewConn("c-teacher")
	peer := h.coordinator.Connect(conn, h.token(t, "t-1", domain.RoleTeacher))
	snap, err := h.coordinator.CreateRoom(context.Background(), peer, app.CreateRoomRequest{QuizID: "quiz-1", Name: "Ms Smith"})
	require.NoError(t, err)
	require.True(t, snap.Owner)
	return peer, conn, snap.RoomID
}

func (h *harness) student(t *testing.T, roomID, name string) (*app.Peer, *apptest.Conn) {
	t.Helper()
	conn := apptest.NewConn("c-" + name)
	peer := h.coordinator.Connect(conn, "")
	_, err := h.coordinator.Join(context.Background(), peer, roomID, name, "")
	require.NoError(t, err)
	return peer, conn
}

func TestCoordinatorFullSession(t *testing.T) {
	h := newHarness(t, nil, time.Second)
	teacher, teacherConn, roomID := h.teacherRoom(t)
	assert.Len(t, roomID, 6)

	created, ok := teacherConn.Last(domain.EventRoomCreated)
	require.True(t, ok)
	assert.Equal(t, roomID, created.Payload.(map[string]string)["roomId"])

	alice, aliceConn := h.student(t, roomID, "alice")
	bob, _ := h.student(t, roomID, "bob")
	assert.Len(t, teacherConn.OfType(domain.EventParticipantJoined), 2)

	require.NoError(t, h.coordinator.Start(teacher))

	q, ok := aliceConn.Last(domain.EventQuestion)
	require.True(t, ok)
	for _, opt := range q.Payload.(domain.QuestionBroadcast).Question.Options {
		assert.False(t, opt.Correct)
	}
	tq, _ := teacherConn.Last(domain.EventQuestion)
	assert.True(t, tq.Payload.(domain.QuestionBroadcast).Question.Options[1].Correct)

	_, err := h.coordinator.Submit(alice, "q1", domain.TextValue("o2"))
	require.NoError(t, err)
	_, err = h.coordinator.Submit(bob, "q1", domain.TextValue("o1"))
	require.NoError(t, err)
	_, err = h.coordinator.Submit(teacher, "q1", domain.TextValue("o2"))
	assert.ErrorIs(t, err, domain.ErrStudentsOnly)

	require.NoError(t, h.coordinator.Reveal(teacher))
	res, ok := aliceConn.Last(domain.EventAnswerResult)
	require.True(t, ok)
	assert.True(t, res.Payload.(domain.AnswerResult).Correct)

	results, err := h.coordinator.Results(teacher)
	require.NoError(t, err)
	assert.Len(t, results.Participants, 2)
	studentView, err := h.coordinator.Results(alice)
	require.NoError(t, err)
	assert.Empty(t, studentView.Participants)

	require.NoError(t, h.coordinator.Next(teacher))
	require.NoError(t, h.coordinator.Reveal(teacher))
	require.NoError(t, h.coordinator.Next(teacher))

	closed, ok := aliceConn.Last(domain.EventQuizClosed)
	require.True(t, ok)
	assert.Equal(t, domain.CloseFinished, closed.Payload.(domain.QuizClosed).Reason)
	assert.Equal(t, 0, h.registry.Count())

	assert.ErrorIs(t, h.coordinator.Start(teacher), domain.ErrRoomNotFound)
}

func TestCoordinatorCreateRoomRequiresPrivilege(t *testing.T) {
	h := newHarness(t, nil, time.Second)

	peer := h.coordinator.Connect(apptest.NewConn("c-1"), h.token(t, "s-1", domain.RoleStudent))
	_, err := h.coordinator.CreateRoom(context.Background(), peer, app.CreateRoomRequest{QuizID: "quiz-1", Name: "eve"})
	assert.ErrorIs(t, err, domain.ErrPrivilegedOnly)

	anon := h.coordinator.Connect(apptest.NewConn("c-2"), "")
	_, err = h.coordinator.CreateRoom(context.Background(), anon, app.CreateRoomRequest{QuizID: "quiz-1", Name: "eve"})
	assert.ErrorIs(t, err, domain.ErrPrivilegedOnly)

	admin := h.coordinator.Connect(apptest.NewConn("c-3"), h.token(t, "a-1", domain.RoleAdmin))
	_, err = h.coordinator.CreateRoom(context.Background(), admin, app.CreateRoomRequest{QuizID: "missing", Name: "root"})
	assert.ErrorIs(t, err, domain.ErrQuizNotFound)
	assert.Equal(t, 0, h.registry.Count())
}

func TestCoordinatorCreateRoomWithRequestedID(t *testing.T) {
	h := newHarness(t, nil, time.Second)
	allow := true

	first := h.coordinator.Connect(apptest.NewConn("c-1"), h.token(t, "t-1", domain.RoleTeacher))
	snap, err := h.coordinator.CreateRoom(context.Background(), first, app.CreateRoomRequest{
		RoomID: "MATH1", QuizID: "quiz-1", Name: "a", Mode: domain.ModeStudentPaced, AllowAnswerChange: &allow,
	})
	require.NoError(t, err)
	assert.Equal(t, "MATH1", snap.RoomID)
	assert.Equal(t, domain.ModeStudentPaced, snap.Mode)

	second := h.coordinator.Connect(apptest.NewConn("c-2"), h.token(t, "t-2", domain.RoleTeacher))
	_, err = h.coordinator.CreateRoom(context.Background(), second, app.CreateRoomRequest{RoomID: "MATH1", QuizID: "quiz-1", Name: "b"})
	assert.ErrorIs(t, err, domain.ErrRoomExists)
}

func TestCoordinatorJoinErrors(t *testing.T) {
	h := newHarness(t, nil, time.Second)
	_, _, roomID := h.teacherRoom(t)

	peer := h.coordinator.Connect(apptest.NewConn("c-x"), "")
	_, err := h.coordinator.Join(context.Background(), peer, "NOPE00", "alice", "")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)

	h.student(t, roomID, "alice")
	_, err = h.coordinator.Join(context.Background(), peer, roomID, "alice", "")
	assert.ErrorIs(t, err, domain.ErrNameTaken)

	_, err = h.coordinator.Join(context.Background(), peer, roomID, "Ms Smith", "")
	assert.ErrorIs(t, err, domain.ErrNameTaken)

	colleague := h.coordinator.Connect(apptest.NewConn("c-colleague"), h.token(t, "t-2", domain.RoleTeacher))
	_, err = h.coordinator.Join(context.Background(), colleague, roomID, "Ms Smith", "")
	assert.ErrorIs(t, err, domain.ErrOwnerOnline)
}

func TestCoordinatorJoinTwiceReplaysState(t *testing.T) {
	h := newHarness(t, nil, time.Second)
	_, _, roomID := h.teacherRoom(t)
	peer, conn := h.student(t, roomID, "alice")

	snap, err := h.coordinator.Join(context.Background(), peer, roomID, "alice", "")
	require.NoError(t, err)
	assert.Equal(t, "alice", snap.Name)
	assert.Len(t, conn.OfType(domain.EventJoinSuccess), 2)
}

func TestCoordinatorJoinSwitchesRooms(t *testing.T) {
	h := newHarness(t, nil, time.Second)
	_, firstTeacher, first := h.teacherRoom(t)
	_, _, second := h.teacherRoom(t)

	peer, _ := h.student(t, first, "alice")
	_, err := h.coordinator.Join(context.Background(), peer, second, "alice", "")
	require.NoError(t, err)

	roomID, name := peer.Room()
	assert.Equal(t, second, roomID)
	assert.Equal(t, "alice", name)

	left, ok := firstTeacher.Last(domain.EventParticipantLeft)
	require.True(t, ok)
	assert.Equal(t, "alice", left.Payload.(domain.ParticipantNotice).Name)
}

type blockingVerifier struct{}

func (blockingVerifier) Verify(ctx context.Context, _ string) (auth.Claims, error) {
	<-ctx.Done()
	return auth.Claims{}, ctx.Err()
}

func TestCoordinatorJoinTimeout(t *testing.T) {
	h := newHarness(t, blockingVerifier{}, 20*time.Millisecond)

	peer := h.coordinator.Connect(apptest.NewConn("c-1"), "slow-token")
	_, err := h.coordinator.Join(context.Background(), peer, "ANY123", "alice", "")
	require.ErrorIs(t, err, domain.ErrJoinTimeout)
	assert.True(t, domain.Retryable(err))
	roomID, _ := peer.Room()
	assert.Empty(t, roomID)
}

type hangingQuizzes struct{ release chan struct{} }

func (q hangingQuizzes) GetQuiz(context.Context, string) (domain.Quiz, error) {
	<-q.release
	return domain.Quiz{}, domain.ErrQuizNotFound
}

func TestCoordinatorCreateRoomQuizLoadTimeout(t *testing.T) {
	log := zerolog.Nop()
	quizzes := hangingQuizzes{release: make(chan struct{})}
	t.Cleanup(func() { close(quizzes.release) })
	registry := app.NewRegistry(memory.NewRoomStore(), app.RegistryConfig{GracePeriod: time.Minute}, log)
	classifier := auth.NewClassifier(auth.NewJWTVerifier(secret), time.Second, log)
	coordinator := app.NewCoordinator(registry, quizzes, classifier, nil, app.CoordinatorConfig{JoinTimeout: 20 * time.Millisecond}, log)

	tok, err := auth.NewIssuer(secret, time.Hour).Issue("t-1", domain.RoleTeacher)
	require.NoError(t, err)
	peer := coordinator.Connect(apptest.NewConn("c-teacher"), tok)

	start := time.Now()
	_, err = coordinator.CreateRoom(context.Background(), peer, app.CreateRoomRequest{QuizID: "quiz-1", Name: "Ms Smith"})
	require.ErrorIs(t, err, domain.ErrJoinTimeout)
	assert.True(t, domain.Retryable(err))
	assert.Less(t, time.Since(start), time.Second)
	assert.Zero(t, registry.Count())
}

func TestCoordinatorLeaveAndDisconnect(t *testing.T) {
	h := newHarness(t, nil, time.Second)
	teacher, teacherConn, roomID := h.teacherRoom(t)
	alice, aliceConn := h.student(t, roomID, "alice")

	require.NoError(t, h.coordinator.Leave(alice))
	_, ok := aliceConn.Last(domain.EventLeft)
	assert.True(t, ok)
	assert.ErrorIs(t, h.coordinator.Leave(alice), domain.ErrNotInRoom)
	assert.ErrorIs(t, h.coordinator.Start(alice), domain.ErrNotInRoom)

	assert.EqualValues(t, 2, h.coordinator.Connections())
	h.coordinator.Disconnect(alice)
	assert.EqualValues(t, 1, h.coordinator.Connections())

	h.coordinator.Disconnect(teacher)
	left, ok := teacherConn.Last(domain.EventParticipantLeft)
	require.True(t, ok)
	assert.Equal(t, "alice", left.Payload.(domain.ParticipantNotice).Name)
	assert.Equal(t, 1, h.registry.Count(), "room waits for the owner during the grace period")
}

func TestCoordinatorCloseByOwnerOnly(t *testing.T) {
	h := newHarness(t, nil, time.Second)
	teacher, _, roomID := h.teacherRoom(t)
	alice, aliceConn := h.student(t, roomID, "alice")

	assert.ErrorIs(t, h.coordinator.Close(alice), domain.ErrNotOwner)
	require.NoError(t, h.coordinator.Close(teacher))

	closed, ok := aliceConn.Last(domain.EventQuizClosed)
	require.True(t, ok)
	assert.Equal(t, domain.CloseByOwner, closed.Payload.(domain.QuizClosed).Reason)
	_, ok = h.registry.GetRoom(roomID)
	assert.False(t, ok)
}

func TestCoordinatorBroadcastAndSendTo(t *testing.T) {
	h := newHarness(t, nil, time.Second)
	_, teacherConn, roomID := h.teacherRoom(t)
	_, aliceConn := h.student(t, roomID, "alice")

	require.NoError(t, h.coordinator.Broadcast(roomID, "announcement", func(role domain.Role) any { return string(role) }))
	got, ok := teacherConn.Last("announcement")
	require.True(t, ok)
	assert.Equal(t, "teacher", got.Payload)
	got, ok = aliceConn.Last("announcement")
	require.True(t, ok)
	assert.Equal(t, "student", got.Payload)

	require.NoError(t, h.coordinator.SendTo(roomID, "alice", "nudge", "hurry"))
	_, ok = aliceConn.Last("nudge")
	assert.True(t, ok)

	assert.ErrorIs(t, h.coordinator.SendTo(roomID, "nobody", "nudge", nil), domain.ErrParticipantNotFound)
	assert.ErrorIs(t, h.coordinator.Broadcast("NOPE00", "x", app.Static(1)), domain.ErrRoomNotFound)
}

type fixedSampler struct{ usage domain.Usage }

func (s fixedSampler) Sample(context.Context) (domain.Usage, error) { return s.usage, nil }

func TestCoordinatorUsage(t *testing.T) {
	log := zerolog.Nop()
	registry := app.NewRegistry(memory.NewRoomStore(), app.RegistryConfig{}, log)
	quizzes := memory.NewQuizRepository(memory.NewStaticQuizLoader(map[string]domain.Quiz{"quiz-1": sampleQuiz()}), time.Minute)
	classifier := auth.NewClassifier(auth.NewJWTVerifier(secret), time.Second, log)
	c := app.NewCoordinator(registry, quizzes, classifier, fixedSampler{domain.Usage{Goroutines: 7}}, app.CoordinatorConfig{}, log)
	issuer := auth.NewIssuer(secret, time.Hour)

	tok, err := issuer.Issue("t-1", domain.RoleTeacher)
	require.NoError(t, err)
	teacher := c.Connect(apptest.NewConn("c-1"), tok)
	_, err = c.CreateRoom(context.Background(), teacher, app.CreateRoomRequest{QuizID: "quiz-1", Name: "t"})
	require.NoError(t, err)

	usage, err := c.Usage(context.Background(), teacher)
	require.NoError(t, err)
	assert.Equal(t, 7, usage.Goroutines)
	assert.Equal(t, 1, usage.Rooms)
	assert.EqualValues(t, 1, usage.Connections)
	assert.False(t, usage.SampledAt.IsZero())

	student := c.Connect(apptest.NewConn("c-2"), "")
	_, err = c.Usage(context.Background(), student)
	assert.ErrorIs(t, err, domain.ErrPrivilegedOnly)
}

func TestRegistrySweepIdle(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(d)
		return now
	}

	registry := app.NewRegistryWithClock(memory.NewRoomStore(), app.RegistryConfig{
		GracePeriod: time.Hour,
		IdleTimeout: 10 * time.Minute,
	}, zerolog.Nop(), clock)

	busy, err := registry.CreateRoom(context.Background(), app.RoomSpec{ID: "BUSY01", Quiz: sampleQuiz(), Owner: "t"})
	require.NoError(t, err)
	idle, err := registry.CreateRoom(context.Background(), app.RoomSpec{ID: "IDLE01", Quiz: sampleQuiz(), Owner: "t"})
	require.NoError(t, err)
	orphan, err := registry.CreateRoom(context.Background(), app.RoomSpec{ID: "ORPH01", Quiz: sampleQuiz(), Owner: "t"})
	require.NoError(t, err)

	busyConn, idleConn, orphanConn := apptest.NewConn("c-1"), apptest.NewConn("c-2"), apptest.NewConn("c-3")
	_, err = busy.Join("t", domain.RoleTeacher, busyConn)
	require.NoError(t, err)
	_, err = idle.Join("t", domain.RoleTeacher, idleConn)
	require.NoError(t, err)
	_, err = orphan.Join("t", domain.RoleTeacher, orphanConn)
	require.NoError(t, err)
	_, err = orphan.Join("s", domain.RoleStudent, apptest.NewConn("c-4"))
	require.NoError(t, err)

	advance(5 * time.Minute)
	require.NoError(t, orphan.Leave("t", orphanConn))
	assert.Equal(t, 0, registry.SweepIdle(clock()))

	advance(6 * time.Minute)
	require.NoError(t, busy.Start("t"))
	assert.Equal(t, 1, registry.SweepIdle(clock()))
	assert.Equal(t, domain.CloseIdle, idle.CloseReason())
	assert.False(t, busy.Closed())
	assert.False(t, orphan.Closed())

	later := advance(time.Hour)
	require.NoError(t, busy.Reveal("t"))
	assert.Equal(t, 1, registry.SweepIdle(later))
	assert.Equal(t, domain.CloseOwnerTimeout, orphan.CloseReason())

	closed, ok := idleConn.Last(domain.EventQuizClosed)
	require.True(t, ok)
	assert.Equal(t, domain.CloseIdle, closed.Payload.(domain.QuizClosed).Reason)
}

func TestRegistryCloseRoomAndShutdown(t *testing.T) {
	registry := app.NewRegistry(memory.NewRoomStore(), app.RegistryConfig{}, zerolog.Nop())

	a, err := registry.CreateRoom(context.Background(), app.RoomSpec{Quiz: sampleQuiz(), Owner: "t"})
	require.NoError(t, err)
	b, err := registry.CreateRoom(context.Background(), app.RoomSpec{Quiz: sampleQuiz(), Owner: "t"})
	require.NoError(t, err)
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Regexp(t, `^[A-HJ-NP-Z2-9]{6}$`, a.ID())
	assert.Equal(t, 2, registry.Count())

	require.NoError(t, registry.CloseRoom(a.ID(), domain.CloseByOwner))
	assert.ErrorIs(t, registry.CloseRoom(a.ID(), domain.CloseByOwner), domain.ErrRoomNotFound)
	assert.Equal(t, 1, registry.Count())

	conn := apptest.NewConn("c-1")
	_, err = b.Join("t", domain.RoleTeacher, conn)
	require.NoError(t, err)
	registry.Shutdown()
	assert.Equal(t, 0, registry.Count())
	closed, ok := conn.Last(domain.EventQuizClosed)
	require.True(t, ok)
	assert.Equal(t, domain.CloseShutdown, closed.Payload.(domain.QuizClosed).Reason)
}

func TestRegistryConcurrentCreateOneWinner(t *testing.T) {
	registry := app.NewRegistry(memory.NewRoomStore(), app.RegistryConfig{}, zerolog.Nop())

	const n = 16
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := registry.CreateRoom(context.Background(), app.RoomSpec{ID: "SAME01", Quiz: sampleQuiz(), Owner: "t"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	wins := 0
	for err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrRoomExists)
	}
	assert.Equal(t, 1, wins)
}
