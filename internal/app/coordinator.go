package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"quiz-room-service/internal/auth"
	"quiz-room-service/internal/domain"
)

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// UsageSampler reports resource usage.
type UsageSampler interface {
	Sample(ctx context.Context) (domain.Usage, error)
}

// CoordinatorConfig holds per-deployment defaults.
type CoordinatorConfig struct {
	JoinTimeout       time.Duration
	AllowAnswerChange bool
}

// Coordinator contains the use cases driven by connections: admission,
// room control and answer collection.
type Coordinator struct {
	registry   *Registry
	quizzes    QuizRepository
	classifier *auth.Classifier
	usage      UsageSampler
	cfg        CoordinatorConfig
	log        zerolog.Logger
	peers      atomic.Int64
}

func NewCoordinator(registry *Registry, quizzes QuizRepository, classifier *auth.Classifier, usage UsageSampler, cfg CoordinatorConfig, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		registry:   registry,
		quizzes:    quizzes,
		classifier: classifier,
		usage:      usage,
		cfg:        cfg,
		log:        log,
	}
}

// Peer is the coordinator's view of one connection: its transport handle,
// its role (resolved once) and the room it currently sits in.
type Peer struct {
	conn       Conn
	credential string
	roles      auth.RoleCache

	mu     sync.Mutex
	roomID string
	name   string
}

// Connect registers a new connection. credential is what the transport saw at
// upgrade time and may be empty.
func (c *Coordinator) Connect(conn Conn, credential string) *Peer {
	c.peers.Add(1)
	return &Peer{conn: conn, credential: credential}
}

// Connections returns the number of connected peers.
func (c *Coordinator) Connections() int64 { return c.peers.Load() }

// Room returns the room id and participant name the peer is bound to.
func (p *Peer) Room() (roomID, name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.roomID, p.name
}

func (p *Peer) bind(roomID, name string) {
	p.mu.Lock()
	p.roomID, p.name = roomID, name
	p.mu.Unlock()
}

func (p *Peer) unbind(roomID string) {
	p.mu.Lock()
	if p.roomID == roomID {
		p.roomID, p.name = "", ""
	}
	p.mu.Unlock()
}

// Role returns the resolved role, or student if none was resolved yet.
func (p *Peer) Role() domain.Role {
	if role, ok := p.roles.Role(); ok {
		return role
	}
	return domain.RoleStudent
}

// admit resolves the peer's role under the join timeout. credential, when
// given, is used only if the connection has no role yet.
func (c *Coordinator) admit(ctx context.Context, p *Peer, credential string) (domain.Role, error) {
	if c.cfg.JoinTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.JoinTimeout)
		defer cancel()
	}
	if credential == "" {
		credential = p.credential
	}
	role, err := p.roles.Resolve(ctx, c.classifier, credential)
	if err != nil {
		return "", err
	}
	if ctx.Err() != nil {
		return "", domain.ErrJoinTimeout
	}
	return role, nil
}

// CreateRoomRequest is the create-room input.
type CreateRoomRequest struct {
	RoomID            string
	QuizID            string
	Name              string
	Mode              domain.Mode
	AllowAnswerChange *bool
	Credential        string
}

// CreateRoom opens a room owned by the caller and joins the caller to it.
func (c *Coordinator) CreateRoom(ctx context.Context, p *Peer, req CreateRoomRequest) (domain.RoomSnapshot, error) {
	role, err := c.admit(ctx, p, req.Credential)
	if err != nil {
		return domain.RoomSnapshot{}, err
	}
	if !role.Privileged() {
		return domain.RoomSnapshot{}, domain.ErrPrivilegedOnly
	}

	quiz, err := c.loadQuiz(ctx, req.QuizID)
	if err != nil {
		return domain.RoomSnapshot{}, err
	}

	allowChange := c.cfg.AllowAnswerChange
	if req.AllowAnswerChange != nil {
		allowChange = *req.AllowAnswerChange
	}
	room, err := c.registry.CreateRoom(ctx, RoomSpec{
		ID:                req.RoomID,
		Quiz:              quiz,
		Owner:             req.Name,
		Mode:              req.Mode,
		AllowAnswerChange: allowChange,
		GradePolicy:       DefaultGradePolicy,
		awaitOwner:        true,
	})
	if err != nil {
		return domain.RoomSnapshot{}, err
	}

	c.leaveCurrent(p)
	_ = p.conn.Send(domain.Event{Type: domain.EventRoomCreated, Payload: map[string]string{
		"roomId": room.ID(),
		"quizId": room.QuizID(),
	}})
	snap, err := room.joinOwner(role, p.conn)
	if err != nil {
		_ = room.terminate(domain.CloseByOwner)
		return domain.RoomSnapshot{}, err
	}
	p.bind(room.ID(), req.Name)
	return snap, nil
}

// loadQuiz bounds the quiz source by the join timeout so a stalled backend
// cannot hold the connection's read loop.
func (c *Coordinator) loadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	if c.cfg.JoinTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.JoinTimeout)
		defer cancel()
	}

	type result struct {
		quiz domain.Quiz
		err  error
	}
	done := make(chan result, 1)
	go func() {
		quiz, err := c.quizzes.GetQuiz(ctx, quizID)
		done <- result{quiz: quiz, err: err}
	}()

	var res result
	select {
	case <-ctx.Done():
		res.err = ctx.Err()
	case res = <-done:
	}
	switch {
	case res.err == nil:
		return res.quiz, nil
	case errors.Is(res.err, domain.ErrQuizNotFound):
		return domain.Quiz{}, res.err
	case errors.Is(res.err, context.DeadlineExceeded):
		c.log.Warn().Err(res.err).Str("quiz_id", quizID).Msg("quiz load timed out")
		return domain.Quiz{}, domain.ErrJoinTimeout
	default:
		return domain.Quiz{}, fmt.Errorf("load quiz %s: %w", quizID, res.err)
	}
}

// Join admits the caller into roomID as name.
func (c *Coordinator) Join(ctx context.Context, p *Peer, roomID, name, credential string) (domain.RoomSnapshot, error) {
	role, err := c.admit(ctx, p, credential)
	if err != nil {
		c.log.Warn().Err(err).Str("room_id", roomID).Msg("admission failed")
		return domain.RoomSnapshot{}, err
	}

	room, ok := c.registry.GetRoom(roomID)
	if !ok {
		return domain.RoomSnapshot{}, domain.ErrRoomNotFound
	}
	if current, currentName := p.Room(); current == roomID && currentName == name {
		snap, err := room.Snapshot(name)
		if err != nil {
			return domain.RoomSnapshot{}, err
		}
		return snap, p.conn.Send(domain.Event{Type: domain.EventJoinSuccess, Payload: snap})
	}

	c.leaveCurrent(p)
	snap, err := room.Join(name, role, p.conn)
	if err != nil {
		return domain.RoomSnapshot{}, err
	}
	p.bind(roomID, name)
	return snap, nil
}

func (c *Coordinator) current(p *Peer) (*Room, string, error) {
	roomID, name := p.Room()
	if roomID == "" {
		return nil, "", domain.ErrNotInRoom
	}
	room, ok := c.registry.GetRoom(roomID)
	if !ok {
		p.unbind(roomID)
		return nil, "", domain.ErrRoomNotFound
	}
	return room, name, nil
}

func (c *Coordinator) Start(p *Peer) error {
	room, name, err := c.current(p)
	if err != nil {
		return err
	}
	return room.Start(name)
}

func (c *Coordinator) Submit(p *Peer, questionID string, value domain.AnswerValue) (domain.AnswerAck, error) {
	room, name, err := c.current(p)
	if err != nil {
		return domain.AnswerAck{}, err
	}
	return room.Submit(name, questionID, value)
}

func (c *Coordinator) Reveal(p *Peer) error {
	room, name, err := c.current(p)
	if err != nil {
		return err
	}
	return room.Reveal(name)
}

func (c *Coordinator) Next(p *Peer) error {
	room, name, err := c.current(p)
	if err != nil {
		return err
	}
	return room.Next(name)
}

// Close ends the caller's room; only its owner may do so.
func (c *Coordinator) Close(p *Peer) error {
	room, name, err := c.current(p)
	if err != nil {
		return err
	}
	if err := room.Close(name); err != nil {
		return err
	}
	p.unbind(room.ID())
	return nil
}

// Results returns the live results of the caller's room, filtered for its role.
func (c *Coordinator) Results(p *Peer) (domain.Results, error) {
	room, _, err := c.current(p)
	if err != nil {
		return domain.Results{}, err
	}
	return room.Results(p.Role()), nil
}

// Leave detaches the caller from its room on request and confirms with a left event.
func (c *Coordinator) Leave(p *Peer) error {
	roomID, _ := p.Room()
	if roomID == "" {
		return domain.ErrNotInRoom
	}
	c.leaveCurrent(p)
	return p.conn.Send(domain.Event{Type: domain.EventLeft, Payload: map[string]string{"roomId": roomID}})
}

// Disconnect is called by the transport once the connection is gone.
func (c *Coordinator) Disconnect(p *Peer) {
	c.leaveCurrent(p)
	c.peers.Add(-1)
}

func (c *Coordinator) leaveCurrent(p *Peer) {
	roomID, name := p.Room()
	if roomID == "" {
		return
	}
	p.unbind(roomID)
	room, ok := c.registry.GetRoom(roomID)
	if !ok {
		return
	}
	if err := room.Leave(name, p.conn); err != nil && !errors.Is(err, domain.ErrRoomClosed) {
		c.log.Debug().Err(err).Str("room_id", roomID).Str("participant", name).Msg("leave")
	}
}

// Broadcast fans an event out to roomID, building one payload per role present.
func (c *Coordinator) Broadcast(roomID string, typ domain.EventType, build PayloadBuilder) error {
	room, ok := c.registry.GetRoom(roomID)
	if !ok {
		return domain.ErrRoomNotFound
	}
	room.Broadcast(typ, build)
	return nil
}

// SendTo delivers a targeted event to one participant of roomID.
func (c *Coordinator) SendTo(roomID, name string, typ domain.EventType, payload any) error {
	room, ok := c.registry.GetRoom(roomID)
	if !ok {
		return domain.ErrRoomNotFound
	}
	return room.SendTo(name, typ, payload)
}

// Usage samples resource usage. Only teachers and admins may ask over the socket.
func (c *Coordinator) Usage(ctx context.Context, p *Peer) (domain.Usage, error) {
	if p != nil && !p.Role().Privileged() {
		return domain.Usage{}, domain.ErrPrivilegedOnly
	}
	return c.Snapshot(ctx)
}

// Snapshot samples resource usage together with room and connection counts.
func (c *Coordinator) Snapshot(ctx context.Context) (domain.Usage, error) {
	var u domain.Usage
	if c.usage != nil {
		sampled, err := c.usage.Sample(ctx)
		if err != nil {
			return domain.Usage{}, err
		}
		u = sampled
	}
	if u.SampledAt.IsZero() {
		u.SampledAt = time.Now()
	}
	u.Rooms = c.registry.Count()
	u.Connections = c.peers.Load()
	return u, nil
}
