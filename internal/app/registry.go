package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/rs/zerolog"

	"quiz-room-service/internal/domain"
)

// RoomStore abstracts where room identifiers are claimed (in-memory, Redis, etc).
// Claim must be atomic: of two concurrent claims for one id exactly one succeeds,
// the other gets domain.ErrRoomExists.
type RoomStore interface {
	Claim(ctx context.Context, room *Room) error
	Get(id string) (*Room, bool)
	// Release frees id only if it is still held by room.
	Release(ctx context.Context, room *Room)
	List() []*Room
	// Refresh extends the lease of every held id, where leases exist.
	Refresh(ctx context.Context) error
}

// RegistryConfig holds room lifecycle settings.
type RegistryConfig struct {
	GracePeriod   time.Duration
	IdleTimeout   time.Duration
	SweepInterval time.Duration
}

// Registry owns every live room of the process.
type Registry struct {
	store RoomStore
	cfg   RegistryConfig
	now   func() time.Time
	log   zerolog.Logger
}

func NewRegistry(store RoomStore, cfg RegistryConfig, log zerolog.Logger) *Registry {
	return &Registry{store: store, cfg: cfg, now: time.Now, log: log}
}

// NewRegistryWithClock is test-only for deterministic sweeps.
func NewRegistryWithClock(store RoomStore, cfg RegistryConfig, log zerolog.Logger, now func() time.Time) *Registry {
	r := NewRegistry(store, cfg, log)
	r.now = now
	return r
}

const (
	roomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	roomCodeLength   = 6
	roomCodeAttempts = 5
)

// CreateRoom claims spec.ID (or a generated code when empty) and returns the new room.
// A zero GracePeriod is taken from the registry config.
func (r *Registry) CreateRoom(ctx context.Context, spec RoomSpec) (*Room, error) {
	if spec.GracePeriod == 0 {
		spec.GracePeriod = r.cfg.GracePeriod
	}

	if spec.ID != "" {
		return r.claim(ctx, spec)
	}
	for attempt := 0; attempt < roomCodeAttempts; attempt++ {
		code, err := generateRoomCode()
		if err != nil {
			return nil, err
		}
		spec.ID = code
		room, err := r.claim(ctx, spec)
		if errors.Is(err, domain.ErrRoomExists) {
			continue
		}
		return room, err
	}
	return nil, fmt.Errorf("generate room code: %w", domain.ErrRoomExists)
}

func (r *Registry) claim(ctx context.Context, spec RoomSpec) (*Room, error) {
	room := newRoomWithClock(spec, r.now, r.log, r.release)
	if err := r.store.Claim(ctx, room); err != nil {
		return nil, err
	}
	r.log.Info().Str("room_id", room.ID()).Str("quiz_id", room.QuizID()).Str("mode", string(room.Mode())).Str("owner", room.Owner()).Msg("room created")
	return room, nil
}

func (r *Registry) release(room *Room) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	r.store.Release(ctx, room)
}

// GetRoom returns the live room for id.
func (r *Registry) GetRoom(id string) (*Room, bool) {
	room, ok := r.store.Get(id)
	if !ok || room.Closed() {
		return nil, false
	}
	return room, true
}

// CloseRoom force-closes id, notifying everyone still connected.
func (r *Registry) CloseRoom(id, reason string) error {
	room, ok := r.GetRoom(id)
	if !ok {
		return domain.ErrRoomNotFound
	}
	if err := room.terminate(reason); err != nil {
		if errors.Is(err, domain.ErrRoomClosed) {
			return domain.ErrRoomNotFound
		}
		return err
	}
	return nil
}

// Count returns the number of live rooms.
func (r *Registry) Count() int {
	return len(r.store.List())
}

// SweepIdle closes rooms whose owner stayed away past the grace period or that
// saw no activity for the idle timeout. It returns the number of rooms closed.
func (r *Registry) SweepIdle(now time.Time) int {
	closed := 0
	for _, room := range r.store.List() {
		last, ownerGone, isClosed := room.activity()
		if isClosed {
			continue
		}
		reason := ""
		switch {
		case !ownerGone.IsZero() && room.grace > 0 && now.Sub(ownerGone) >= room.grace:
			reason = domain.CloseOwnerTimeout
		case r.cfg.IdleTimeout > 0 && now.Sub(last) >= r.cfg.IdleTimeout:
			reason = domain.CloseIdle
		default:
			continue
		}
		if err := room.terminate(reason); err == nil {
			closed++
		}
	}
	if closed > 0 {
		r.log.Info().Int("closed", closed).Msg("swept rooms")
	}
	return closed
}

// Run sweeps on every tick until ctx is done.
func (r *Registry) Run(ctx context.Context) error {
	interval := r.cfg.SweepInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.SweepIdle(r.now())
			if err := r.store.Refresh(ctx); err != nil {
				r.log.Warn().Err(err).Msg("refresh room leases")
			}
		}
	}
}

// Shutdown closes every live room.
func (r *Registry) Shutdown() {
	rooms := r.store.List()
	for _, room := range rooms {
		_ = room.terminate(domain.CloseShutdown)
	}
	r.log.Info().Int("rooms", len(rooms)).Msg("registry shut down")
}

func generateRoomCode() (string, error) {
	code := make([]byte, roomCodeLength)
	limit := big.NewInt(int64(len(roomCodeAlphabet)))
	for i := range code {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("generate room code: %w", err)
		}
		code[i] = roomCodeAlphabet[n.Int64()]
	}
	return string(code), nil
}
