package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"quiz-room-service/internal/domain"
)

// Classifier turns an optional credential into a role. It never fails outward:
// anything short of a verified credential with a recognized privileged role is a student.
type Classifier struct {
	verifier Verifier
	timeout  time.Duration
	log      zerolog.Logger
}

func NewClassifier(verifier Verifier, timeout time.Duration, log zerolog.Logger) *Classifier {
	return &Classifier{verifier: verifier, timeout: timeout, log: log}
}

// Classify returns the role for credential.
func (c *Classifier) Classify(ctx context.Context, credential string) domain.Role {
	role, _ := c.Resolve(ctx, credential)
	return role
}

// Resolve is Classify that also reports when verification ran out of time,
// so admission can be rejected as retryable instead of silently downgraded.
// The returned role is always usable.
func (c *Classifier) Resolve(ctx context.Context, credential string) (domain.Role, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return domain.RoleStudent, nil
	}
	if c.verifier == nil {
		c.log.Warn().Msg("credential presented but no verifier configured")
		return domain.RoleStudent, nil
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	type result struct {
		claims Claims
		err    error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("verifier panic: %v", r)}
			}
		}()
		claims, err := c.verifier.Verify(ctx, credential)
		done <- result{claims: claims, err: err}
	}()

	select {
	case <-ctx.Done():
		c.log.Warn().Err(ctx.Err()).Msg("credential verification timed out")
		return domain.RoleStudent, domain.ErrJoinTimeout
	case res := <-done:
		if res.err != nil {
			if errors.Is(res.err, context.DeadlineExceeded) || errors.Is(res.err, context.Canceled) {
				c.log.Warn().Err(res.err).Msg("credential verification timed out")
				return domain.RoleStudent, domain.ErrJoinTimeout
			}
			c.log.Debug().Err(res.err).Msg("credential rejected, using student role")
			return domain.RoleStudent, nil
		}
		return c.fromClaims(res.claims), nil
	}
}

func (c *Classifier) fromClaims(claims Claims) domain.Role {
	best := domain.Role("")
	for _, raw := range claims.Roles {
		switch domain.Role(strings.ToLower(strings.TrimSpace(raw))) {
		case domain.RoleAdmin:
			best = domain.RoleAdmin
		case domain.RoleTeacher:
			if best != domain.RoleAdmin {
				best = domain.RoleTeacher
			}
		case domain.RoleStudent:
			if best == "" {
				best = domain.RoleStudent
			}
		}
	}
	if best == "" {
		c.log.Warn().Str("subject", claims.Subject).Strs("roles", claims.Roles).Msg("no recognized role claim, using student role")
		return domain.RoleStudent
	}
	return best
}

// RoleCache holds the role of one connection. The first successful resolution
// sticks; later credentials on the same connection are ignored.
type RoleCache struct {
	mu       sync.Mutex
	role     domain.Role
	resolved bool
}

// Resolve returns the cached role or classifies credential once.
// A timed-out verification is not cached so the client can retry.
func (rc *RoleCache) Resolve(ctx context.Context, c *Classifier, credential string) (domain.Role, error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.resolved {
		return rc.role, nil
	}
	role, err := c.Resolve(ctx, credential)
	if err != nil {
		return role, err
	}
	rc.role = role
	rc.resolved = true
	return role, nil
}

// Role returns the cached role, if any.
func (rc *RoleCache) Role() (domain.Role, bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.role, rc.resolved
}
