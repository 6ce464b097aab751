package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"quiz-room-service/internal/domain"
)

// ErrInvalidToken covers every signature, expiry and format failure.
var ErrInvalidToken = errors.New("invalid token")

// Claims is what the coordinator needs from a verified credential.
type Claims struct {
	Subject string
	Roles   []string
}

// Verifier checks a bearer credential.
type Verifier interface {
	Verify(ctx context.Context, token string) (Claims, error)
}

// tokenClaims accepts both the "roles" array and the older single "role" string.
type tokenClaims struct {
	Roles []string `json:"roles,omitempty"`
	Role  string   `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier validates HS256 tokens signed with a shared secret.
type JWTVerifier struct {
	secret []byte
	parser *jwt.Parser
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{
		secret: []byte(secret),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}
}

func (v *JWTVerifier) Verify(ctx context.Context, token string) (Claims, error) {
	if err := ctx.Err(); err != nil {
		return Claims{}, err
	}
	if len(v.secret) == 0 {
		return Claims{}, fmt.Errorf("%w: no secret configured", ErrInvalidToken)
	}

	parsed, err := v.parser.ParseWithClaims(token, &tokenClaims{}, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	tc, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}

	roles := append([]string{}, tc.Roles...)
	if tc.Role != "" {
		roles = append(roles, tc.Role)
	}
	return Claims{Subject: tc.Subject, Roles: roles}, nil
}

// Issuer signs tokens for local testing; production tokens come from the identity service.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue returns a signed token carrying subject and roles.
func (i *Issuer) Issue(subject string, roles ...domain.Role) (string, error) {
	if len(i.secret) == 0 {
		return "", errors.New("jwt secret not configured")
	}
	now := i.now()
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  subject,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if i.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(i.ttl))
	}
	for _, r := range roles {
		claims.Roles = append(claims.Roles, string(r))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}
