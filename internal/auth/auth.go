// Package auth verifies bearer tokens and carries the acting identity
// through request contexts. Issuing tokens to end users happens elsewhere;
// Sign exists for tooling and tests.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Roles recognised by the service.
const (
	RoleStudent = "student"
	RoleAdmin   = "admin"
)

// ErrMissingToken is returned when no bearer token was supplied.
var ErrMissingToken = errors.New("token is required")

// Identity is the authenticated caller.
type Identity struct {
	UserID string
	Role   string
}

// Claims is the JWT payload.
type Claims struct {
	UserID string `json:"uid"`
	Role   string `json:"role,omitempty"`
	jwtlib.RegisteredClaims
}

// Verifier signs and parses HS256 tokens with a shared secret.
type Verifier struct {
	secret []byte
	now    func() time.Time
}

func NewVerifier(secret string) (*Verifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("jwt secret is required")
	}
	return &Verifier{secret: []byte(secret), now: time.Now}, nil
}

// Sign creates a signed token for the given user.
func (v *Verifier) Sign(userID, role string, ttl time.Duration) (string, error) {
	now := v.now()
	claims := Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwtlib.RegisteredClaims{
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwtlib.NewNumericDate(now),
		},
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// Parse validates a raw token (with or without a Bearer prefix) and
// returns the identity it carries.
func (v *Verifier) Parse(raw string) (Identity, error) {
	tokenStr := NormalizeToken(raw)
	if tokenStr == "" {
		return Identity{}, ErrMissingToken
	}
	token, err := jwtlib.ParseWithClaims(tokenStr, &Claims{}, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwtlib.WithTimeFunc(v.now))
	if err != nil {
		return Identity{}, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return Identity{}, errors.New("invalid token")
	}
	role := claims.Role
	if role == "" {
		role = RoleStudent
	}
	return Identity{UserID: claims.UserID, Role: role}, nil
}

// NormalizeToken trims spaces and strips an optional Bearer prefix.
func NormalizeToken(raw string) string {
	token := strings.TrimSpace(raw)
	if token == "" {
		return ""
	}
	if strings.HasPrefix(strings.ToLower(token), "bearer ") {
		return strings.TrimSpace(token[7:])
	}
	return token
}

type ctxKey struct{}

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity stored by WithIdentity.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok && id.UserID != ""
}
