// internal/identity/token.go
package identity

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"fitjourney/internal/apperr"
)

// Claims is the signed token payload.
type Claims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies HS256 access tokens.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// NewTokenIssuer builds an issuer. An empty secret is replaced with 32 random
// bytes, which invalidates tokens across restarts.
func NewTokenIssuer(secret string, ttl time.Duration, issuer string) (*TokenIssuer, error) {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("failed to generate token secret: %w", err)
		}
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("token ttl must be positive")
	}
	return &TokenIssuer{secret: key, ttl: ttl, issuer: issuer, now: time.Now}, nil
}

// WithClock replaces the time source. Used by tests.
func (t *TokenIssuer) WithClock(now func() time.Time) *TokenIssuer {
	t.now = now
	return t
}

// TTL returns the lifetime of issued tokens.
func (t *TokenIssuer) TTL() time.Duration { return t.ttl }

// Issue signs a token for id that expires TTL from now.
func (t *TokenIssuer) Issue(id *Identity) (*Token, error) {
	now := t.now().Truncate(time.Second)
	expiresAt := now.Add(t.ttl)

	claims := Claims{
		UserID:   id.ID.String(),
		Username: id.Username,
		Role:     id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.Username,
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return &Token{Token: signed, ExpiresAt: expiresAt, Role: id.Role}, nil
}

// Validate verifies the signature and expiry of raw and returns the identity
// it carries. A token is expired once the clock reaches its exp claim.
func (t *TokenIssuer) Validate(raw string) (*Principal, error) {
	if raw == "" {
		return nil, apperr.New(apperr.ErrTokenInvalid, "missing token")
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperr.New(apperr.ErrTokenExpired, "token expired")
		}
		return nil, apperr.New(apperr.ErrTokenInvalid, "token invalid")
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, apperr.New(apperr.ErrTokenInvalid, "token invalid")
	}
	role, ok := ParseRole(string(claims.Role))
	if !ok || claims.Username == "" {
		return nil, apperr.New(apperr.ErrTokenInvalid, "token invalid")
	}

	return &Principal{UserID: userID, Username: claims.Username, Role: role}, nil
}
