// Package stepup issues and checks the short-lived tokens that unlock a
// document's raw storage URL, and remembers which ones were already spent.
package stepup

import (
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/and161185/docvault/internal/errs"
	"github.com/and161185/docvault/internal/ids"
	"github.com/and161185/docvault/internal/model"
)

// Audience separates step-up tokens from access tokens signed with the same key.
const Audience = "docvault.stepup"

// MaxTTL is the longest lifetime a step-up token may have.
const MaxTTL = 120 * time.Second

// Claims are the verified contents of a step-up token.
type Claims struct {
	UserID    uuid.UUID
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Tokens signs and verifies step-up tokens with HS256.
type Tokens struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewTokens constructs a token codec. ttl is clamped to (0, MaxTTL].
func NewTokens(key []byte, ttl time.Duration) *Tokens {
	if ttl <= 0 || ttl > MaxTTL {
		ttl = MaxTTL
	}
	return &Tokens{key: key, ttl: ttl, now: time.Now}
}

// Issue signs a fresh token for userID.
func (t *Tokens) Issue(userID uuid.UUID) (model.StepUpToken, error) {
	now := t.now()
	exp := now.Add(t.ttl)
	jti := ids.NewAt(now)
	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		Audience:  jwt.ClaimStrings{Audience},
		ID:        jti,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.key)
	if err != nil {
		return model.StepUpToken{}, err
	}
	return model.StepUpToken{Token: signed, ID: jti, IssuedAt: now, ExpiresAt: exp}, nil
}

// Parse verifies signature, audience and expiry against the server clock.
// An expired token yields errs.ErrTokenExpired; any other defect yields
// errs.ErrTokenMismatch.
func (t *Tokens) Parse(raw string) (Claims, error) {
	var rc jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &rc, func(*jwt.Token) (any, error) { return t.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return Claims{}, errs.ErrTokenExpired
	case err != nil:
		return Claims{}, fmt.Errorf("%w: %v", errs.ErrTokenMismatch, err)
	}

	uid, err := uuid.FromString(rc.Subject)
	if err != nil || !ids.Valid(rc.ID) || rc.IssuedAt == nil {
		return Claims{}, fmt.Errorf("%w: malformed claims", errs.ErrTokenMismatch)
	}
	return Claims{
		UserID:    uid,
		ID:        rc.ID,
		IssuedAt:  rc.IssuedAt.Time,
		ExpiresAt: rc.ExpiresAt.Time,
	}, nil
}

// Remaining returns how long the token stays valid from now.
func (t *Tokens) Remaining(c Claims) time.Duration {
	return c.ExpiresAt.Sub(t.now())
}
