package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	pkgcrypto "github.com/and161185/docvault/internal/crypto"
	"github.com/and161185/docvault/internal/errs"
	"github.com/and161185/docvault/internal/limiter"
	"github.com/and161185/docvault/internal/model"
)

// AccessAudience marks access tokens so they cannot be used as step-up tokens and vice versa.
const AccessAudience = "docvault.access"

// MinPasswordLen is the shortest accepted password.
const MinPasswordLen = 8

// AuthService defines registration, login and access token checks.
type AuthService interface {
	// Register creates a citizen account.
	Register(ctx context.Context, in Registration) (uuid.UUID, error)
	// Login applies rate limiting and returns an access token.
	Login(ctx context.Context, email, password, ip string) (model.Tokens, model.User, error)
	// Authenticate validates an access token and returns its subject.
	Authenticate(ctx context.Context, token string) (uuid.UUID, error)
}

// Registration is the self-service signup input.
type Registration struct {
	Email      string
	Telephone  string
	Password   string
	NationalID string
}

type AuthServiceImpl struct {
	d         Deps
	signKey   []byte
	accessTTL time.Duration
	lim       limiter.Limiter
}

// NewAuthService constructs AuthService with required dependencies.
func NewAuthService(d Deps, signKey []byte, accessTTL time.Duration, lim limiter.Limiter) *AuthServiceImpl {
	return &AuthServiceImpl{d: d.withDefaults(), signKey: signKey, accessTTL: accessTTL, lim: lim}
}

// normalizeEmail lower-cases and validates an address.
func normalizeEmail(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	a, err := mail.ParseAddress(s)
	if err != nil || a.Address != s {
		return "", errs.Validation("invalid email")
	}
	return s, nil
}

// newUser builds an account with a freshly hashed password.
func newUser(email, telephone, password, nationalID string, role model.Role) (*model.User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if len(password) < MinPasswordLen {
		return nil, errs.Validation("password must be at least %d characters", MinPasswordLen)
	}
	hash, err := pkgcrypto.HashPassword(password)
	if err != nil {
		return nil, err
	}
	return &model.User{
		ID:           uuid.Must(uuid.NewV4()),
		Email:        email,
		Telephone:    strings.TrimSpace(telephone),
		PasswordHash: hash,
		NationalID:   strings.TrimSpace(nationalID),
		Role:         role,
		Permissions:  model.Capabilities{},
		IsActive:     true,
	}, nil
}

// BuildUser validates input and hashes the password without storing
// anything. Bootstrap tooling uses it to seed the first admin.
func BuildUser(in Registration, role model.Role) (*model.User, error) {
	return newUser(in.Email, in.Telephone, in.Password, in.NationalID, role)
}

// Register implements AuthService.
func (s *AuthServiceImpl) Register(ctx context.Context, in Registration) (uuid.UUID, error) {
	u, err := newUser(in.Email, in.Telephone, in.Password, in.NationalID, model.RoleCitizen)
	if err != nil {
		return uuid.Nil, err
	}
	if err := s.d.Users.Create(ctx, u); err != nil {
		return uuid.Nil, err
	}
	record(ctx, s.d, &u.ID, model.AuditUserCreated, nil, map[string]string{"role": string(u.Role)})
	return u.ID, nil
}

// Login implements AuthService with rate limiting by (email, ip).
func (s *AuthServiceImpl) Login(ctx context.Context, email, password, ip string) (model.Tokens, model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	ipHash := limiter.HashIP(ip)

	allowed, _, err := s.lim.Allow(ctx, email, ipHash)
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}
	if !allowed {
		record(ctx, s.d, nil, model.AuditLoginFailed, nil, map[string]string{"reason": "rate_limited"})
		return model.Tokens{}, model.User{}, errs.ErrRateLimited
	}

	u, err := s.d.Users.GetByEmail(ctx, email)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return model.Tokens{}, model.User{}, err
	}
	ok := false
	if u != nil {
		ok = pkgcrypto.VerifyPassword(password, u.PasswordHash) && u.IsActive
	} else {
		// same work as a real check so timing does not reveal the account
		pkgcrypto.BurnVerify(password)
	}
	if !ok {
		var actor *uuid.UUID
		if u != nil {
			actor = &u.ID
		}
		record(ctx, s.d, actor, model.AuditLoginFailed, nil, nil)
		if blocked, _, ferr := s.lim.Failure(ctx, email, ipHash); ferr == nil && blocked {
			return model.Tokens{}, model.User{}, errs.ErrRateLimited
		}
		return model.Tokens{}, model.User{}, errs.ErrInvalidCredentials
	}

	// Success: reset counters (best-effort).
	_ = s.lim.Success(ctx, email, ipHash)

	access, exp, err := s.issueAccessToken(u.ID)
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}
	record(ctx, s.d, &u.ID, model.AuditLogin, nil, nil)
	return model.Tokens{AccessToken: access, ExpiresAt: exp}, *u, nil
}

// issueAccessToken creates a signed HS256 JWT for the given subject.
func (s *AuthServiceImpl) issueAccessToken(userID uuid.UUID) (string, time.Time, error) {
	now := s.d.Now()
	exp := now.Add(s.accessTTL)
	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		Audience:  jwt.ClaimStrings{AccessAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.signKey)
	return signed, exp, err
}

// Authenticate implements AuthService. Account state is not checked here;
// every operation reloads the user and the evaluator denies inactive ones.
func (s *AuthServiceImpl) Authenticate(_ context.Context, token string) (uuid.UUID, error) {
	var rc jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &rc, func(*jwt.Token) (any, error) { return s.signKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(AccessAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.d.Now),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", errs.ErrUnauthorized, err)
	}
	id, err := uuid.FromString(rc.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: bad subject", errs.ErrUnauthorized)
	}
	return id, nil
}
