package service

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/docvault/internal/access"
	pkgcrypto "github.com/and161185/docvault/internal/crypto"
	"github.com/and161185/docvault/internal/errs"
	"github.com/and161185/docvault/internal/limiter"
	"github.com/and161185/docvault/internal/model"
	"github.com/and161185/docvault/internal/stepup"
)

// StepUpService guards raw storage URLs behind a fresh password re-check.
type StepUpService interface {
	// RequestStepUp re-checks the password and issues a single-use token.
	RequestStepUp(ctx context.Context, userID uuid.UUID, password string) (model.StepUpToken, error)
	// ViewRaw spends a step-up token and returns the document's storage URL.
	ViewRaw(ctx context.Context, userID, docID uuid.UUID, token string) (string, error)
}

type StepUpServiceImpl struct {
	d      Deps
	eval   *access.Evaluator
	tokens *stepup.Tokens
	used   stepup.UsedStore
	lim    limiter.Limiter
}

// NewStepUpService constructs StepUpService.
func NewStepUpService(d Deps, tokens *stepup.Tokens, used stepup.UsedStore, lim limiter.Limiter) *StepUpServiceImpl {
	return &StepUpServiceImpl{d: d.withDefaults(), eval: access.NewEvaluator(), tokens: tokens, used: used, lim: lim}
}

func stepUpSubject(userID uuid.UUID) string { return "stepup:" + userID.String() }

// RequestStepUp implements StepUpService. Unknown users, inactive users and
// wrong passwords are indistinguishable to the caller.
func (s *StepUpServiceImpl) RequestStepUp(ctx context.Context, userID uuid.UUID, password string) (model.StepUpToken, error) {
	subject := stepUpSubject(userID)
	ipHash := limiter.HashIP(ClientIP(ctx))

	allowed, _, err := s.lim.Allow(ctx, subject, ipHash)
	if err != nil {
		return model.StepUpToken{}, err
	}
	if !allowed {
		s.d.Metrics.StepUp("failed")
		record(ctx, s.d, &userID, model.AuditStepUpFailed, nil, map[string]string{"reason": "rate_limited"})
		return model.StepUpToken{}, errs.ErrRateLimited
	}

	u, err := s.d.Users.GetByID(ctx, userID)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return model.StepUpToken{}, err
	}
	ok := false
	if u != nil {
		ok = pkgcrypto.VerifyPassword(password, u.PasswordHash) && u.IsActive
	} else {
		pkgcrypto.BurnVerify(password)
	}
	if !ok {
		s.d.Metrics.StepUp("failed")
		record(ctx, s.d, &userID, model.AuditStepUpFailed, nil, nil)
		if blocked, _, ferr := s.lim.Failure(ctx, subject, ipHash); ferr == nil && blocked {
			return model.StepUpToken{}, errs.ErrRateLimited
		}
		return model.StepUpToken{}, errs.ErrInvalidCredentials
	}
	_ = s.lim.Success(ctx, subject, ipHash)

	tok, err := s.tokens.Issue(userID)
	if err != nil {
		return model.StepUpToken{}, err
	}
	s.d.Metrics.StepUp("granted")
	record(ctx, s.d, &userID, model.AuditStepUpGranted, nil, map[string]string{"jti": tok.ID})
	return tok, nil
}

// ViewRaw implements StepUpService. The token is consumed only when the
// evaluator allows the view, and exactly one concurrent caller can consume it.
func (s *StepUpServiceImpl) ViewRaw(ctx context.Context, userID, docID uuid.UUID, token string) (string, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		s.d.Metrics.StepUp("invalid")
		return "", err
	}
	if claims.UserID != userID {
		s.d.Metrics.StepUp("mismatch")
		s.d.Log.Warn("step-up token presented by another user",
			zap.String("user_id", userID.String()),
			zap.String("token_subject", claims.UserID.String()),
			zap.String("jti", claims.ID),
		)
		return "", errs.ErrTokenMismatch
	}

	used, err := s.used.Used(ctx, claims.ID)
	if err != nil {
		return "", err
	}
	if used {
		return "", s.reuse(ctx, userID, docID, claims.ID)
	}

	actor, org, err := loadActor(ctx, s.d, userID)
	if err != nil {
		return "", err
	}
	doc, err := s.d.Docs.GetByID(ctx, docID)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return "", err
	}
	dec := s.eval.Evaluate(access.Request{Actor: actor, Org: org, Action: access.ActionViewRaw, Document: doc, StepUp: true})
	if !dec.Allow {
		s.d.Metrics.Denied(string(access.ActionViewRaw), string(dec.Reason))
		return "", dec.Err()
	}

	first, err := s.used.Consume(ctx, claims.ID, s.tokens.Remaining(claims))
	if err != nil {
		return "", err
	}
	if !first {
		return "", s.reuse(ctx, userID, docID, claims.ID)
	}

	s.d.Metrics.StepUp("raw_view")
	record(ctx, s.d, &userID, model.AuditRawView, &docID, map[string]string{"jti": claims.ID})
	return doc.StorageURL, nil
}

func (s *StepUpServiceImpl) reuse(ctx context.Context, userID, docID uuid.UUID, jti string) error {
	s.d.Metrics.StepUp("reuse")
	s.d.Log.Warn("step-up token reuse",
		zap.String("user_id", userID.String()),
		zap.String("document_id", docID.String()),
		zap.String("jti", jti),
		zap.String("ip", ClientIP(ctx)),
	)
	record(ctx, s.d, &userID, model.AuditStepUpReuse, &docID, map[string]string{"jti": jti})
	return errs.ErrTokenExpired
}
