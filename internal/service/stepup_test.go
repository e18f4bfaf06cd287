package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/and161185/docvault/internal/errs"
	"github.com/and161185/docvault/internal/model"
	"github.com/and161185/docvault/internal/stepup"
)

var stepUpKey = []byte("step-up test key")

type stepUpFixture struct {
	*world
	docs   *DocumentServiceImpl
	stepUp *StepUpServiceImpl
	lim    *fakeLimiter
	doc    *model.Document
}

func newStepUpFixture(t *testing.T) *stepUpFixture {
	t.Helper()
	w := newWorld(t)
	f := &stepUpFixture{
		world: w,
		docs:  NewDocumentService(w.deps),
		lim:   &fakeLimiter{allowOK: true},
	}
	f.stepUp = NewStepUpService(w.deps, stepup.NewTokens(stepUpKey, time.Minute), stepup.NewMemory(), f.lim)
	d, err := f.docs.Upload(context.Background(), w.citizen.ID, birthCert())
	require.NoError(t, err)
	f.doc = d
	return f
}

func TestStepUp_FullScenario(t *testing.T) {
	t.Parallel()
	f := newStepUpFixture(t)
	ctx := WithClientIP(context.Background(), "192.0.2.7")

	_, err := f.docs.Verify(ctx, f.interiorOfficial.ID, f.doc.ID, "confirmed against registry")
	require.NoError(t, err)

	tok, err := f.stepUp.RequestStepUp(ctx, f.citizen.ID, testPassword)
	require.NoError(t, err)
	require.NotEmpty(t, tok.Token)
	require.NotEmpty(t, tok.ID)
	require.LessOrEqual(t, tok.ExpiresAt.Sub(tok.IssuedAt), stepup.MaxTTL)
	require.Equal(t, []string{"stepup:" + f.citizen.ID.String()}, f.lim.subjects)

	url, err := f.stepUp.ViewRaw(ctx, f.citizen.ID, f.doc.ID, tok.Token)
	require.NoError(t, err)
	require.Equal(t, "s3://vault/bc.pdf", url)

	_, err = f.stepUp.ViewRaw(ctx, f.citizen.ID, f.doc.ID, tok.Token)
	require.ErrorIs(t, err, errs.ErrTokenExpired)

	require.Equal(t, 1, f.audit.count(model.AuditStepUpGranted))
	require.Equal(t, 1, f.audit.count(model.AuditRawView))
	require.Equal(t, 1, f.audit.count(model.AuditStepUpReuse))
	for _, e := range f.audit.entries {
		if e.Action == model.AuditStepUpReuse {
			require.Equal(t, "192.0.2.7", e.IPAddress)
			require.Equal(t, f.doc.ID, *e.TargetDocID)
			require.Equal(t, tok.ID, e.Details["jti"])
		}
	}
}

func TestStepUp_WrongPassword(t *testing.T) {
	t.Parallel()
	f := newStepUpFixture(t)
	ctx := context.Background()

	_, err := f.stepUp.RequestStepUp(ctx, f.citizen.ID, "wrong")
	require.ErrorIs(t, err, errs.ErrInvalidCredentials)
	require.Equal(t, 1, f.lim.failureCalls)
	require.Equal(t, 1, f.audit.count(model.AuditStepUpFailed))

	// unknown users look the same
	_, err = f.stepUp.RequestStepUp(ctx, uuid.Must(uuid.NewV4()), testPassword)
	require.ErrorIs(t, err, errs.ErrInvalidCredentials)

	f.lim.failBlocked = true
	_, err = f.stepUp.RequestStepUp(ctx, f.citizen.ID, "wrong")
	require.ErrorIs(t, err, errs.ErrRateLimited)

	before := f.audit.count(model.AuditStepUpFailed)
	f.lim.allowOK = false
	_, err = f.stepUp.RequestStepUp(ctx, f.citizen.ID, testPassword)
	require.ErrorIs(t, err, errs.ErrRateLimited)
	require.Equal(t, before+1, f.audit.count(model.AuditStepUpFailed))
	e, ok := f.audit.last(model.AuditStepUpFailed)
	require.True(t, ok)
	require.Equal(t, "rate_limited", e.Details["reason"])
	require.Equal(t, f.citizen.ID, *e.ActorID)
}

func TestStepUp_TokenBoundToUser(t *testing.T) {
	t.Parallel()
	f := newStepUpFixture(t)
	ctx := context.Background()

	tok, err := f.stepUp.RequestStepUp(ctx, f.citizen.ID, testPassword)
	require.NoError(t, err)

	_, err = f.stepUp.ViewRaw(ctx, f.citizen2.ID, f.doc.ID, tok.Token)
	require.ErrorIs(t, err, errs.ErrTokenMismatch)

	// the owner can still spend it
	_, err = f.stepUp.ViewRaw(ctx, f.citizen.ID, f.doc.ID, tok.Token)
	require.NoError(t, err)
}

func TestStepUp_DenialDoesNotConsume(t *testing.T) {
	t.Parallel()
	f := newStepUpFixture(t)
	ctx := context.Background()

	other, err := f.docs.Upload(ctx, f.citizen2.ID, birthCert())
	require.NoError(t, err)

	tok, err := f.stepUp.RequestStepUp(ctx, f.citizen2.ID, testPassword)
	require.NoError(t, err)

	_, err = f.stepUp.ViewRaw(ctx, f.citizen2.ID, f.doc.ID, tok.Token)
	requireDenied(t, err, errs.ReasonRoleInsufficient)
	_, err = f.stepUp.ViewRaw(ctx, f.citizen2.ID, uuid.Must(uuid.NewV4()), tok.Token)
	requireDenied(t, err, errs.ReasonResourceNotFound)

	url, err := f.stepUp.ViewRaw(ctx, f.citizen2.ID, other.ID, tok.Token)
	require.NoError(t, err)
	require.Equal(t, other.StorageURL, url)
	require.Zero(t, f.audit.count(model.AuditStepUpReuse))
}

func TestStepUp_OfficialInScope(t *testing.T) {
	t.Parallel()
	f := newStepUpFixture(t)
	ctx := context.Background()

	tok, err := f.stepUp.RequestStepUp(ctx, f.educationOfficial.ID, testPassword)
	require.NoError(t, err)
	_, err = f.stepUp.ViewRaw(ctx, f.educationOfficial.ID, f.doc.ID, tok.Token)
	requireDenied(t, err, errs.ReasonOrganizationMismatch)

	tok, err = f.stepUp.RequestStepUp(ctx, f.interiorOfficial.ID, testPassword)
	require.NoError(t, err)
	_, err = f.stepUp.ViewRaw(ctx, f.interiorOfficial.ID, f.doc.ID, tok.Token)
	require.NoError(t, err)
}

func TestStepUp_ExpiredAndForeignTokens(t *testing.T) {
	t.Parallel()
	f := newStepUpFixture(t)
	ctx := context.Background()

	sign := func(aud string, exp time.Time) string {
		raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			Subject:   f.citizen.ID.String(),
			Audience:  jwt.ClaimStrings{aud},
			ID:        "01J00000000000000000000000",
			IssuedAt:  jwt.NewNumericDate(exp.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(exp),
		}).SignedString(stepUpKey)
		require.NoError(t, err)
		return raw
	}

	_, err := f.stepUp.ViewRaw(ctx, f.citizen.ID, f.doc.ID, sign(stepup.Audience, time.Now().Add(-time.Second)))
	require.ErrorIs(t, err, errs.ErrTokenExpired)

	_, err = f.stepUp.ViewRaw(ctx, f.citizen.ID, f.doc.ID, sign(AccessAudience, time.Now().Add(time.Minute)))
	require.ErrorIs(t, err, errs.ErrTokenMismatch)

	_, err = f.stepUp.ViewRaw(ctx, f.citizen.ID, f.doc.ID, "not-a-token")
	require.ErrorIs(t, err, errs.ErrTokenMismatch)
}

func TestStepUp_ConcurrentSpendHasOneWinner(t *testing.T) {
	t.Parallel()
	f := newStepUpFixture(t)
	ctx := context.Background()

	tok, err := f.stepUp.RequestStepUp(ctx, f.citizen.ID, testPassword)
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.stepUp.ViewRaw(ctx, f.citizen.ID, f.doc.ID, tok.Token); err == nil {
				wins.Add(1)
			} else if !errors.Is(err, errs.ErrTokenExpired) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	require.EqualValues(t, 1, wins.Load())
	require.Equal(t, 1, f.audit.count(model.AuditRawView))
}
