package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/docvault/internal/errs"
	"github.com/and161185/docvault/internal/model"
	"github.com/and161185/docvault/internal/obs"
	"github.com/and161185/docvault/internal/service"
)

/************ stubs ************/

type stubAuth struct {
	registerFn func(service.Registration) (uuid.UUID, error)
	loginFn    func(email, password, ip string) (model.Tokens, model.User, error)
}

func (a *stubAuth) Register(_ context.Context, in service.Registration) (uuid.UUID, error) {
	return a.registerFn(in)
}

func (a *stubAuth) Login(_ context.Context, email, password, ip string) (model.Tokens, model.User, error) {
	return a.loginFn(email, password, ip)
}

// Authenticate accepts "tok-<uuid>".
func (a *stubAuth) Authenticate(_ context.Context, token string) (uuid.UUID, error) {
	id, err := uuid.FromString(strings.TrimPrefix(token, "tok-"))
	if err != nil || !strings.HasPrefix(token, "tok-") {
		return uuid.Nil, errs.ErrUnauthorized
	}
	return id, nil
}

type stubDocs struct {
	service.DocumentService

	err      error
	doc      *model.Document
	gotNote  string
	gotOwner string
}

func (d *stubDocs) Upload(_ context.Context, actor uuid.UUID, in model.NewDocument) (*model.Document, error) {
	if d.err != nil {
		return nil, d.err
	}
	d.gotOwner = in.Owner
	return &model.Document{ID: uuid.Must(uuid.NewV4()), OwnerUserID: actor, Title: in.Title, Type: in.Type,
		StorageURL: in.StorageURL, Status: model.StatusPending, Tags: []string{"civil-registry"}}, nil
}

func (d *stubDocs) Verify(_ context.Context, _, docID uuid.UUID, note string) (*model.Document, error) {
	d.gotNote = note
	if d.err != nil {
		return nil, d.err
	}
	return &model.Document{ID: docID, Status: model.StatusVerified, StorageURL: "s3://secret"}, nil
}

func (d *stubDocs) Reject(_ context.Context, _, docID uuid.UUID, reason string) (*model.Document, error) {
	if d.err != nil {
		return nil, d.err
	}
	return &model.Document{ID: docID, Status: model.StatusRejected, RejectionReason: reason}, nil
}

func (d *stubDocs) ListForUser(context.Context, uuid.UUID) ([]model.DocumentMetadata, error) {
	return []model.DocumentMetadata{}, d.err
}

func (d *stubDocs) VerifyPublic(_ context.Context, id uuid.UUID) (model.PublicVerification, error) {
	if d.err != nil {
		return model.PublicVerification{}, d.err
	}
	return model.PublicVerification{ID: id, Title: "Birth certificate", Status: model.StatusVerified}, nil
}

type stubStepUp struct {
	gotToken string
	err      error
}

func (s *stubStepUp) RequestStepUp(context.Context, uuid.UUID, string) (model.StepUpToken, error) {
	if s.err != nil {
		return model.StepUpToken{}, s.err
	}
	return model.StepUpToken{Token: "step", ExpiresAt: time.Now().Add(time.Minute)}, nil
}

func (s *stubStepUp) ViewRaw(_ context.Context, _, _ uuid.UUID, token string) (string, error) {
	s.gotToken = token
	if s.err != nil {
		return "", s.err
	}
	return "s3://vault/bc.pdf", nil
}

type stubDirectory struct {
	service.DirectoryService
	gotRole service.RoleChange
}

func (d *stubDirectory) SetRole(_ context.Context, _, userID uuid.UUID, rc service.RoleChange) (*model.User, error) {
	d.gotRole = rc
	return &model.User{ID: userID, Role: rc.Role, OrganizationID: rc.OrganizationID, Permissions: model.Capabilities{}}, nil
}

type stubUsers map[uuid.UUID]*model.User

func (u stubUsers) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	if x, ok := u[id]; ok {
		return x, nil
	}
	return nil, errs.ErrNotFound
}

/************ harness ************/

type harness struct {
	t        *testing.T
	srv      *httptest.Server
	docs     *stubDocs
	stepUp   *stubStepUp
	dir      *stubDirectory
	citizen  uuid.UUID
	official uuid.UUID
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		docs:     &stubDocs{},
		stepUp:   &stubStepUp{},
		dir:      &stubDirectory{},
		citizen:  uuid.Must(uuid.NewV4()),
		official: uuid.Must(uuid.NewV4()),
	}
	users := stubUsers{
		h.citizen:  {ID: h.citizen, Role: model.RoleCitizen},
		h.official: {ID: h.official, Role: model.RoleGovOfficial},
	}
	auth := &stubAuth{
		registerFn: func(in service.Registration) (uuid.UUID, error) {
			if in.Email == "taken@example.org" {
				return uuid.Nil, errs.ErrAlreadyExists
			}
			return h.citizen, nil
		},
		loginFn: func(email, password, _ string) (model.Tokens, model.User, error) {
			if password != "pw" {
				return model.Tokens{}, model.User{}, errs.ErrInvalidCredentials
			}
			return model.Tokens{AccessToken: "tok-" + h.citizen.String()}, *users[h.citizen], nil
		},
	}
	s := New(Services{Auth: auth, Documents: h.docs, StepUp: h.stepUp, Directory: h.dir}, users, zaptest.NewLogger(t), opts)
	h.srv = httptest.NewServer(s.Handler())
	t.Cleanup(h.srv.Close)
	return h
}

func (h *harness) do(method, path string, as uuid.UUID, body any, headers map[string]string) (*http.Response, map[string]any) {
	h.t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(h.t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, h.srv.URL+path, rd)
	require.NoError(h.t, err)
	req.Header.Set("Content-Type", "application/json")
	if as != uuid.Nil {
		req.Header.Set("Authorization", "Bearer tok-"+as.String())
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := h.srv.Client().Do(req)
	require.NoError(h.t, err)
	defer resp.Body.Close()

	var out map[string]any
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &out)
	}
	return resp, out
}

/************ tests ************/

func TestHealthzAndMetrics(t *testing.T) {
	t.Parallel()
	m := obs.New(prometheus.NewRegistry())
	h := newHarness(t, Options{Metrics: m})

	resp, body := h.do(http.MethodGet, "/healthz", uuid.Nil, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", body["status"])

	resp, _ = h.do(http.MethodGet, "/metrics", uuid.Nil, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = h.do(http.MethodGet, "/nope", uuid.Nil, nil, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthz_NotReady(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Options{Ready: func(context.Context) error { return io.ErrUnexpectedEOF }})
	resp, _ := h.do(http.MethodGet, "/healthz", uuid.Nil, nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestRegisterAndLogin(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Options{})

	resp, body := h.do(http.MethodPost, "/api/v1/auth/register", uuid.Nil, registerRequest{Email: "c@example.org", Password: "pw"}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, h.citizen.String(), body["user_id"])

	resp, _ = h.do(http.MethodPost, "/api/v1/auth/register", uuid.Nil, registerRequest{Email: "taken@example.org", Password: "pw"}, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = h.do(http.MethodPost, "/api/v1/auth/register", uuid.Nil, map[string]any{"email": "x", "admin": true}, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = h.do(http.MethodPost, "/api/v1/auth/login", uuid.Nil, loginRequest{Email: "c@example.org", Password: "pw"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "tok-"+h.citizen.String(), body["access_token"])

	resp, body = h.do(http.MethodPost, "/api/v1/auth/login", uuid.Nil, loginRequest{Email: "c@example.org", Password: "bad"}, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, "invalid credentials", body["error"])
}

func TestAuthRequired(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Options{})

	resp, _ := h.do(http.MethodGet, "/api/v1/documents", uuid.Nil, nil, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = h.do(http.MethodGet, "/api/v1/documents", uuid.Nil, nil, map[string]string{"Authorization": "Bearer junk"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := h.do(http.MethodGet, "/api/v1/documents", h.citizen, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, "documents")
}

func TestUpload_ResponseHasNoStorageURL(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Options{})

	resp, body := h.do(http.MethodPost, "/api/v1/documents", h.citizen,
		documentRequest{Title: "BC", Type: "Birth Certificate", StorageURL: "s3://secret", Owner: "NID-1"}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, "PENDING_VERIFICATION", body["status"])
	require.NotContains(t, body, "storage_url")
	require.Equal(t, "NID-1", h.docs.gotOwner)
}

func TestForbidden_ReasonHiddenFromCitizens(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Options{})
	h.docs.err = errs.Deny(errs.ReasonOrganizationMismatch)
	path := "/api/v1/documents/" + uuid.Must(uuid.NewV4()).String() + "/verify"

	resp, body := h.do(http.MethodPost, path, h.citizen, map[string]string{"note": "x"}, nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Equal(t, "forbidden", body["error"])
	require.NotContains(t, body, "reason")

	resp, body = h.do(http.MethodPost, path, h.official, map[string]string{"note": "x"}, nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Equal(t, "organization_mismatch", body["reason"])
}

func TestVerify_OptionalBody(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Options{})
	path := "/api/v1/documents/" + uuid.Must(uuid.NewV4()).String() + "/verify"

	resp, body := h.do(http.MethodPost, path, h.official, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "VERIFIED", body["status"])
	require.NotContains(t, body, "storage_url")

	resp, _ = h.do(http.MethodPost, path, h.official, map[string]string{"note": "checked"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "checked", h.docs.gotNote)
}

func TestErrorMapping(t *testing.T) {
	t.Parallel()
	path := "/api/v1/documents/" + uuid.Must(uuid.NewV4()).String() + "/reject"
	for _, tc := range []struct {
		err  error
		code int
	}{
		{errs.ErrMissingReason, http.StatusBadRequest},
		{errs.Validation("empty title"), http.StatusBadRequest},
		{errs.ErrInvalidStateTransition, http.StatusConflict},
		{errs.ErrNotFound, http.StatusNotFound},
		{errs.ErrRateLimited, http.StatusTooManyRequests},
		{errs.ErrUnauthorized, http.StatusUnauthorized},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	} {
		h := newHarness(t, Options{})
		h.docs.err = tc.err
		resp, body := h.do(http.MethodPost, path, h.official, map[string]string{"reason": ""}, nil)
		require.Equal(t, tc.code, resp.StatusCode, tc.err.Error())
		if tc.code == http.StatusInternalServerError {
			require.Equal(t, "internal error", body["error"])
		}
	}
}

func TestBadPathID(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Options{})
	resp, body := h.do(http.MethodGet, "/api/v1/public/documents/not-a-uuid", uuid.Nil, nil, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "bad id", body["error"])
}

func TestVerifyPublic_NoAuth(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Options{})
	id := uuid.Must(uuid.NewV4())
	resp, body := h.do(http.MethodGet, "/api/v1/public/documents/"+id.String(), uuid.Nil, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, id.String(), body["id"])
	require.Equal(t, "VERIFIED", body["status"])
}

func TestStepUpAndViewRaw(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Options{})
	rawPath := "/api/v1/documents/" + uuid.Must(uuid.NewV4()).String() + "/raw"

	resp, body := h.do(http.MethodPost, "/api/v1/auth/step-up", h.citizen, stepUpRequest{Password: "pw"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "step", body["token"])

	resp, _ = h.do(http.MethodPost, rawPath, h.citizen, nil, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body = h.do(http.MethodPost, rawPath, h.citizen, nil, map[string]string{StepUpHeader: "step"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "s3://vault/bc.pdf", body["storage_url"])
	require.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	require.Equal(t, "step", h.stepUp.gotToken)

	h.stepUp.err = errs.ErrTokenExpired
	resp, body = h.do(http.MethodPost, rawPath, h.citizen, nil, map[string]string{StepUpHeader: "step"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, "step-up token expired", body["error"])

	h.stepUp.err = errs.ErrTokenMismatch
	resp, body = h.do(http.MethodPost, rawPath, h.citizen, nil, map[string]string{StepUpHeader: "step"})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, "step-up token mismatch", body["error"])
}

func TestSetRole_ParsesRole(t *testing.T) {
	t.Parallel()
	h := newHarness(t, Options{})
	org := uuid.Must(uuid.NewV4())
	path := "/api/v1/users/" + h.citizen.String() + "/role"

	resp, _ := h.do(http.MethodPut, path, h.official, roleRequest{Role: "overlord"}, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := h.do(http.MethodPut, path, h.official, roleRequest{Role: "gov_official", OrganizationID: &org, Permissions: []string{"verify.health"}}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "gov_official", body["role"])
	require.Equal(t, model.RoleGovOfficial, h.dir.gotRole.Role)
	require.Equal(t, org, *h.dir.gotRole.OrganizationID)
	require.Equal(t, []string{"verify.health"}, h.dir.gotRole.Permissions)
}
