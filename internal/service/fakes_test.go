package service

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"

	pkgcrypto "github.com/and161185/docvault/internal/crypto"
	"github.com/and161185/docvault/internal/errs"
	"github.com/and161185/docvault/internal/limiter"
	"github.com/and161185/docvault/internal/model"
	"github.com/and161185/docvault/internal/repository"
)

/************ fake repositories ************/

type fakeUsers struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*model.User

	createErr error
}

var _ repository.UserRepository = (*fakeUsers)(nil)

func newFakeUsers() *fakeUsers { return &fakeUsers{byID: map[uuid.UUID]*model.User{}} }

func (f *fakeUsers) Create(_ context.Context, u *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	for _, x := range f.byID {
		if x.Email == u.Email || (u.NationalID != "" && x.NationalID == u.NationalID) {
			return errs.ErrAlreadyExists
		}
	}
	c := *u
	f.byID[u.ID] = &c
	return nil
}

func (f *fakeUsers) find(match func(*model.User) bool) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.byID {
		if match(u) {
			c := *u
			return &c, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (f *fakeUsers) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	return f.find(func(u *model.User) bool { return u.ID == id })
}

func (f *fakeUsers) GetByEmail(_ context.Context, email string) (*model.User, error) {
	return f.find(func(u *model.User) bool { return u.Email == email })
}

func (f *fakeUsers) GetByNationalID(_ context.Context, nid string) (*model.User, error) {
	return f.find(func(u *model.User) bool { return u.NationalID != "" && u.NationalID == nid })
}

func (f *fakeUsers) UpdateRole(_ context.Context, u *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	x, ok := f.byID[u.ID]
	if !ok {
		return errs.ErrNotFound
	}
	x.Role, x.OrganizationID, x.Permissions = u.Role, u.OrganizationID, u.Permissions
	return nil
}

func (f *fakeUsers) SetActive(_ context.Context, id uuid.UUID, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	x, ok := f.byID[id]
	if !ok {
		return errs.ErrNotFound
	}
	x.IsActive = active
	return nil
}

type fakeOrgs struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*model.Organization
}

var _ repository.OrganizationRepository = (*fakeOrgs)(nil)

func (f *fakeOrgs) Create(_ context.Context, o *model.Organization) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, x := range f.byID {
		if x.Code == o.Code || x.Name == o.Name {
			return errs.ErrAlreadyExists
		}
	}
	c := *o
	f.byID[o.ID] = &c
	return nil
}

func (f *fakeOrgs) GetByID(_ context.Context, id uuid.UUID) (*model.Organization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.byID[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *o
	return &c, nil
}

func (f *fakeOrgs) List(context.Context) ([]model.Organization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Organization, 0, len(f.byID))
	for _, o := range f.byID {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Tier != out[j].Tier {
			return out[i].Tier < out[j].Tier
		}
		return out[i].Code < out[j].Code
	})
	return out, nil
}

// fakeDocs applies transitions under a mutex, the in-memory analogue of the
// single-statement conditional update.
type fakeDocs struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*model.Document
	seq  []uuid.UUID

	createErr error
}

var _ repository.DocumentRepository = (*fakeDocs)(nil)

func (f *fakeDocs) Create(_ context.Context, d *model.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	c := *d
	f.byID[d.ID] = &c
	f.seq = append(f.seq, d.ID)
	return nil
}

func (f *fakeDocs) SetAnchor(_ context.Context, id uuid.UUID, hash, txID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.byID[id]
	if !ok {
		return errs.ErrNotFound
	}
	d.BlockchainHash, d.AnchorTxID = hash, txID
	return nil
}

func (f *fakeDocs) GetByID(_ context.Context, id uuid.UUID) (*model.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.byID[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *d
	return &c, nil
}

func (f *fakeDocs) ListByOwner(_ context.Context, owner uuid.UUID) ([]model.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Document
	for i := len(f.seq) - 1; i >= 0; i-- {
		if d := f.byID[f.seq[i]]; d.OwnerUserID == owner {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (f *fakeDocs) ListPending(_ context.Context, domains []string) ([]model.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Document
	for _, id := range f.seq {
		d := f.byID[id]
		if d.Status != model.StatusPending {
			continue
		}
		if domains == nil || intersects(domains, d.Tags) {
			out = append(out, *d)
		}
	}
	return out, nil
}

func intersects(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

func (f *fakeDocs) Transition(_ context.Context, t model.Transition) (*model.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !model.CanTransition(t.From, t.To) {
		return nil, errs.ErrInvalidStateTransition
	}
	d, ok := f.byID[t.DocID]
	if !ok {
		return nil, errs.ErrNotFound
	}
	if d.Status != t.From {
		return nil, errs.ErrInvalidStateTransition
	}
	d.Status = t.To
	d.UpdatedAt = t.At
	if t.To == model.StatusVerified {
		d.VerifiedBy, d.VerifiedAt, d.VerificationNote = ptr(t.Actor), ptr(t.At), t.Note
	} else {
		d.RejectedBy, d.RejectedAt, d.RejectionReason = ptr(t.Actor), ptr(t.At), t.Note
	}
	c := *d
	return &c, nil
}

/************ fake collaborators ************/

type captureAudit struct {
	mu      sync.Mutex
	entries []model.AuditEntry
}

func (c *captureAudit) Record(e model.AuditEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, e)
}

func (c *captureAudit) actions() []model.AuditAction {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.AuditAction, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.Action)
	}
	return out
}

// last returns the most recent entry for a, or false when there is none.
func (c *captureAudit) last(a model.AuditAction) (model.AuditEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.entries) - 1; i >= 0; i-- {
		if c.entries[i].Action == a {
			return c.entries[i], true
		}
	}
	return model.AuditEntry{}, false
}

func (c *captureAudit) count(a model.AuditAction) int {
	n := 0
	for _, x := range c.actions() {
		if x == a {
			n++
		}
	}
	return n
}

type captureEvents struct {
	mu     sync.Mutex
	events []model.Event
}

func (c *captureEvents) Publish(ev model.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

type fakeLimiter struct {
	allowOK  bool
	allowErr error

	failBlocked bool

	failureCalls int
	successCalls int
	subjects     []string
}

var _ limiter.Limiter = (*fakeLimiter)(nil)

func (l *fakeLimiter) Allow(_ context.Context, subject string, _ []byte) (bool, time.Duration, error) {
	l.subjects = append(l.subjects, subject)
	return l.allowOK, 0, l.allowErr
}

func (l *fakeLimiter) Success(context.Context, string, []byte) error {
	l.successCalls++
	return nil
}

func (l *fakeLimiter) Failure(context.Context, string, []byte) (bool, time.Duration, error) {
	l.failureCalls++
	return l.failBlocked, 0, nil
}

/************ world fixture ************/

const testPassword = "correct horse"

// world is a small government: a citizen, two ministries and their staff.
type world struct {
	users  *fakeUsers
	orgs   *fakeOrgs
	docs   *fakeDocs
	audit  *captureAudit
	events *captureEvents
	deps   Deps

	citizen, citizen2 *model.User
	admin             *model.User
	interiorOfficial  *model.User // civil-registry
	educationOfficial *model.User // education only
	schoolAssociate   *model.User // tier 3, education

	interior, education, school *model.Organization
}

func newWorld(t *testing.T) *world {
	t.Helper()
	w := &world{
		users:  newFakeUsers(),
		orgs:   &fakeOrgs{byID: map[uuid.UUID]*model.Organization{}},
		docs:   &fakeDocs{byID: map[uuid.UUID]*model.Document{}},
		audit:  &captureAudit{},
		events: &captureEvents{},
	}
	w.deps = Deps{Users: w.users, Orgs: w.orgs, Docs: w.docs, Audit: w.audit, Events: w.events}

	w.interior = w.org(t, "Ministry of Interior", "MOI", 2, "civil-registry")
	w.education = w.org(t, "Ministry of Education", "MOE", 2, "education")
	w.school = w.org(t, "Central High School", "CHS", 3, "education")

	w.citizen = w.user(t, "c@example.org", "NID-1", model.RoleCitizen, nil)
	w.citizen2 = w.user(t, "c2@example.org", "NID-2", model.RoleCitizen, nil)
	w.admin = w.user(t, "admin@gov.example", "", model.RoleGovAdmin, nil)
	w.interiorOfficial = w.user(t, "o2@gov.example", "", model.RoleGovOfficial, w.interior)
	w.educationOfficial = w.user(t, "o@gov.example", "", model.RoleGovOfficial, w.education)
	w.schoolAssociate = w.user(t, "a@school.example", "", model.RoleGovAssociate, w.school)
	return w
}

func (w *world) org(t *testing.T, name, code string, tier int, tags ...string) *model.Organization {
	t.Helper()
	o := &model.Organization{ID: uuid.Must(uuid.NewV4()), Name: name, Code: code, Type: model.OrgMinistry, Tier: tier, Tags: tags}
	require.NoError(t, w.orgs.Create(context.Background(), o))
	return o
}

var testHash string

func (w *world) user(t *testing.T, email, nid string, role model.Role, org *model.Organization) *model.User {
	t.Helper()
	if testHash == "" {
		h, err := pkgcrypto.HashPassword(testPassword)
		require.NoError(t, err)
		testHash = h
	}
	u := &model.User{
		ID:           uuid.Must(uuid.NewV4()),
		Email:        email,
		NationalID:   nid,
		PasswordHash: testHash,
		Role:         role,
		Permissions:  model.Capabilities{},
		IsActive:     true,
	}
	if org != nil {
		u.OrganizationID = &org.ID
	}
	require.NoError(t, w.users.Create(context.Background(), u))
	return u
}

func birthCert() model.NewDocument {
	return model.NewDocument{Title: "Birth certificate", Type: "Birth Certificate", StorageURL: "s3://vault/bc.pdf"}
}
