package service

import (
	"context"
	"strconv"
	"strings"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/docvault/internal/access"
	"github.com/and161185/docvault/internal/errs"
	"github.com/and161185/docvault/internal/model"
)

// DirectoryService manages organizations and government staff accounts.
type DirectoryService interface {
	CreateOrganization(ctx context.Context, actorID uuid.UUID, in NewOrganization) (*model.Organization, error)
	ListOrganizations(ctx context.Context) ([]model.Organization, error)
	CreateStaff(ctx context.Context, actorID uuid.UUID, in NewStaff) (*model.User, error)
	SetRole(ctx context.Context, actorID, userID uuid.UUID, in RoleChange) (*model.User, error)
	Deactivate(ctx context.Context, actorID, userID uuid.UUID) error
}

// NewOrganization is the input for CreateOrganization.
type NewOrganization struct {
	Name string
	Code string
	Type model.OrgType
	Tier int
	Tags []string
}

// RoleChange is a replacement of role, organization and permissions.
type RoleChange struct {
	Role           model.Role
	OrganizationID *uuid.UUID
	Permissions    []string
}

// NewStaff is the input for CreateStaff.
type NewStaff struct {
	Email      string
	Telephone  string
	Password   string
	NationalID string
	RoleChange
}

type DirectoryServiceImpl struct {
	d    Deps
	eval *access.Evaluator
}

// NewDirectoryService constructs DirectoryService.
func NewDirectoryService(d Deps) *DirectoryServiceImpl {
	return &DirectoryServiceImpl{d: d.withDefaults(), eval: access.NewEvaluator()}
}

func (s *DirectoryServiceImpl) authorize(ctx context.Context, actorID uuid.UUID, action access.Action) error {
	actor, org, err := loadActor(ctx, s.d, actorID)
	if err != nil {
		return err
	}
	dec := s.eval.Evaluate(access.Request{Actor: actor, Org: org, Action: action})
	if !dec.Allow {
		s.d.Metrics.Denied(string(action), string(dec.Reason))
	}
	return dec.Err()
}

// CreateOrganization implements DirectoryService.
func (s *DirectoryServiceImpl) CreateOrganization(ctx context.Context, actorID uuid.UUID, in NewOrganization) (*model.Organization, error) {
	if err := s.authorize(ctx, actorID, access.ActionManageOrgs); err != nil {
		return nil, err
	}
	o, err := BuildOrganization(in)
	if err != nil {
		return nil, err
	}
	o.CreatedAt = s.d.Now()
	if err := s.d.Orgs.Create(ctx, o); err != nil {
		return nil, err
	}
	record(ctx, s.d, &actorID, model.AuditOrgCreated, nil, map[string]string{
		"organization_id": o.ID.String(),
		"code":            o.Code,
		"tier":            strconv.Itoa(o.Tier),
	})
	return o, nil
}

// BuildOrganization validates and normalizes organization input.
func BuildOrganization(in NewOrganization) (*model.Organization, error) {
	o := &model.Organization{
		ID:   uuid.Must(uuid.NewV4()),
		Name: strings.TrimSpace(in.Name),
		Code: strings.ToUpper(strings.TrimSpace(in.Code)),
		Type: model.OrgType(strings.ToLower(strings.TrimSpace(string(in.Type)))),
		Tier: in.Tier,
		Tags: model.NormalizeTags(in.Tags),
	}
	switch {
	case o.Name == "":
		return nil, errs.Validation("empty organization name")
	case o.Code == "" || strings.ContainsAny(o.Code, " \t"):
		return nil, errs.Validation("organization code must be a single non-empty word")
	case !o.Type.Valid():
		return nil, errs.Validation("unknown organization type %q", in.Type)
	case o.Tier < 1 || o.Tier > 3:
		return nil, errs.Validation("tier must be 1, 2 or 3")
	}
	return o, nil
}

// ListOrganizations implements DirectoryService.
func (s *DirectoryServiceImpl) ListOrganizations(ctx context.Context) ([]model.Organization, error) {
	return s.d.Orgs.List(ctx)
}

// checkMembership validates a staff role against its organization.
func (s *DirectoryServiceImpl) checkMembership(ctx context.Context, rc RoleChange) (model.Capabilities, error) {
	if !rc.Role.IsGov() {
		return nil, errs.Validation("staff role must be a government role")
	}
	perms, err := model.ParseCapabilities(rc.Permissions)
	if err != nil {
		return nil, errs.Validation("%v", err)
	}
	if rc.OrganizationID == nil {
		if rc.Role.NeedsOrganization() {
			return nil, errs.Validation("%s requires an organization", rc.Role)
		}
		return perms, nil
	}
	org, err := s.d.Orgs.GetByID(ctx, *rc.OrganizationID)
	if err != nil {
		return nil, err
	}
	if org.Tier > rc.Role.MaxTier() {
		return nil, errs.Validation("%s cannot belong to a tier %d organization", rc.Role, org.Tier)
	}
	return perms, nil
}

// CreateStaff implements DirectoryService.
func (s *DirectoryServiceImpl) CreateStaff(ctx context.Context, actorID uuid.UUID, in NewStaff) (*model.User, error) {
	if err := s.authorize(ctx, actorID, access.ActionManageUsers); err != nil {
		return nil, err
	}
	perms, err := s.checkMembership(ctx, in.RoleChange)
	if err != nil {
		return nil, err
	}
	u, err := newUser(in.Email, in.Telephone, in.Password, in.NationalID, in.Role)
	if err != nil {
		return nil, err
	}
	u.OrganizationID = in.OrganizationID
	u.Permissions = perms
	if err := s.d.Users.Create(ctx, u); err != nil {
		return nil, err
	}
	record(ctx, s.d, &actorID, model.AuditUserCreated, nil, map[string]string{
		"user_id": u.ID.String(),
		"role":    string(u.Role),
	})
	return u, nil
}

// SetRole implements DirectoryService. Admins cannot change their own role.
func (s *DirectoryServiceImpl) SetRole(ctx context.Context, actorID, userID uuid.UUID, in RoleChange) (*model.User, error) {
	if err := s.authorize(ctx, actorID, access.ActionManageUsers); err != nil {
		return nil, err
	}
	if actorID == userID {
		return nil, errs.Validation("cannot change own role")
	}
	u, err := s.d.Users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	var perms model.Capabilities
	if in.Role == model.RoleCitizen {
		if in.OrganizationID != nil || len(in.Permissions) > 0 {
			return nil, errs.Validation("citizens have no organization or permissions")
		}
		perms = model.Capabilities{}
	} else if perms, err = s.checkMembership(ctx, in); err != nil {
		return nil, err
	}

	from := u.Role
	u.Role = in.Role
	u.OrganizationID = in.OrganizationID
	u.Permissions = perms
	if err := s.d.Users.UpdateRole(ctx, u); err != nil {
		return nil, err
	}
	record(ctx, s.d, &actorID, model.AuditRoleChanged, nil, map[string]string{
		"user_id": u.ID.String(),
		"from":    string(from),
		"to":      string(u.Role),
	})
	return u, nil
}

// Deactivate implements DirectoryService. Accounts are never deleted.
func (s *DirectoryServiceImpl) Deactivate(ctx context.Context, actorID, userID uuid.UUID) error {
	if err := s.authorize(ctx, actorID, access.ActionManageUsers); err != nil {
		return err
	}
	if actorID == userID {
		return errs.Validation("cannot deactivate own account")
	}
	if err := s.d.Users.SetActive(ctx, userID, false); err != nil {
		return err
	}
	record(ctx, s.d, &actorID, model.AuditUserSuspended, nil, map[string]string{"user_id": userID.String()})
	return nil
}
