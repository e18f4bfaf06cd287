// Package access decides whether an actor may perform an action on a resource.
//
// The policy is a fixed table keyed by role. Every request is evaluated from
// scratch against the actor's current role, organization and capabilities;
// nothing is cached between calls.
package access

import (
	"github.com/gofrs/uuid/v5"

	"github.com/and161185/docvault/internal/errs"
	"github.com/and161185/docvault/internal/model"
)

// Action is an operation subject to authorization.
type Action string

const (
	ActionUpload       Action = "upload"
	ActionViewMetadata Action = "view_metadata"
	ActionViewRaw      Action = "view_raw"
	ActionVerify       Action = "verify"
	ActionReject       Action = "reject"
	ActionIssue        Action = "issue"
	ActionManageUsers  Action = "manage_users"
	ActionManageOrgs   Action = "manage_orgs"
)

// Actor is the authenticated principal as seen by the evaluator.
type Actor struct {
	ID             uuid.UUID
	Role           model.Role
	OrganizationID *uuid.UUID
	Permissions    model.Capabilities
	Active         bool
}

// ActorFromUser projects a stored user.
func ActorFromUser(u *model.User) Actor {
	return Actor{
		ID:             u.ID,
		Role:           u.Role,
		OrganizationID: u.OrganizationID,
		Permissions:    u.Permissions,
		Active:         u.IsActive,
	}
}

// Request is one authorization question.
type Request struct {
	Actor Actor
	// Org is the actor's organization, loaded by the caller. Nil when the
	// actor has none or it could not be found.
	Org    *model.Organization
	Action Action
	// Document is the target for document actions. For upload and issue it
	// is the prospective record (owner and tags set).
	Document *model.Document
	// Organization is the target for manage_orgs on an existing org.
	Organization *model.Organization
	// StepUp is true when a valid step-up token was presented.
	StepUp bool
}

// Decision is the evaluator's answer.
type Decision struct {
	Allow  bool
	Reason errs.DenyReason
}

// Err converts a denial into a typed error, nil when allowed.
func (d Decision) Err() error {
	if d.Allow {
		return nil
	}
	return errs.Deny(d.Reason)
}

var allow = Decision{Allow: true}

func deny(r errs.DenyReason) Decision { return Decision{Reason: r} }

// Evaluator applies the role policy table.
type Evaluator struct{}

// NewEvaluator constructs an Evaluator.
func NewEvaluator() *Evaluator { return &Evaluator{} }

// Evaluate returns ALLOW or DENY with a reason. Rules are checked top-down
// and the first match wins.
func (e *Evaluator) Evaluate(req Request) Decision {
	a := req.Actor
	if !a.Active {
		return deny(errs.ReasonInactiveAccount)
	}
	if needsDocument(req.Action) && req.Document == nil {
		return deny(errs.ReasonResourceNotFound)
	}
	if d, ok := checkMembership(a, req.Org); !ok {
		return d
	}

	switch req.Action {
	case ActionViewRaw:
		if !req.StepUp {
			return deny(errs.ReasonRoleInsufficient)
		}
		return e.viewMetadata(a, req.Org, req.Document)
	case ActionViewMetadata:
		return e.viewMetadata(a, req.Org, req.Document)
	case ActionUpload:
		return e.upload(a, req.Org, req.Document)
	case ActionVerify, ActionReject:
		return e.verify(a, req.Org, req.Document)
	case ActionIssue:
		return e.issue(a, req.Org, req.Document)
	case ActionManageUsers, ActionManageOrgs:
		if a.Role == model.RoleGovAdmin {
			return allow
		}
		return deny(errs.ReasonRoleInsufficient)
	}
	return deny(errs.ReasonRoleInsufficient)
}

func needsDocument(a Action) bool {
	switch a {
	case ActionUpload, ActionViewMetadata, ActionViewRaw, ActionVerify, ActionReject, ActionIssue:
		return true
	}
	return false
}

// checkMembership enforces the org/tier invariants of government roles.
func checkMembership(a Actor, org *model.Organization) (Decision, bool) {
	switch {
	case a.Role == model.RoleCitizen:
		return allow, true
	case a.Role.MaxTier() == 0:
		return deny(errs.ReasonRoleInsufficient), false
	case a.Role.NeedsOrganization() && (a.OrganizationID == nil || org == nil):
		return deny(errs.ReasonOrganizationMismatch), false
	case org == nil:
		// national admin without an organization
		return allow, true
	case a.OrganizationID == nil || *a.OrganizationID != org.ID:
		return deny(errs.ReasonOrganizationMismatch), false
	case org.Tier < 1 || org.Tier > a.Role.MaxTier():
		return deny(errs.ReasonRoleInsufficient), false
	}
	return allow, true
}

func (e *Evaluator) viewMetadata(a Actor, org *model.Organization, d *model.Document) Decision {
	if d.OwnerUserID == a.ID {
		return allow
	}
	switch a.Role {
	case model.RoleGovAdmin:
		return allow
	case model.RoleGovOfficial:
		if inScope(a, org, model.VerbView, d.Tags) || inScope(a, org, model.VerbVerify, d.Tags) {
			return allow
		}
		return deny(errs.ReasonOrganizationMismatch)
	case model.RoleGovAssociate:
		if org != nil && d.IssuerOrgID != nil && *d.IssuerOrgID == org.ID {
			return allow
		}
		return deny(errs.ReasonOrganizationMismatch)
	}
	return deny(errs.ReasonRoleInsufficient)
}

func (e *Evaluator) upload(a Actor, org *model.Organization, d *model.Document) Decision {
	switch a.Role {
	case model.RoleCitizen:
		if d.OwnerUserID == a.ID {
			return allow
		}
		return deny(errs.ReasonRoleInsufficient)
	case model.RoleGovAssociate:
		if d.OwnerUserID == a.ID {
			return deny(errs.ReasonRoleInsufficient)
		}
		if inScope(a, org, model.VerbUpload, d.Tags) {
			return allow
		}
		return deny(errs.ReasonOrganizationMismatch)
	}
	return deny(errs.ReasonRoleInsufficient)
}

func (e *Evaluator) verify(a Actor, org *model.Organization, d *model.Document) Decision {
	switch a.Role {
	case model.RoleGovAdmin:
		return allow
	case model.RoleGovOfficial:
		if inScope(a, org, model.VerbVerify, d.Tags) {
			return allow
		}
		return deny(errs.ReasonOrganizationMismatch)
	}
	return deny(errs.ReasonRoleInsufficient)
}

func (e *Evaluator) issue(a Actor, org *model.Organization, d *model.Document) Decision {
	if d.OwnerUserID == a.ID {
		return deny(errs.ReasonRoleInsufficient)
	}
	switch a.Role {
	case model.RoleGovAdmin, model.RoleGovOfficial:
		return allow
	case model.RoleGovAssociate:
		if inScope(a, org, model.VerbIssue, d.Tags) {
			return allow
		}
		return deny(errs.ReasonOrganizationMismatch)
	}
	return deny(errs.ReasonRoleInsufficient)
}

// QueueScope returns the domains whose pending documents the actor may work
// on. all is true for national admins, who see every pending document.
func (e *Evaluator) QueueScope(a Actor, org *model.Organization) (domains []string, all bool, d Decision) {
	if !a.Active {
		return nil, false, deny(errs.ReasonInactiveAccount)
	}
	if d, ok := checkMembership(a, org); !ok {
		return nil, false, d
	}
	switch a.Role {
	case model.RoleGovAdmin:
		return nil, true, allow
	case model.RoleGovOfficial:
		return Scope(a, org, model.VerbVerify), false, allow
	}
	return nil, false, deny(errs.ReasonRoleInsufficient)
}

// Scope returns the routing domains the actor may act on for the verb:
// the organization's tags plus capability grants.
func Scope(a Actor, org *model.Organization, v model.Verb) []string {
	var out []string
	if org != nil {
		out = append(out, org.Tags...)
	}
	out = append(out, a.Permissions.Domains(v)...)
	return model.NormalizeTags(out)
}

func inScope(a Actor, org *model.Organization, v model.Verb, tags []string) bool {
	for _, s := range Scope(a, org, v) {
		for _, t := range tags {
			if s == t {
				return true
			}
		}
	}
	return false
}
