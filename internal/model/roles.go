package model

import (
	"fmt"
	"sort"
	"strings"
)

// Role is the closed set of account roles.
type Role string

const (
	RoleCitizen      Role = "citizen"
	RoleGovAdmin     Role = "gov_admin"
	RoleGovOfficial  Role = "gov_official"
	RoleGovAssociate Role = "gov_associate"
)

// ParseRole validates a stored or client-supplied role string.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.TrimSpace(strings.ToLower(s))); r {
	case RoleCitizen, RoleGovAdmin, RoleGovOfficial, RoleGovAssociate:
		return r, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// IsGov reports whether the role belongs to a government actor.
func (r Role) IsGov() bool { return r != RoleCitizen && r != "" }

// NeedsOrganization reports whether the role requires an organization.
func (r Role) NeedsOrganization() bool {
	return r == RoleGovOfficial || r == RoleGovAssociate
}

// MaxTier is the lowest-authority tier an org may have for members of this role.
// Zero means the role is not bound to an organization tier.
func (r Role) MaxTier() int {
	switch r {
	case RoleGovAdmin:
		return 1
	case RoleGovOfficial:
		return 2
	case RoleGovAssociate:
		return 3
	}
	return 0
}

// DocStatus is the lifecycle state of a document.
type DocStatus string

const (
	StatusPending  DocStatus = "PENDING_VERIFICATION"
	StatusVerified DocStatus = "VERIFIED"
	StatusRejected DocStatus = "REJECTED"
)

// CanTransition reports whether from -> to is a legal lifecycle edge.
func CanTransition(from, to DocStatus) bool {
	return from == StatusPending && (to == StatusVerified || to == StatusRejected)
}

// Verb is the action half of a capability.
type Verb string

const (
	VerbUpload Verb = "upload"
	VerbView   Verb = "view"
	VerbVerify Verb = "verify"
	VerbIssue  Verb = "issue"
)

// Capability grants one verb over one routing domain, e.g. "verify.education".
type Capability struct {
	Verb   Verb
	Domain string
}

func (c Capability) String() string { return string(c.Verb) + "." + c.Domain }

// ParseCapability validates "<verb>.<domain>".
func ParseCapability(s string) (Capability, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	verb, domain, ok := strings.Cut(s, ".")
	if !ok || domain == "" || strings.ContainsAny(domain, " \t") {
		return Capability{}, fmt.Errorf("malformed capability %q", s)
	}
	switch Verb(verb) {
	case VerbUpload, VerbView, VerbVerify, VerbIssue:
	default:
		return Capability{}, fmt.Errorf("unknown capability verb %q", verb)
	}
	return Capability{Verb: Verb(verb), Domain: domain}, nil
}

// Capabilities is a set of capabilities.
type Capabilities map[Capability]struct{}

// ParseCapabilities validates a list of capability strings.
func ParseCapabilities(in []string) (Capabilities, error) {
	out := make(Capabilities, len(in))
	for _, s := range in {
		c, err := ParseCapability(s)
		if err != nil {
			return nil, err
		}
		out[c] = struct{}{}
	}
	return out, nil
}

// Domains returns the domains granted for the verb.
func (cs Capabilities) Domains(v Verb) []string {
	var out []string
	for c := range cs {
		if c.Verb == v {
			out = append(out, c.Domain)
		}
	}
	sort.Strings(out)
	return out
}

// Strings returns the sorted string form, as persisted.
func (cs Capabilities) Strings() []string {
	out := make([]string, 0, len(cs))
	for c := range cs {
		out = append(out, c.String())
	}
	sort.Strings(out)
	return out
}

// NormalizeTags lower-cases, trims and de-duplicates tags, dropping empties.
func NormalizeTags(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, t := range in {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
