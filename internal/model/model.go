// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Tokens collects an issued access token.
type Tokens struct {
	AccessToken string
	ExpiresAt   time.Time // access token expiry (for diagnostics)
}

// StepUpToken is a short-lived single-use credential for raw document views.
type StepUpToken struct {
	Token     string
	ID        string // jti
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// User represents an account stored on the server.
type User struct {
	ID             uuid.UUID  // PK
	Email          string     // unique, lower-case
	Telephone      string
	PasswordHash   string     // encoded argon2id, see internal/crypto
	NationalID     string     // optional, unique when set
	Role           Role       // closed set
	OrganizationID *uuid.UUID // nil for citizens and national admins
	Permissions    Capabilities
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// OrgType is the kind of government entity.
type OrgType string

const (
	OrgMinistry    OrgType = "ministry"
	OrgAgency      OrgType = "agency"
	OrgInstitution OrgType = "institution"
)

// Valid reports whether t is a known organization type.
func (t OrgType) Valid() bool {
	switch t {
	case OrgMinistry, OrgAgency, OrgInstitution:
		return true
	}
	return false
}

// Organization is a government entity. Tier 1 is national, 2 ministry, 3 institution.
type Organization struct {
	ID        uuid.UUID
	Name      string // unique
	Code      string // unique, upper-case
	Type      OrgType
	Tier      int
	Tags      []string // routing domains, lower-case
	CreatedAt time.Time
}

// HasTag reports whether the organization routes the given domain.
func (o *Organization) HasTag(tag string) bool {
	for _, t := range o.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Document is the central record. StorageURL never leaves the service
// except through the step-up gate.
type Document struct {
	ID                uuid.UUID
	OwnerUserID       uuid.UUID
	Title             string
	Type              string
	StorageURL        string
	Status            DocStatus
	UploadedBy        uuid.UUID
	IssuerOrgID       *uuid.UUID // org of the government uploader/issuer
	VerifiedBy        *uuid.UUID
	VerifiedAt        *time.Time
	VerificationNote  string
	RejectedBy        *uuid.UUID
	RejectedAt        *time.Time
	RejectionReason   string
	BlockchainHash    string // opaque anchor token
	AnchorTxID        string
	AuthenticityScore *float64
	Tags              []string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// DocumentMetadata is the client-facing projection of a Document. It has
// no storage URL field at all.
type DocumentMetadata struct {
	ID                uuid.UUID  `json:"id"`
	OwnerUserID       uuid.UUID  `json:"owner_user_id"`
	Title             string     `json:"title"`
	Type              string     `json:"type"`
	Status            DocStatus  `json:"status"`
	UploadedBy        uuid.UUID  `json:"uploaded_by"`
	IssuerOrgID       *uuid.UUID `json:"issuer_org_id,omitempty"`
	VerifiedBy        *uuid.UUID `json:"verified_by,omitempty"`
	VerifiedAt        *time.Time `json:"verified_at,omitempty"`
	VerificationNote  string     `json:"verification_note,omitempty"`
	RejectedBy        *uuid.UUID `json:"rejected_by,omitempty"`
	RejectedAt        *time.Time `json:"rejected_at,omitempty"`
	RejectionReason   string     `json:"rejection_reason,omitempty"`
	BlockchainHash    string     `json:"blockchain_hash,omitempty"`
	AuthenticityScore *float64   `json:"authenticity_score,omitempty"`
	Tags              []string   `json:"tags"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Metadata strips the storage URL.
func (d *Document) Metadata() DocumentMetadata {
	return DocumentMetadata{
		ID:                d.ID,
		OwnerUserID:       d.OwnerUserID,
		Title:             d.Title,
		Type:              d.Type,
		Status:            d.Status,
		UploadedBy:        d.UploadedBy,
		IssuerOrgID:       d.IssuerOrgID,
		VerifiedBy:        d.VerifiedBy,
		VerifiedAt:        d.VerifiedAt,
		VerificationNote:  d.VerificationNote,
		RejectedBy:        d.RejectedBy,
		RejectedAt:        d.RejectedAt,
		RejectionReason:   d.RejectionReason,
		BlockchainHash:    d.BlockchainHash,
		AuthenticityScore: d.AuthenticityScore,
		Tags:              append([]string{}, d.Tags...),
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}
}

// PublicVerification is what an anonymous verifier sees for a shared link.
type PublicVerification struct {
	ID             uuid.UUID  `json:"id"`
	Title          string     `json:"title"`
	Type           string     `json:"type"`
	Status         DocStatus  `json:"status"`
	VerifiedAt     *time.Time `json:"verified_at,omitempty"`
	BlockchainHash string     `json:"blockchain_hash,omitempty"`
}

// NewDocument carries caller-supplied metadata for upload and issue.
// Tags are never taken from the caller: they follow from Type via routing.
type NewDocument struct {
	Title      string
	Type       string
	StorageURL string
	Checksum   string // content digest reported by the storage layer, optional
	// Owner identifies the citizen (email or national id) when a government
	// associate uploads on their behalf. Empty means the actor owns it.
	Owner string
}

// Transition describes a CAS status change applied by the repository.
type Transition struct {
	DocID uuid.UUID
	From  DocStatus
	To    DocStatus
	Actor uuid.UUID
	At    time.Time
	Note  string // verification note or rejection reason
}

// AuditEntry is an append-only record of a state-changing or security action.
type AuditEntry struct {
	ID          string // ULID
	ActorID     *uuid.UUID
	Action      AuditAction
	TargetDocID *uuid.UUID
	Timestamp   time.Time
	IPAddress   string
	Details     map[string]string
}

// AuditAction names an audited action.
type AuditAction string

const (
	AuditDocumentUploaded AuditAction = "DOCUMENT_UPLOADED"
	AuditDocumentIssued   AuditAction = "DOCUMENT_ISSUED"
	AuditApproveDoc       AuditAction = "APPROVE_DOC"
	AuditRejectDoc        AuditAction = "REJECT_DOC"
	AuditLogin            AuditAction = "LOGIN"
	AuditLoginFailed      AuditAction = "LOGIN_FAILED"
	AuditUserSuspended    AuditAction = "USER_SUSPENDED"
	AuditUserCreated      AuditAction = "USER_CREATED"
	AuditRoleChanged      AuditAction = "ROLE_CHANGED"
	AuditOrgCreated       AuditAction = "ORG_CREATED"
	AuditStepUpGranted    AuditAction = "STEP_UP_GRANTED"
	AuditStepUpFailed     AuditAction = "STEP_UP_FAILED"
	AuditRawView          AuditAction = "RAW_VIEW"
	AuditStepUpReuse      AuditAction = "STEP_UP_TOKEN_REUSE"
)

// EventType names a notification sent to the notification layer.
type EventType string

const (
	EventDocumentVerified EventType = "DOCUMENT_VERIFIED"
	EventDocumentRejected EventType = "DOCUMENT_REJECTED"
	EventDocumentIssued   EventType = "DOCUMENT_ISSUED"
)

// Event is a document lifecycle notification.
type Event struct {
	Type       EventType `json:"type"`
	DocumentID uuid.UUID `json:"document_id"`
	OwnerID    uuid.UUID `json:"owner_id"`
	ActorID    uuid.UUID `json:"actor_id"`
	At         time.Time `json:"at"`
	Reason     string    `json:"reason,omitempty"`
}
