package service

import (
	"context"
	"errors"
	"strings"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/docvault/internal/access"
	"github.com/and161185/docvault/internal/errs"
	"github.com/and161185/docvault/internal/integrity"
	"github.com/and161185/docvault/internal/model"
)

// DocumentService defines the document lifecycle and ownership views.
type DocumentService interface {
	// Upload creates a PENDING_VERIFICATION document owned by the actor, or
	// by the citizen named in in.Owner when a government associate uploads.
	Upload(ctx context.Context, actorID uuid.UUID, in model.NewDocument) (*model.Document, error)
	// Issue creates a VERIFIED document for the citizen identified by email or national id.
	Issue(ctx context.Context, issuerID uuid.UUID, citizen string, in model.NewDocument) (*model.Document, error)
	// Verify moves a pending document to VERIFIED.
	Verify(ctx context.Context, actorID, docID uuid.UUID, note string) (*model.Document, error)
	// Reject moves a pending document to REJECTED with a mandatory reason.
	Reject(ctx context.Context, actorID, docID uuid.UUID, reason string) (*model.Document, error)
	// Queue lists pending documents the actor may verify, oldest first.
	Queue(ctx context.Context, actorID uuid.UUID) ([]model.DocumentMetadata, error)
	// ListForUser lists the user's own documents without storage URLs.
	ListForUser(ctx context.Context, userID uuid.UUID) ([]model.DocumentMetadata, error)
	// GetByID returns one document's metadata if the actor may view it.
	GetByID(ctx context.Context, actorID, docID uuid.UUID) (model.DocumentMetadata, error)
	// VerifyPublic returns the anonymous verification view of a document.
	VerifyPublic(ctx context.Context, docID uuid.UUID) (model.PublicVerification, error)
}

type DocumentServiceImpl struct {
	d    Deps
	eval *access.Evaluator
}

// NewDocumentService constructs DocumentService.
func NewDocumentService(d Deps) *DocumentServiceImpl {
	return &DocumentServiceImpl{d: d.withDefaults(), eval: access.NewEvaluator()}
}

func validateNew(in model.NewDocument) (model.NewDocument, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Type = strings.TrimSpace(in.Type)
	in.StorageURL = strings.TrimSpace(in.StorageURL)
	in.Owner = strings.TrimSpace(in.Owner)
	switch {
	case in.Title == "":
		return in, errs.Validation("empty title")
	case in.Type == "":
		return in, errs.Validation("empty type")
	case in.StorageURL == "":
		return in, errs.Validation("empty storage url")
	}
	return in, nil
}

// authorize runs the evaluator and counts denials.
func (s *DocumentServiceImpl) authorize(req access.Request) error {
	dec := s.eval.Evaluate(req)
	if !dec.Allow {
		s.d.Metrics.Denied(string(req.Action), string(dec.Reason))
	}
	return dec.Err()
}

// resolveCitizen finds a citizen account by email or national id.
func (s *DocumentServiceImpl) resolveCitizen(ctx context.Context, ident string) (*model.User, error) {
	var (
		u   *model.User
		err error
	)
	if strings.Contains(ident, "@") {
		u, err = s.d.Users.GetByEmail(ctx, strings.ToLower(ident))
	} else {
		u, err = s.d.Users.GetByNationalID(ctx, ident)
	}
	if err != nil {
		return nil, err
	}
	if u.Role != model.RoleCitizen {
		return nil, errs.Validation("owner must be a citizen")
	}
	return u, nil
}

func (s *DocumentServiceImpl) newDocument(in model.NewDocument, owner, by uuid.UUID, org *model.Organization) *model.Document {
	now := s.d.Now()
	d := &model.Document{
		ID:          uuid.Must(uuid.NewV4()),
		OwnerUserID: owner,
		Title:       in.Title,
		Type:        in.Type,
		StorageURL:  in.StorageURL,
		Status:      model.StatusPending,
		UploadedBy:  by,
		Tags:        s.d.Routes.Domains(in.Type),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if org != nil {
		d.IssuerOrgID = &org.ID
	}
	return d
}

// score sets the authenticity score before the document is stored. Advisory.
func (s *DocumentServiceImpl) score(ctx context.Context, d *model.Document, checksum string) {
	score, err := s.d.Scorer.Score(ctx, d, checksum)
	if err != nil {
		s.d.Log.Warn("authenticity scoring failed", zap.String("document_id", d.ID.String()), zap.Error(err))
		return
	}
	d.AuthenticityScore = score
}

// anchor records a stored document in the integrity ledger. It runs after
// the insert so a failed create never consumes a ledger link. Advisory.
func (s *DocumentServiceImpl) anchor(ctx context.Context, d *model.Document, checksum string) {
	rc, err := s.d.Anchor.Anchor(ctx, integrity.Payload(d, checksum))
	if err != nil {
		s.d.Log.Warn("integrity anchor failed", zap.String("document_id", d.ID.String()), zap.Error(err))
		return
	}
	if rc.Hash == "" {
		return
	}
	if err := s.d.Docs.SetAnchor(ctx, d.ID, rc.Hash, rc.TxID); err != nil {
		s.d.Log.Warn("storing anchor receipt failed", zap.String("document_id", d.ID.String()), zap.Error(err))
		return
	}
	d.BlockchainHash, d.AnchorTxID = rc.Hash, rc.TxID
}

// Upload implements DocumentService.
func (s *DocumentServiceImpl) Upload(ctx context.Context, actorID uuid.UUID, in model.NewDocument) (*model.Document, error) {
	in, err := validateNew(in)
	if err != nil {
		return nil, err
	}
	actor, org, err := loadActor(ctx, s.d, actorID)
	if err != nil {
		return nil, err
	}

	doc := s.newDocument(in, actorID, actorID, nil)
	if actor.Role.IsGov() {
		doc.IssuerOrgID = orgID(org)
	}
	if in.Owner != "" {
		// Authorize with an unknown owner first so callers without upload
		// rights cannot probe for accounts.
		doc.OwnerUserID = uuid.Nil
		if err := s.authorize(access.Request{Actor: actor, Org: org, Action: access.ActionUpload, Document: doc}); err != nil {
			return nil, err
		}
		owner, err := s.resolveCitizen(ctx, in.Owner)
		if err != nil {
			return nil, err
		}
		doc.OwnerUserID = owner.ID
	}
	if err := s.authorize(access.Request{Actor: actor, Org: org, Action: access.ActionUpload, Document: doc}); err != nil {
		return nil, err
	}

	s.score(ctx, doc, in.Checksum)
	if err := s.d.Docs.Create(ctx, doc); err != nil {
		return nil, err
	}
	s.anchor(ctx, doc, in.Checksum)
	s.d.Metrics.Transition("upload", "ok")
	record(ctx, s.d, &actorID, model.AuditDocumentUploaded, &doc.ID, map[string]string{
		"type":  doc.Type,
		"owner": doc.OwnerUserID.String(),
	})
	return doc, nil
}

// Issue implements DocumentService.
func (s *DocumentServiceImpl) Issue(ctx context.Context, issuerID uuid.UUID, citizen string, in model.NewDocument) (*model.Document, error) {
	in, err := validateNew(in)
	if err != nil {
		return nil, err
	}
	citizen = strings.TrimSpace(citizen)
	if citizen == "" {
		return nil, errs.Validation("empty citizen identifier")
	}
	actor, org, err := loadActor(ctx, s.d, issuerID)
	if err != nil {
		return nil, err
	}

	doc := s.newDocument(in, uuid.Nil, issuerID, org)
	if err := s.authorize(access.Request{Actor: actor, Org: org, Action: access.ActionIssue, Document: doc}); err != nil {
		return nil, err
	}
	owner, err := s.resolveCitizen(ctx, citizen)
	if err != nil {
		return nil, err
	}
	doc.OwnerUserID = owner.ID
	if err := s.authorize(access.Request{Actor: actor, Org: org, Action: access.ActionIssue, Document: doc}); err != nil {
		return nil, err
	}

	doc.Status = model.StatusVerified
	doc.VerifiedBy = &issuerID
	doc.VerifiedAt = ptr(doc.CreatedAt)
	s.score(ctx, doc, in.Checksum)
	if err := s.d.Docs.Create(ctx, doc); err != nil {
		return nil, err
	}
	s.anchor(ctx, doc, in.Checksum)

	s.d.Metrics.Transition("issue", "ok")
	record(ctx, s.d, &issuerID, model.AuditDocumentIssued, &doc.ID, map[string]string{
		"type":  doc.Type,
		"owner": doc.OwnerUserID.String(),
	})
	s.d.Events.Publish(model.Event{
		Type:       model.EventDocumentIssued,
		DocumentID: doc.ID,
		OwnerID:    doc.OwnerUserID,
		ActorID:    issuerID,
		At:         doc.CreatedAt,
	})
	return doc, nil
}

// Verify implements DocumentService.
func (s *DocumentServiceImpl) Verify(ctx context.Context, actorID, docID uuid.UUID, note string) (*model.Document, error) {
	return s.transition(ctx, actorID, docID, model.StatusVerified, strings.TrimSpace(note))
}

// Reject implements DocumentService. Authorization is checked before the
// reason so unauthorized callers learn nothing about input rules.
func (s *DocumentServiceImpl) Reject(ctx context.Context, actorID, docID uuid.UUID, reason string) (*model.Document, error) {
	return s.transition(ctx, actorID, docID, model.StatusRejected, strings.TrimSpace(reason))
}

func (s *DocumentServiceImpl) transition(ctx context.Context, actorID, docID uuid.UUID, to model.DocStatus, text string) (*model.Document, error) {
	op, action := "verify", access.ActionVerify
	if to == model.StatusRejected {
		op, action = "reject", access.ActionReject
	}

	actor, org, err := loadActor(ctx, s.d, actorID)
	if err != nil {
		return nil, err
	}
	doc, err := s.d.Docs.GetByID(ctx, docID)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return nil, err
	}
	// A missing document is a resource_not_found denial.
	if err := s.authorize(access.Request{Actor: actor, Org: org, Action: action, Document: doc}); err != nil {
		return nil, err
	}
	if to == model.StatusRejected && text == "" {
		return nil, errs.ErrMissingReason
	}
	if doc.Status != model.StatusPending {
		s.d.Metrics.Transition(op, "conflict")
		return nil, errs.ErrInvalidStateTransition
	}

	updated, err := s.d.Docs.Transition(ctx, model.Transition{
		DocID: docID,
		From:  model.StatusPending,
		To:    to,
		Actor: actorID,
		At:    s.d.Now(),
		Note:  text,
	})
	switch {
	case errors.Is(err, errs.ErrInvalidStateTransition):
		s.d.Metrics.Transition(op, "conflict")
		return nil, err
	case errors.Is(err, errs.ErrNotFound):
		return nil, errs.Deny(errs.ReasonResourceNotFound)
	case err != nil:
		return nil, err
	}
	s.d.Metrics.Transition(op, "ok")

	ev := model.Event{DocumentID: docID, OwnerID: updated.OwnerUserID, ActorID: actorID, At: updated.UpdatedAt}
	if to == model.StatusVerified {
		record(ctx, s.d, &actorID, model.AuditApproveDoc, &docID, map[string]string{"note": text})
		ev.Type = model.EventDocumentVerified
	} else {
		record(ctx, s.d, &actorID, model.AuditRejectDoc, &docID, map[string]string{"reason": text})
		ev.Type = model.EventDocumentRejected
		ev.Reason = text
	}
	s.d.Events.Publish(ev)
	return updated, nil
}

// Queue implements DocumentService.
func (s *DocumentServiceImpl) Queue(ctx context.Context, actorID uuid.UUID) ([]model.DocumentMetadata, error) {
	actor, org, err := loadActor(ctx, s.d, actorID)
	if err != nil {
		return nil, err
	}
	domains, all, dec := s.eval.QueueScope(actor, org)
	if !dec.Allow {
		s.d.Metrics.Denied("queue", string(dec.Reason))
		return nil, dec.Err()
	}
	if !all && len(domains) == 0 {
		return []model.DocumentMetadata{}, nil
	}
	if all {
		domains = nil
	}
	docs, err := s.d.Docs.ListPending(ctx, domains)
	if err != nil {
		return nil, err
	}

	out := make([]model.DocumentMetadata, 0, len(docs))
	for i := range docs {
		if s.eval.Evaluate(access.Request{Actor: actor, Org: org, Action: access.ActionVerify, Document: &docs[i]}).Allow {
			out = append(out, docs[i].Metadata())
		}
	}
	return out, nil
}

// ListForUser implements DocumentService.
func (s *DocumentServiceImpl) ListForUser(ctx context.Context, userID uuid.UUID) ([]model.DocumentMetadata, error) {
	actor, _, err := loadActor(ctx, s.d, userID)
	if err != nil {
		return nil, err
	}
	if !actor.Active {
		return nil, errs.Deny(errs.ReasonInactiveAccount)
	}
	docs, err := s.d.Docs.ListByOwner(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]model.DocumentMetadata, 0, len(docs))
	for i := range docs {
		out = append(out, docs[i].Metadata())
	}
	return out, nil
}

// GetByID implements DocumentService.
func (s *DocumentServiceImpl) GetByID(ctx context.Context, actorID, docID uuid.UUID) (model.DocumentMetadata, error) {
	actor, org, err := loadActor(ctx, s.d, actorID)
	if err != nil {
		return model.DocumentMetadata{}, err
	}
	doc, err := s.d.Docs.GetByID(ctx, docID)
	if err != nil {
		return model.DocumentMetadata{}, err
	}
	if err := s.authorize(access.Request{Actor: actor, Org: org, Action: access.ActionViewMetadata, Document: doc}); err != nil {
		return model.DocumentMetadata{}, err
	}
	return doc.Metadata(), nil
}

// VerifyPublic implements DocumentService.
func (s *DocumentServiceImpl) VerifyPublic(ctx context.Context, docID uuid.UUID) (model.PublicVerification, error) {
	doc, err := s.d.Docs.GetByID(ctx, docID)
	if err != nil {
		return model.PublicVerification{}, err
	}
	return model.PublicVerification{
		ID:             doc.ID,
		Title:          doc.Title,
		Type:           doc.Type,
		Status:         doc.Status,
		VerifiedAt:     doc.VerifiedAt,
		BlockchainHash: doc.BlockchainHash,
	}, nil
}

func orgID(org *model.Organization) *uuid.UUID {
	if org == nil {
		return nil
	}
	return &org.ID
}
