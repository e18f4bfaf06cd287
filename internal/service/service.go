// Package service contains the application services: document lifecycle,
// step-up secure view, authentication and the government directory.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/docvault/internal/access"
	"github.com/and161185/docvault/internal/audit"
	"github.com/and161185/docvault/internal/errs"
	"github.com/and161185/docvault/internal/integrity"
	"github.com/and161185/docvault/internal/model"
	"github.com/and161185/docvault/internal/obs"
	"github.com/and161185/docvault/internal/repository"
	"github.com/and161185/docvault/internal/routing"
)

// EventPublisher hands lifecycle events to the notification layer without waiting.
type EventPublisher interface {
	Publish(ev model.Event)
}

// Deps are the collaborators shared by all services. Optional fields get
// harmless defaults.
type Deps struct {
	Users repository.UserRepository
	Orgs  repository.OrganizationRepository
	Docs  repository.DocumentRepository

	Audit   audit.Recorder
	Events  EventPublisher
	Routes  *routing.Table
	Anchor  integrity.Anchor
	Scorer  integrity.Scorer
	Metrics *obs.Metrics
	Log     *zap.Logger
	Now     func() time.Time
}

type discardEvents struct{}

func (discardEvents) Publish(model.Event) {}

func (d Deps) withDefaults() Deps {
	if d.Audit == nil {
		d.Audit = audit.Discard{}
	}
	if d.Events == nil {
		d.Events = discardEvents{}
	}
	if d.Routes == nil {
		d.Routes = routing.Default()
	}
	if d.Anchor == nil {
		d.Anchor = integrity.Noop{}
	}
	if d.Scorer == nil {
		d.Scorer = integrity.NoScore{}
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	return d
}

type ctxKey string

const clientIPKey ctxKey = "docvault.clientIP"

// WithClientIP stores the caller's address for audit entries.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}

// ClientIP returns the address stored by WithClientIP, or "".
func ClientIP(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey).(string)
	return ip
}

// loadActor resolves the acting user and their organization fresh on every
// call, so role, org and deactivation changes apply immediately.
func loadActor(ctx context.Context, d Deps, id uuid.UUID) (access.Actor, *model.Organization, error) {
	u, err := d.Users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return access.Actor{}, nil, errs.ErrUnauthorized
		}
		return access.Actor{}, nil, err
	}
	a := access.ActorFromUser(u)
	if u.OrganizationID == nil {
		return a, nil, nil
	}
	org, err := d.Orgs.GetByID(ctx, *u.OrganizationID)
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return a, nil, nil
	case err != nil:
		return access.Actor{}, nil, err
	}
	return a, org, nil
}

// record fills the request-scoped fields of an audit entry and hands it off.
func record(ctx context.Context, d Deps, actor *uuid.UUID, action model.AuditAction, doc *uuid.UUID, details map[string]string) {
	d.Audit.Record(model.AuditEntry{
		ActorID:     actor,
		Action:      action,
		TargetDocID: doc,
		Timestamp:   d.Now(),
		IPAddress:   ClientIP(ctx),
		Details:     details,
	})
}

func ptr[T any](v T) *T { return &v }
