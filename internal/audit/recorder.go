// Package audit records security-relevant actions without blocking callers.
package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/docvault/internal/ids"
	"github.com/and161185/docvault/internal/model"
	"github.com/and161185/docvault/internal/obs"
	"github.com/and161185/docvault/internal/repository"
)

// Recorder accepts audit entries. Record never blocks and never fails the caller.
type Recorder interface {
	Record(e model.AuditEntry)
}

// Async writes entries to an AuditRepository from a bounded background queue.
// A full queue drops the entry with a warning; the primary operation has
// already committed by the time an entry is recorded.
type Async struct {
	repo         repository.AuditRepository
	log          *zap.Logger
	metrics      *obs.Metrics
	writeTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan model.AuditEntry
	done   chan struct{}
}

// NewAsync starts the writer goroutine. Call Close to drain it.
func NewAsync(repo repository.AuditRepository, size int, log *zap.Logger, m *obs.Metrics) *Async {
	a := &Async{
		repo:         repo,
		log:          log,
		metrics:      m,
		writeTimeout: 5 * time.Second,
		queue:        make(chan model.AuditEntry, size),
		done:         make(chan struct{}),
	}
	go a.run()
	return a
}

// Record stamps the entry with an id and time when missing and enqueues it.
func (a *Async) Record(e model.AuditEntry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.ID == "" {
		e.ID = ids.NewAt(e.Timestamp)
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.drop(e, "recorder closed")
		return
	}
	select {
	case a.queue <- e:
	default:
		a.drop(e, "queue full")
	}
}

func (a *Async) drop(e model.AuditEntry, why string) {
	a.metrics.AuditDropped()
	a.log.Warn("audit entry dropped",
		zap.String("reason", why),
		zap.String("action", string(e.Action)),
		zap.String("audit_id", e.ID),
	)
}

func (a *Async) run() {
	defer close(a.done)
	for e := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.writeTimeout)
		err := a.repo.Append(ctx, e)
		cancel()
		if err != nil {
			a.metrics.AuditDropped()
			a.log.Warn("audit write failed",
				zap.String("action", string(e.Action)),
				zap.String("audit_id", e.ID),
				zap.Error(err),
			)
		}
	}
}

// Close stops accepting entries and waits for queued ones to be written
// or for ctx to end.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return errors.Join(errors.New("audit queue not drained"), ctx.Err())
	}
}

// Discard drops every entry. Used by tools that do not audit.
type Discard struct{}

// Record implements Recorder.
func (Discard) Record(model.AuditEntry) {}
