// Package limiter throttles password attempts and places temporary lockouts.
package limiter

import (
	"context"
	"time"
)

// Limiter controls credential attempts per (subject, client) pair. The subject
// is an email for logins and a user key for step-up re-authentication.
type Limiter interface {
	// Allow reports whether an attempt is currently allowed and an optional retry-after.
	Allow(ctx context.Context, subject string, ipHash []byte) (bool, time.Duration, error)
	// Success resets counters after a successful attempt.
	Success(ctx context.Context, subject string, ipHash []byte) error
	// Failure records a failed attempt; may place a temporary block.
	Failure(ctx context.Context, subject string, ipHash []byte) (bool, time.Duration, error)
}
