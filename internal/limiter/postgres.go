package limiter

import (
	"context"
	"crypto/sha256"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PG keeps attempt counters in the auth_limiter table so every API replica
// sees the same lockouts.
type PG struct {
	db       Querier
	window   time.Duration
	maxFails int
	blockFor time.Duration
	now      func() time.Time
}

// Querier is the subset of a pgx pool the limiter needs.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPG constructs a PostgreSQL-backed limiter. Failures older than window
// restart the count; maxFails failures inside it block for blockFor.
func NewPG(q Querier, window time.Duration, maxFails int, blockFor time.Duration) *PG {
	return &PG{db: q, window: window, maxFails: maxFails, blockFor: blockFor, now: time.Now}
}

// HashIP returns a stable hash for an IP string to avoid storing raw addresses.
func HashIP(ip string) []byte {
	h := sha256.Sum256([]byte(ip))
	return h[:]
}

const allowSQL = `SELECT blocked_until FROM auth_limiter WHERE subject=$1 AND ip_hash=$2`

// Allow implements Limiter.
func (l *PG) Allow(ctx context.Context, subject string, ipHash []byte) (bool, time.Duration, error) {
	var blockedUntil time.Time
	err := l.db.QueryRow(ctx, allowSQL, subject, ipHash).Scan(&blockedUntil)
	if errors.Is(err, pgx.ErrNoRows) {
		return true, 0, nil
	}
	if err != nil {
		return false, 0, err
	}
	if now := l.now(); blockedUntil.After(now) {
		return false, blockedUntil.Sub(now), nil
	}
	return true, 0, nil
}

const successSQL = `
INSERT INTO auth_limiter (subject, ip_hash, fail_count, blocked_until, updated_at)
VALUES ($1, $2, 0, 'epoch', $3)
ON CONFLICT (subject, ip_hash)
DO UPDATE SET fail_count=0, blocked_until='epoch', updated_at=$3`

// Success implements Limiter.
func (l *PG) Success(ctx context.Context, subject string, ipHash []byte) error {
	_, err := l.db.Exec(ctx, successSQL, subject, ipHash, l.now())
	return err
}

// failureSQL counts the attempt and sets the lockout in one statement, so two
// concurrent failures cannot both read a count below the threshold.
const failureSQL = `
INSERT INTO auth_limiter AS l (subject, ip_hash, fail_count, blocked_until, updated_at)
VALUES ($1, $2, 1, CASE WHEN $5::int <= 1 THEN $6::timestamptz ELSE 'epoch'::timestamptz END, $3)
ON CONFLICT (subject, ip_hash) DO UPDATE SET
  fail_count = CASE WHEN $3::timestamptz - l.updated_at > $4::interval THEN 1 ELSE l.fail_count + 1 END,
  blocked_until = CASE
    WHEN (CASE WHEN $3::timestamptz - l.updated_at > $4::interval THEN 1 ELSE l.fail_count + 1 END) >= $5::int
    THEN $6::timestamptz
    ELSE l.blocked_until
  END,
  updated_at = $3
RETURNING fail_count, blocked_until`

// Failure implements Limiter.
func (l *PG) Failure(ctx context.Context, subject string, ipHash []byte) (bool, time.Duration, error) {
	now := l.now()
	var (
		fails        int
		blockedUntil time.Time
	)
	err := l.db.QueryRow(ctx, failureSQL, subject, ipHash, now, l.window, l.maxFails, now.Add(l.blockFor)).
		Scan(&fails, &blockedUntil)
	if err != nil {
		return false, 0, err
	}
	if blockedUntil.After(now) {
		return true, blockedUntil.Sub(now), nil
	}
	return false, 0, nil
}
