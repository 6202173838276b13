package limiter

import (
	"context"
	"crypto/sha256"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PG is a PostgreSQL-backed limiter implementation with sliding window and lockout.
type PG struct {
	pool   Querier
	policy Policy
	now    func() time.Time
}

// Querier is the subset of a pgx pool the limiter needs.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ Limiter = (*PG)(nil)

// NewPG constructs a PostgreSQL-backed limiter over the admin_limiter table.
func NewPG(q Querier, p Policy) *PG {
	return &PG{pool: q, policy: p, now: time.Now}
}

// HashIP returns a stable hash for an IP string to avoid storing raw addresses.
func HashIP(ip string) []byte {
	h := sha256.Sum256([]byte(ip))
	return h[:]
}

// Allow reports whether an attempt is currently allowed and a retry-after duration.
func (l *PG) Allow(ctx context.Context, principal string, ipHash []byte) (bool, time.Duration, error) {
	const q = `SELECT blocked_until FROM admin_limiter WHERE principal=$1 AND ip_hash=$2`
	var blockedUntil time.Time
	err := l.pool.QueryRow(ctx, q, principal, ipHash).Scan(&blockedUntil)
	switch {
	case err == nil:
		if left := blockedUntil.Sub(l.now()); left > 0 {
			return false, left, nil
		}
		return true, 0, nil
	case errors.Is(err, pgx.ErrNoRows):
		return true, 0, nil
	default:
		return false, 0, err
	}
}

// Success resets counters for (principal, ip).
func (l *PG) Success(ctx context.Context, principal string, ipHash []byte) error {
	const q = `
INSERT INTO admin_limiter (principal, ip_hash, fail_count, blocked_until, updated_at)
VALUES ($1,$2,0,'epoch',now())
ON CONFLICT (principal, ip_hash)
DO UPDATE SET fail_count=0, blocked_until='epoch', updated_at=now()`
	_, err := l.pool.Exec(ctx, q, principal, ipHash)
	return err
}

// Failure records a failed attempt; reaching MaxFails inside the window blocks the pair.
func (l *PG) Failure(ctx context.Context, principal string, ipHash []byte) (bool, time.Duration, error) {
	const q = `
INSERT INTO admin_limiter (principal, ip_hash, fail_count, blocked_until, updated_at)
VALUES ($1,$2,1,'epoch',now())
ON CONFLICT (principal, ip_hash) DO UPDATE
SET
  fail_count = CASE WHEN EXCLUDED.updated_at - admin_limiter.updated_at > $3::interval THEN 1 ELSE admin_limiter.fail_count + 1 END,
  updated_at = now()
RETURNING fail_count`
	var fails int
	if err := l.pool.QueryRow(ctx, q, principal, ipHash, l.policy.Window).Scan(&fails); err != nil {
		return false, 0, err
	}
	if fails < l.policy.MaxFails {
		return false, 0, nil
	}
	const upd = `UPDATE admin_limiter SET blocked_until=$3 WHERE principal=$1 AND ip_hash=$2`
	if _, err := l.pool.Exec(ctx, upd, principal, ipHash, l.now().Add(l.policy.BlockFor)); err != nil {
		return false, 0, err
	}
	return true, l.policy.BlockFor, nil
}

// Prune drops rows that are neither blocked nor touched within the window, so the
// table only holds pairs that still count toward a block.
func (l *PG) Prune(ctx context.Context) (int64, error) {
	const q = `DELETE FROM admin_limiter WHERE blocked_until < $1 AND updated_at < $2`
	now := l.now()
	tag, err := l.pool.Exec(ctx, q, now, now.Add(-l.policy.Window))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// PruneEvery runs Prune on each tick until ctx is done.
func (l *PG) PruneEvery(ctx context.Context, every time.Duration, onErr func(error)) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := l.Prune(ctx); err != nil && onErr != nil {
				onErr(err)
			}
		}
	}
}
