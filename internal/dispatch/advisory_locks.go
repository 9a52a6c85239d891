package dispatch

import (
	"context"
	"database/sql"
	"hash/fnv"
	"time"

	appErrors "github.com/unclebandit/wacampaign-backend/internal/errors"
)

// AdvisoryLocks implements PlanLocker with postgres session advisory
// locks, keyed on a hash of the plan id. The server's cancel/edit/cascade
// paths and the worker's tick run in separate processes; taking the lock
// in the shared database serializes them, so a tick can never commit a
// stale recipient set over a cascade applied from the other binary.
type AdvisoryLocks struct {
	DB *sql.DB
}

func NewAdvisoryLocks(db *sql.DB) *AdvisoryLocks {
	return &AdvisoryLocks{DB: db}
}

// lockKey hashes the plan id into the bigint keyspace advisory locks use.
func lockKey(planID string) int64 {
	h := fnv.New64a()
	h.Write([]byte(planID))
	return int64(h.Sum64())
}

// Acquire polls pg_try_advisory_lock until the deadline. Advisory locks
// are session-scoped, so the lock pins a dedicated connection until the
// release func runs.
func (l *AdvisoryLocks) Acquire(planID string, wait time.Duration) (func(), error) {
	ctx := context.Background()
	conn, err := l.DB.Conn(ctx)
	if err != nil {
		return nil, err
	}

	key := lockKey(planID)
	deadline := time.Now().Add(wait)
	for {
		var locked bool
		if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&locked); err != nil {
			conn.Close()
			return nil, err
		}
		if locked {
			return l.releaseFunc(conn, key), nil
		}
		if time.Now().After(deadline) {
			conn.Close()
			return nil, appErrors.NewPersistenceConflict(planID)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// AcquireBlocking waits on pg_advisory_lock without a deadline.
func (l *AdvisoryLocks) AcquireBlocking(planID string) func() {
	ctx := context.Background()
	key := lockKey(planID)
	for {
		conn, err := l.DB.Conn(ctx)
		if err == nil {
			if _, err = conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, key); err == nil {
				return l.releaseFunc(conn, key)
			}
			conn.Close()
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func (l *AdvisoryLocks) releaseFunc(conn *sql.Conn, key int64) func() {
	return func() {
		_, _ = conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, key)
		conn.Close()
	}
}

// Forget is a no-op: an advisory lock disappears with its session.
func (l *AdvisoryLocks) Forget(string) {}

var _ PlanLocker = (*AdvisoryLocks)(nil)
