package dispatch

import (
	"sync"
	"time"

	appErrors "github.com/unclebandit/wacampaign-backend/internal/errors"
)

// PlanLocker serializes mutation of a plan's pending set. The scheduler
// tick, a user-driven send-now and an opt-out cascade may all target the
// same plan; whoever holds the lock mutates, everyone else waits or backs
// off. The API and worker binaries must share one lock domain, so
// production uses AdvisoryLocks over the shared database; PlanLocks is
// the in-process implementation for tests and single-binary runs.
type PlanLocker interface {
	Acquire(planID string, wait time.Duration) (func(), error)
	AcquireBlocking(planID string) func()
	Forget(planID string)
}

// PlanLocks is the in-memory PlanLocker.
type PlanLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewPlanLocks() *PlanLocks {
	return &PlanLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *PlanLocks) get(planID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[planID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[planID] = m
	}
	return m
}

// Acquire takes the plan lock, giving up after wait and surfacing a
// PersistenceConflictError so the caller can retry the operation.
func (l *PlanLocks) Acquire(planID string, wait time.Duration) (func(), error) {
	m := l.get(planID)
	deadline := time.Now().Add(wait)
	for {
		if m.TryLock() {
			return m.Unlock, nil
		}
		if time.Now().After(deadline) {
			return nil, appErrors.NewPersistenceConflict(planID)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// AcquireBlocking waits for the lock without a deadline. The opt-out
// cascade uses this: it must block until in-flight sends for the plan
// complete or are provably not started.
func (l *PlanLocks) AcquireBlocking(planID string) func() {
	m := l.get(planID)
	m.Lock()
	return m.Unlock
}

// Forget drops the lock entry for a deleted plan.
func (l *PlanLocks) Forget(planID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.locks, planID)
}

var _ PlanLocker = (*PlanLocks)(nil)
